//go:build unix

package server

import (
	"context"
	"net"
	"syscall"
)

// listen binds addr with SO_REUSEADDR so a restarted server can take back a
// port whose old connections are still in TIME_WAIT.
func listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), "tcp", addr)
}
