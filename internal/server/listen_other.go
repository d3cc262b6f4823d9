//go:build !unix

package server

import (
	"context"
	"net"
)

func listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{}
	return lc.Listen(context.Background(), "tcp", addr)
}
