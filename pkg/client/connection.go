package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cachemir/ringkv/pkg/config"
	"github.com/cachemir/ringkv/pkg/hash"
	"github.com/cachemir/ringkv/pkg/protocol"
)

// Connection owns the socket to one server of the pool and tracks whether
// that server is alive.
//
// The socket is shared between request goroutines and the client's health
// loop. Reads of it take the shared side of mu; Connect and Disconnect take
// the exclusive side. A nil socket means "not connected".
//
// Requests on one Connection never overlap: reqMu holds for a whole
// send-then-receive exchange so responses cannot be paired with the wrong
// request.
type Connection struct {
	conn        net.Conn     // Current socket, nil when disconnected
	logger      *config.Logger
	address     string       // host:port
	dialTimeout time.Duration
	mu          sync.RWMutex // Protects conn
	reqMu       sync.Mutex   // Serializes exchanges
	port        int
	hash        uint32
}

// NewConnection records the server's ring position and tries to connect
// once. A failed attempt leaves the Connection disconnected; it is not
// reported to the caller.
func NewConnection(host string, port int, dialTimeout time.Duration, logger *config.Logger) *Connection {
	c := &Connection{
		address:     net.JoinHostPort(host, strconv.Itoa(port)),
		dialTimeout: dialTimeout,
		logger:      logger,
		port:        port,
		hash:        hash.SumPort(port),
	}
	_ = c.Connect()
	return c
}

// Connect opens a new socket to the server. On success it replaces the
// current socket, closing the old one if there was one. On failure the
// Connection is left disconnected. No retry is attempted.
//
// Success only means the TCP handshake completed. A server that is full
// (see config.ServerConfig.MaxConns) accepts and immediately closes, which
// surfaces as ErrEOF on the first Exchange.
func (c *Connection) Connect() error {
	dialer := &net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(context.Background(), "tcp", c.address)

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()

	if old != nil {
		c.closeConn(old)
	}

	if err != nil {
		c.logger.Debugf("Connect to %s failed: %v", c.address, err)
		return fmt.Errorf("connect %s: %w", c.address, err)
	}
	c.logger.Infof("Connected to server %s", c.address)
	return nil
}

// Disconnect closes the current socket, if any, and marks the Connection
// dead. Calling it on a dead Connection is a no-op.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	old := c.conn
	c.conn = nil
	c.mu.Unlock()

	if old != nil {
		c.closeConn(old)
		c.logger.Infof("Disconnected from server %s", c.address)
	}
}

// disconnectIf marks the Connection dead only if conn is still its current
// socket. A failure seen on a socket that the health loop has already
// replaced must not tear down the replacement.
func (c *Connection) disconnectIf(conn net.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	c.closeConn(conn)
	c.logger.Warnf("Marked server %s dead", c.address)
}

func (c *Connection) closeConn(conn net.Conn) {
	if err := conn.Close(); err != nil {
		c.logger.Debugf("Error closing connection to %s: %v", c.address, err)
	}
}

// IsConnected reports whether the Connection currently holds a socket.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Alive implements hash.Node.
func (c *Connection) Alive() bool {
	return c.IsConnected()
}

// Conn returns the current socket or nil. The socket may be closed by
// another goroutine at any time; callers that see an I/O error on it must
// call Disconnect.
func (c *Connection) Conn() net.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// Port returns the server's port.
func (c *Connection) Port() int {
	return c.port
}

// Hash returns the server's position on the ring.
func (c *Connection) Hash() uint32 {
	return c.hash
}

// Address returns the server's "host:port".
func (c *Connection) Address() string {
	return c.address
}

// Exchange sends req and waits up to responseTimeout for the reply.
// Any failure, including a timeout, marks the Connection dead so the health
// loop reconnects it later.
//
// Returns:
//   - the server's response
//   - ErrNoServer if the Connection is not connected
//   - an error wrapping protocol.ErrTimeout, ErrEOF or ErrIO otherwise
func (c *Connection) Exchange(req *protocol.Message, writeTimeout, responseTimeout time.Duration) (*protocol.Message, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	conn := c.Conn()
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoServer, c.address)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		c.disconnectIf(conn)
		return nil, fmt.Errorf("%w: set write deadline: %w", protocol.ErrIO, err)
	}
	if err := protocol.WriteMessage(conn, req); err != nil {
		c.disconnectIf(conn)
		return nil, err
	}
	c.logger.Debugf("Sent to %s: %s", c.address, req)

	resp, err := protocol.ReadMessage(conn, responseTimeout)
	if err != nil {
		c.disconnectIf(conn)
		return nil, err
	}
	c.logger.Debugf("Received from %s: %s", c.address, resp)
	return resp, nil
}
