// Package client provides the ringkv client library.
//
// A Client holds one Connection per server port and places them on a
// consistent-hash ring. Each Put or Get is routed to the first live server
// clockwise from the key's hash. A server that fails to answer within the
// response timeout is marked dead, and a background health loop retries dead
// servers every poll interval until the Client is closed.
//
// Basic Usage:
//
//	c := client.New([]int{6060, 6061, 6062})
//	defer c.Close()
//
//	if !c.Put("user:123", "john_doe") {
//		log.Println("put failed")
//	}
//	if value, found := c.Get("user:123"); found {
//		fmt.Println(value)
//	}
//
// Advanced Configuration:
//
//	cfg := config.DefaultClientConfig()
//	cfg.Ports = []int{6060, 6061}
//	cfg.ResponseTimeout = 500 * time.Millisecond
//	cfg.PollInterval = time.Second
//	c := client.NewWithConfig(cfg)
//
// Data written to a server is not copied anywhere else. When the server
// responsible for a key dies, reads of that key go to the next live server
// and miss until the original server is back.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cachemir/ringkv/pkg/config"
	"github.com/cachemir/ringkv/pkg/hash"
	"github.com/cachemir/ringkv/pkg/protocol"
)

// Errors reported by the client below the boolean API.
var (
	// ErrNoServer means no server on the ring is alive.
	ErrNoServer = errors.New("no server alive")
	// ErrNotFound means the responsible server does not hold the key.
	ErrNotFound = errors.New("key not found")
	// ErrUnexpectedResponse means the server answered with the wrong type.
	ErrUnexpectedResponse = errors.New("unexpected response type")
	// ErrClosed means the Client has been closed.
	ErrClosed = errors.New("client closed")
)

// Client routes keys to a fixed pool of servers.
//
// The client is safe for concurrent use. Requests to different servers
// proceed in parallel; requests to the same server are serialized on its
// Connection.
type Client struct {
	config  *config.ClientConfig
	logger  *config.Logger
	ring    *hash.Ring[*Connection]
	done    chan struct{} // Closed by Close to wake the health loop
	wg      sync.WaitGroup
	closeMu sync.Mutex // Protects closed
	closed  bool
}

// New creates a Client for servers listening on ports of the default host,
// using default timeouts.
//
// Example:
//
//	c := client.New([]int{1000, 6060, 8000, 9000})
//	defer c.Close()
func New(ports []int) *Client {
	cfg := config.DefaultClientConfig()
	cfg.Ports = ports

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Client using cfg. Every port gets a Connection
// that tries to connect once immediately; unreachable servers start out
// dead and are retried by the health loop.
//
// Panics:
//   - If the configuration is invalid (fails validation)
func NewWithConfig(cfg *config.ClientConfig) *Client {
	return newClient(cfg, config.NewLogger(cfg.LogLevel, "[client] "))
}

// NewWithLogger is NewWithConfig with a caller-supplied logger.
func NewWithLogger(cfg *config.ClientConfig, logger *config.Logger) *Client {
	return newClient(cfg, logger)
}

func newClient(cfg *config.ClientConfig, logger *config.Logger) *Client {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid client config: %v", err))
	}

	c := &Client{
		config: cfg,
		logger: logger,
		ring:   hash.NewRing[*Connection](),
		done:   make(chan struct{}),
	}

	for _, port := range cfg.Ports {
		conn := NewConnection(cfg.Host, port, cfg.DialTimeout, logger)
		c.ring.Add(conn.Hash(), port, conn)
	}

	c.wg.Add(1)
	go c.pollDisconnected()

	return c
}

// Put stores value under key on the responsible server.
// Returns true once the server has acknowledged the write.
//
// False is returned without sending anything if the key or value is too
// large or if no server is alive; it is also returned when the server did
// not answer in time, in which case that server is marked dead.
func (c *Client) Put(key, value string) bool {
	if err := c.put(key, value); err != nil {
		c.logFailure("Put", key, err)
		return false
	}
	return true
}

// Get fetches the value stored under key.
// Returns the value and true on a hit. A miss, an oversized key, an
// unreachable pool and a timed-out server all return "" and false.
func (c *Client) Get(key string) (string, bool) {
	value, err := c.get(key)
	if err != nil {
		c.logFailure("Get", key, err)
		return "", false
	}
	return value, true
}

func (c *Client) logFailure(op, key string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.logger.Debugf("%s %q: %v", op, key, err)
	case errors.Is(err, protocol.ErrValidation):
		c.logger.Infof("%s %q rejected: %v", op, key, err)
	default:
		c.logger.Warnf("%s %q failed: %v", op, key, err)
	}
}

func (c *Client) put(key, value string) error {
	req, err := protocol.NewPutMessage(key, value)
	if err != nil {
		return err
	}

	resp, err := c.exchange(key, req)
	if err != nil {
		return err
	}
	if resp.Type != protocol.Ack {
		c.logger.Debugf("Put %q answered with %s", key, resp.Type)
	}
	return nil
}

func (c *Client) get(key string) (string, error) {
	req, err := protocol.NewGetMessage(key)
	if err != nil {
		return "", err
	}

	resp, err := c.exchange(key, req)
	if err != nil {
		return "", err
	}

	switch resp.Type {
	case protocol.Hit:
		return resp.Value, nil
	case protocol.Miss:
		return "", ErrNotFound
	default:
		return "", fmt.Errorf("%w: %s", ErrUnexpectedResponse, resp.Type)
	}
}

// exchange routes req to the successor of key and returns its response.
func (c *Client) exchange(key string, req *protocol.Message) (*protocol.Message, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	conn, ok := c.selectSuccessor(key)
	if !ok {
		return nil, ErrNoServer
	}

	return conn.Exchange(req, c.config.WriteTimeout, c.config.ResponseTimeout)
}

// selectSuccessor returns the live Connection responsible for key.
func (c *Client) selectSuccessor(key string) (*Connection, bool) {
	return c.ring.Successor(key)
}

// Ports returns the server ports in ring order.
func (c *Client) Ports() []int {
	entries := c.ring.Entries()
	ports := make([]int, len(entries))
	for i, e := range entries {
		ports[i] = e.Port
	}
	return ports
}

// Stats reports ring size and the number of live servers.
func (c *Client) Stats() map[string]interface{} {
	return c.ring.Stats()
}

// pollDisconnected is the health loop. Every PollInterval it reconnects
// each dead Connection, until Close is called.
func (c *Client) pollDisconnected() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		if c.isClosed() {
			return
		}

		for _, e := range c.ring.Entries() {
			if e.Node.IsConnected() {
				continue
			}
			if err := e.Node.Connect(); err == nil {
				c.logger.Infof("Server on port %d is back", e.Port)
			}
		}
	}
}

func (c *Client) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

// Close stops the health loop and disconnects from every server.
// Calling Close more than once is safe.
//
// Example:
//
//	c := client.New([]int{6060})
//	defer c.Close()
func (c *Client) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.closeMu.Unlock()

	c.wg.Wait()

	for _, e := range c.ring.Entries() {
		e.Node.Disconnect()
	}
	return nil
}
