// Package server implements the ringkv storage server.
//
// A server listens on one TCP port, accepts any number of clients and serves
// each of them on its own goroutine against a single shared cache. Requests
// on one connection are answered strictly in order; requests on different
// connections run concurrently, ordered only by the cache's reader/writer
// lock.
//
// Architecture:
//   - TCP listener bound with address reuse
//   - One handler goroutine per accepted connection
//   - Fixed-size binary protocol (pkg/protocol)
//   - Shared in-memory store (pkg/cache)
//
// Example usage:
//
//	srv, err := server.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	go srv.Serve()
//	defer srv.Shutdown()
package server

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/cachemir/ringkv/pkg/cache"
	"github.com/cachemir/ringkv/pkg/config"
	"github.com/cachemir/ringkv/pkg/protocol"
)

// ErrBind means the server could not acquire its listening port.
var ErrBind = errors.New("bind failed")

// Server is a single ringkv storage node.
//
// Example:
//
//	srv, err := server.New(&config.ServerConfig{Host: "127.0.0.1", Port: 6060, ...})
//	go func() {
//		if err := srv.Serve(); err != nil {
//			log.Printf("Server error: %v", err)
//		}
//	}()
//
//	// Later, stop accepting new clients
//	srv.Close()
type Server struct {
	cache    *cache.Cache // The shared store
	config   *config.ServerConfig
	logger   *config.Logger
	listener net.Listener // TCP listener for incoming connections
	conns    map[net.Conn]struct{}
	slots    chan struct{}  // One token per connection being served
	wg       sync.WaitGroup // Running handlers
	mu       sync.Mutex     // Protects conns and closing
	closing  bool
}

// New binds the server's listening socket. The server does not accept
// clients until Serve is called.
//
// Returns:
//   - A Server bound to cfg.Address()
//   - An error wrapping ErrBind if the port cannot be acquired
func New(cfg *config.ServerConfig) (*Server, error) {
	return NewWithLogger(cfg, config.NewLogger(cfg.LogLevel, fmt.Sprintf("[server:%d] ", cfg.Port)))
}

// NewWithLogger is New with a caller-supplied logger.
func NewWithLogger(cfg *config.ServerConfig, logger *config.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	listener, err := listen(cfg.Address())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBind, cfg.Address(), err)
	}
	logger.Infof("ringkv server listening on %s", listener.Addr())

	return &Server{
		cache:    cache.New(),
		config:   cfg,
		logger:   logger,
		listener: listener,
		conns:    make(map[net.Conn]struct{}),
		slots:    make(chan struct{}, cfg.MaxConns),
	}, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the port the server is listening on.
func (s *Server) Port() int {
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return s.config.Port
}

// Serve accepts clients until the listener is closed, starting a handler
// goroutine for each one. It returns nil once Close or Shutdown has closed
// the listener. Other accept errors are logged and accepting continues.
func (s *Server) Serve() error {
	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.logger.Infof("Listener closed, no longer accepting connections")
				return nil
			}
			delay = acceptBackoff(delay)
			s.logger.Warnf("Failed to accept connection: %v; retrying in %v", err, delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		select {
		case s.slots <- struct{}{}:
		default:
			s.logger.Warnf("Rejecting %s: %d connections already open", conn.RemoteAddr(), s.config.MaxConns)
			s.closeConn(conn)
			continue
		}

		if !s.track(conn) {
			s.closeConn(conn)
			<-s.slots
			continue
		}
		go s.handleConnection(conn)
	}
}

// Accept retry delays double from minAcceptDelay up to maxAcceptDelay.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

func acceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	if next := prev * 2; next < maxAcceptDelay {
		return next
	}
	return maxAcceptDelay
}

// Close stops accepting new connections. Connections already being served
// continue until their client goes away.
func (s *Server) Close() error {
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Shutdown closes the listener and every open client connection, then waits
// for all handlers to return.
func (s *Server) Shutdown() error {
	err := s.Close()

	s.mu.Lock()
	s.closing = true
	for conn := range s.conns {
		s.closeConn(conn)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Len returns the number of keys in the store.
func (s *Server) Len() int {
	return s.cache.Len()
}

// track registers conn with the server. It returns false once Shutdown has
// started, in which case the caller must drop conn.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConn(conn net.Conn) {
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debugf("Error closing connection: %v", err)
	}
}

// handleConnection serves one client until it disconnects or an I/O error
// occurs. Requests with an unknown type are logged and get no reply.
func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		s.untrack(conn)
		s.closeConn(conn)
		<-s.slots
		s.wg.Done()
	}()

	remote := conn.RemoteAddr()
	s.logger.Debugf("Accepted connection from %s", remote)

	for {
		req, err := protocol.ReadMessage(conn, protocol.WaitForever)
		if err != nil {
			if errors.Is(err, protocol.ErrEOF) {
				s.logger.Debugf("Client %s disconnected", remote)
			} else {
				s.logger.Warnf("Failed to read request from %s: %v", remote, err)
			}
			return
		}
		s.logger.Debugf("Received request from %s: %s", remote, req)

		resp := s.executeRequest(req)
		if resp == nil {
			s.logger.Warnf("Invalid message type received from %s: %s", remote, req.Type)
			continue
		}

		if err := conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
			s.logger.Warnf("Error setting write deadline for %s: %v", remote, err)
			return
		}
		if err := protocol.WriteMessage(conn, resp); err != nil {
			s.logger.Warnf("Failed to write response to %s: %v", remote, err)
			return
		}
		s.logger.Debugf("Sent response to %s: %s", remote, resp)
	}
}

// executeRequest applies req to the store and returns the response, or nil
// if req is not a request type.
func (s *Server) executeRequest(req *protocol.Message) *protocol.Message {
	switch req.Type {
	case protocol.PutRequest:
		return s.handlePut(req)
	case protocol.GetRequest:
		return s.handleGet(req)
	default:
		return nil
	}
}

func (s *Server) handlePut(req *protocol.Message) *protocol.Message {
	s.cache.Set(req.Key, req.Value)
	if s.logger.Enabled(config.LevelDebug) {
		s.dumpStore()
	}
	return protocol.NewAckMessage()
}

func (s *Server) handleGet(req *protocol.Message) *protocol.Message {
	value, ok := s.cache.Get(req.Key)
	if !ok {
		return protocol.NewMissMessage()
	}
	return protocol.NewHitMessage(value)
}

func (s *Server) dumpStore() {
	snap := s.cache.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s.logger.Debugf("KV store state (%d keys):", len(keys))
	for _, k := range keys {
		s.logger.Debugf("\t%s -> %s", k, snap[k])
	}
}
