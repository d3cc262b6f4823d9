package client

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cachemir/ringkv/internal/server"
	"github.com/cachemir/ringkv/pkg/config"
	"github.com/cachemir/ringkv/pkg/hash"
	"github.com/cachemir/ringkv/pkg/protocol"
)

var scenarioPorts = []int{1000, 6060, 8000, 9000}

// freePort returns a loopback port with nothing listening on it.
func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if err := ln.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return port
}

func startServer(t *testing.T, port int) *server.Server {
	t.Helper()

	srv, err := tryStartServer(port)
	if err != nil {
		t.Fatalf("Failed to start server on port %d: %v", port, err)
	}
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv
}

func tryStartServer(port int) (*server.Server, error) {
	cfg := config.DefaultServerConfig()
	cfg.Port = port
	cfg.LogLevel = "off"

	srv, err := server.New(cfg)
	if err != nil {
		return nil, err
	}
	go func() { _ = srv.Serve() }()
	return srv, nil
}

func testClientConfig(ports ...int) *config.ClientConfig {
	cfg := config.DefaultClientConfig()
	cfg.Ports = ports
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.ResponseTimeout = 300 * time.Millisecond
	cfg.PollInterval = 50 * time.Millisecond
	cfg.LogLevel = "off"
	return cfg
}

func newTestClient(t *testing.T, ports ...int) *Client {
	t.Helper()

	c := NewWithConfig(testClientConfig(ports...))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// requireUnreachable skips the test if anything listens on the given ports,
// since the scenario depends on them being dead.
func requireUnreachable(t *testing.T, ports ...int) {
	t.Helper()

	for _, p := range ports {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", p), 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			t.Skipf("Port %d is in use on this machine", p)
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func connectionFor(c *Client, port int) *Connection {
	for _, e := range c.ring.Entries() {
		if e.Port == port {
			return e.Node
		}
	}
	return nil
}

// expectedPort computes the successor of key among ports with a plain scan.
func expectedPort(key string, ports []int) int {
	entries := sortedByHash(ports)
	h := hash.Sum(key)
	for _, e := range entries {
		if e.hash >= h {
			return e.port
		}
	}
	return entries[0].port
}

type portHash struct {
	port int
	hash uint32
}

func sortedByHash(ports []int) []portHash {
	var out []portHash
	for _, p := range ports {
		ph := portHash{port: p, hash: hash.SumPort(p)}
		i := len(out)
		for i > 0 && out[i-1].hash > ph.hash {
			i--
		}
		out = append(out, portHash{})
		copy(out[i+1:], out[i:])
		out[i] = ph
	}
	return out
}

func TestClientNoServer(t *testing.T) {
	requireUnreachable(t, scenarioPorts...)
	c := newTestClient(t, scenarioPorts...)

	if len(c.Ports()) != len(scenarioPorts) {
		t.Fatalf("Expected %d ring entries, got %d", len(scenarioPorts), len(c.Ports()))
	}
	entries := c.ring.Entries()
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Hash > entries[i].Hash {
			t.Errorf("Ring not sorted at index %d", i)
		}
	}

	start := time.Now()
	if c.Put("key1", "val1") {
		t.Error("Put should fail with no server alive")
	}
	if value, found := c.Get("key1"); found || value != "" {
		t.Errorf("Get should miss with no server alive, got %q", value)
	}
	if elapsed := time.Since(start); elapsed > c.config.ResponseTimeout {
		t.Errorf("Requests with no server alive took %v", elapsed)
	}

	if _, err := c.get("key1"); !errors.Is(err, ErrNoServer) {
		t.Errorf("Expected ErrNoServer internally, got %v", err)
	}
}

func TestClientOneServer(t *testing.T) {
	requireUnreachable(t, 1000, 8000, 9000)
	srv, err := tryStartServer(6060)
	if err != nil {
		t.Skipf("Port 6060 unavailable: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown() })

	c := newTestClient(t, scenarioPorts...)

	conn, ok := c.selectSuccessor("key1")
	if !ok || conn.Port() != 6060 {
		t.Fatalf("Expected key1 to route to 6060, got %v", conn)
	}
	if !c.Put("key1", "val1") {
		t.Fatal("Put(key1, val1) failed")
	}
	if value, found := c.Get("key1"); !found || value != "val1" {
		t.Errorf("Expected (val1, true), got (%q, %t)", value, found)
	}
	if value, found := c.Get("key2"); found || value != "" {
		t.Errorf("Expected (\"\", false), got (%q, %t)", value, found)
	}
	if _, err := c.get("key2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound internally, got %v", err)
	}
}

func TestClientRejectsOversizedRequests(t *testing.T) {
	srv := startServer(t, freePort(t))
	c := newTestClient(t, srv.Port())

	if c.Put(strings.Repeat("k", protocol.MaxKeySize+1), "v") {
		t.Error("Put with oversized key should fail")
	}
	if c.Put("k", strings.Repeat("v", protocol.MaxValueSize+1)) {
		t.Error("Put with oversized value should fail")
	}
	if _, found := c.Get(strings.Repeat("k", protocol.MaxKeySize+1)); found {
		t.Error("Get with oversized key should miss")
	}
	if srv.Len() != 0 {
		t.Errorf("Oversized requests must not reach the server, store has %d keys", srv.Len())
	}
	if !connectionFor(c, srv.Port()).IsConnected() {
		t.Error("Validation failures must not mark the server dead")
	}

	if !c.Put(strings.Repeat("k", protocol.MaxKeySize), strings.Repeat("v", protocol.MaxValueSize)) {
		t.Error("Put at the size limits should succeed")
	}
}

func TestClientRoutesBySuccessor(t *testing.T) {
	ports := []int{freePort(t), freePort(t), freePort(t)}
	servers := make(map[int]*server.Server)
	for _, p := range ports {
		servers[p] = startServer(t, p)
	}
	c := newTestClient(t, ports...)

	counts := make(map[int]int)
	for i := 0; i < 60; i++ {
		key := fmt.Sprintf("key_%d", i)
		if !c.Put(key, "v") {
			t.Fatalf("Put %s failed", key)
		}
		counts[expectedPort(key, ports)]++
	}

	for _, p := range ports {
		if servers[p].Len() != counts[p] {
			t.Errorf("Server %d holds %d keys, expected %d", p, servers[p].Len(), counts[p])
		}
	}
}

func TestClientServerRestart(t *testing.T) {
	port := freePort(t)
	srv := startServer(t, port)
	c := newTestClient(t, port)

	if !c.Put("key1", "val1") {
		t.Fatal("Initial put failed")
	}

	if err := srv.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if c.Put("key1", "val2") {
		t.Error("Put to a stopped server should fail")
	}
	if connectionFor(c, port).IsConnected() {
		t.Error("Connection should be marked dead after a failed put")
	}

	startServer(t, port)
	if !waitFor(t, 2*time.Second, func() bool { return connectionFor(c, port).IsConnected() }) {
		t.Fatal("Health loop did not reconnect to the restarted server")
	}

	if !c.Put("key1", "val3") {
		t.Error("Put after restart should succeed")
	}
	if value, found := c.Get("key1"); !found || value != "val3" {
		t.Errorf("Expected (val3, true), got (%q, %t)", value, found)
	}
}

func TestClientPutTimesOutOnSilentServer(t *testing.T) {
	port, stop := silentListener(t)
	defer stop()

	cfg := testClientConfig(port)
	cfg.PollInterval = time.Hour
	c := NewWithConfig(cfg)
	t.Cleanup(func() { _ = c.Close() })
	if !connectionFor(c, port).IsConnected() {
		t.Fatal("Expected the client to connect to the listening port")
	}

	start := time.Now()
	if c.Put("key1", "val2") {
		t.Fatal("Put to a server that never answers should fail")
	}
	elapsed := time.Since(start)
	if elapsed < c.config.ResponseTimeout {
		t.Errorf("Put gave up after %v, before the %v response timeout", elapsed, c.config.ResponseTimeout)
	}
	if elapsed > c.config.ResponseTimeout+time.Second {
		t.Errorf("Put took %v, far beyond the %v response timeout", elapsed, c.config.ResponseTimeout)
	}

	if connectionFor(c, port).IsConnected() {
		t.Error("Timed-out server should be marked dead")
	}
	if c.Put("key1", "val3") {
		t.Error("Put should fail while the only server is dead")
	}
}

func TestClientFullServer(t *testing.T) {
	port := freePort(t)
	cfg := config.DefaultServerConfig()
	cfg.Port = port
	cfg.MaxConns = 1
	cfg.LogLevel = "off"
	srv, err := server.New(cfg)
	if err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	hog, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	put, _ := protocol.NewPutMessage("hog", "v")
	if err := protocol.WriteMessage(hog, put); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := protocol.ReadMessage(hog, time.Second); err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	c := newTestClient(t, port)
	if !connectionFor(c, port).IsConnected() {
		t.Fatal("A full server still completes the handshake")
	}
	if c.Put("key1", "val1") {
		t.Fatal("Put to a full server should fail")
	}

	_ = hog.Close()
	if !waitFor(t, 2*time.Second, func() bool { return c.Put("key1", "val1") }) {
		t.Fatal("Put did not succeed once the server had room")
	}
	if value, found := c.Get("key1"); !found || value != "val1" {
		t.Errorf("Expected (val1, true), got (%q, %t)", value, found)
	}
}

func TestClientFailover(t *testing.T) {
	ports := []int{freePort(t), freePort(t)}
	servers := map[int]*server.Server{
		ports[0]: startServer(t, ports[0]),
		ports[1]: startServer(t, ports[1]),
	}
	c := newTestClient(t, ports...)

	key := "failover-key"
	owner := expectedPort(key, ports)
	other := ports[0]
	if other == owner {
		other = ports[1]
	}

	if err := servers[owner].Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	// The first attempt discovers the dead owner; the next one moves on.
	_ = c.Put(key, "v")
	if !c.Put(key, "v") {
		t.Fatal("Put should fail over to the remaining server")
	}
	if servers[other].Len() != 1 {
		t.Errorf("Expected the surviving server to hold the key, it has %d keys", servers[other].Len())
	}
}

func TestClientConcurrentRequests(t *testing.T) {
	ports := []int{freePort(t), freePort(t)}
	for _, p := range ports {
		startServer(t, p)
	}
	cfg := testClientConfig(ports...)
	cfg.ResponseTimeout = 2 * time.Second
	c := NewWithConfig(cfg)
	t.Cleanup(func() { _ = c.Close() })

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if !c.Put(fmt.Sprintf("key_%d", i), fmt.Sprintf("value_%d", i)) {
				t.Errorf("Put key_%d failed", i)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, found := c.Get(fmt.Sprintf("key_%d", i))
			if !found || value != fmt.Sprintf("value_%d", i) {
				t.Errorf("Get key_%d: expected value_%d, got (%q, %t)", i, i, value, found)
			}
		}(i)
	}
	wg.Wait()
}

func TestClientCloseTwice(t *testing.T) {
	srv := startServer(t, freePort(t))
	c := NewWithConfig(testClientConfig(srv.Port()))

	if err := c.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	if connectionFor(c, srv.Port()).IsConnected() {
		t.Error("Close should disconnect every server")
	}
	if c.Put("k", "v") {
		t.Error("Put on a closed client should fail")
	}
}

func TestNewWithConfigPanicsOnInvalidConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for a config without ports")
		}
	}()
	NewWithConfig(testClientConfig())
}
