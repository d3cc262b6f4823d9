// Package ringkv is a minimal distributed key-value store: a pool of
// independent single-node servers, each holding an in-memory map, and a
// client library that routes every key to one server by consistent hashing.
//
// # Architecture Overview
//
//   - Server (internal/server): TCP server, one goroutine per client, shared
//     map under a reader/writer lock
//   - Client SDK (pkg/client): consistent-hash routing, per-server Connection
//     with health state, background reconnect loop
//   - Protocol (pkg/protocol): fixed 1104-byte frames, NUL-padded key and value
//   - Hashing (pkg/hash): SHA-256 based ring positions and successor lookup
//   - Store (pkg/cache): the server's map
//   - Configuration (pkg/config): flags, RINGKV_ environment variables, logging
//
// # Quick Start
//
// Servers:
//
//	ringkv-server 6060 &
//	ringkv-server 6061 &
//
// Client:
//
//	import "github.com/cachemir/ringkv/pkg/client"
//
//	c := client.New([]int{6060, 6061})
//	defer c.Close()
//
//	c.Put("user:123", "john_doe")
//	value, found := c.Get("user:123")
//
// # Failure Handling
//
// A server that does not answer within the response timeout (2s by default)
// is marked dead and skipped by routing; keys it owned go to the next live
// server on the ring. Every poll interval (5s by default) the client tries
// to reconnect to dead servers. Data is not replicated or moved, so a key
// written to a server that later dies is unavailable until it comes back.
//
// # Limits
//
//   - Keys up to 100 bytes, values up to 1000 bytes
//   - Keys and values end at their first NUL byte
//   - Ring membership is fixed when the client starts
//   - No persistence, authentication or encryption
//
// # Package Structure
//
//   - pkg/client: Client SDK
//   - pkg/cache: In-memory store
//   - pkg/protocol: Wire protocol
//   - pkg/hash: Hash function and ring
//   - pkg/config: Configuration and logging
//   - internal/server: Server implementation
//   - cmd/server: Server executable
//   - cmd/client: Interactive client shell
package ringkv
