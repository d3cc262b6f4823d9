// Package hash provides the hash function and consistent-hash ring used to
// route keys to servers.
//
// Servers are placed on the ring by hashing their port number as a decimal
// string, and keys are located by hashing the key with the same function, so
// both live in one 32-bit space. Membership is fixed once the ring is built;
// only the liveness of each node changes.
//
// Example usage:
//
//	ring := hash.NewRing[*client.Connection]()
//	for _, port := range []int{6060, 6061, 6062} {
//		conn := client.NewConnection("127.0.0.1", port, time.Second, logger)
//		ring.Add(hash.SumPort(port), port, conn)
//	}
//
//	// First live node clockwise from the key's hash
//	conn, ok := ring.Successor("user:123")
package hash

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
	"sync"
)

// Sum computes the 32-bit ring position of s from the first 4 bytes of its
// SHA-256 digest. It is deterministic across runs and processes.
func Sum(s string) uint32 {
	h := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint32(h[:4])
}

// SumPort hashes a port number the way servers are placed on the ring.
func SumPort(port int) uint32 {
	return Sum(strconv.Itoa(port))
}

// Node is anything that can sit on the ring and report whether it is
// currently reachable.
type Node interface {
	Alive() bool
}

// Entry is one server's position on the ring.
type Entry[N Node] struct {
	Node N      // Owned per-server state
	Hash uint32 // SumPort(Port)
	Port int    // Server port on the configured host
}

// Ring is a consistent-hash ring ordered ascending by hash. Equal hashes
// keep their insertion order.
type Ring[N Node] struct {
	mu      sync.RWMutex
	entries []Entry[N]
}

// NewRing creates an empty ring.
func NewRing[N Node]() *Ring[N] {
	return &Ring[N]{}
}

// Add inserts a node at position hash. If hash ties with or exceeds the last
// entry it is appended; otherwise it goes before the first entry whose hash
// is greater.
func (r *Ring[N]) Add(hash uint32, port int, node N) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := Entry[N]{Hash: hash, Port: port, Node: node}
	n := len(r.entries)
	if n == 0 || hash >= r.entries[n-1].Hash {
		r.entries = append(r.entries, entry)
		return
	}

	idx := r.upperBound(hash)
	r.entries = append(r.entries, Entry[N]{})
	copy(r.entries[idx+1:], r.entries[idx:])
	r.entries[idx] = entry
}

// upperBound returns the index of the first entry with a hash greater than
// hash. Caller must hold mu.
func (r *Ring[N]) upperBound(hash uint32) int {
	lo, hi := 0, len(r.entries)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if r.entries[mid].Hash <= hash {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Successor returns the node responsible for key. See SuccessorOf.
func (r *Ring[N]) Successor(key string) (N, bool) {
	return r.SuccessorOf(Sum(key))
}

// SuccessorOf returns the first live node whose hash is >= h. If no live
// node lies at or after h it wraps around to the first live node on the
// ring. The boolean is false when no node is alive.
func (r *Ring[N]) SuccessorOf(h uint32) (N, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var first N
	foundFirst := false
	for _, e := range r.entries {
		if !e.Node.Alive() {
			continue
		}
		if e.Hash >= h {
			return e.Node, true
		}
		if !foundFirst {
			first = e.Node
			foundFirst = true
		}
	}
	return first, foundFirst
}

// Entries returns a copy of the ring in ascending hash order.
func (r *Ring[N]) Entries() []Entry[N] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry[N], len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of nodes on the ring.
func (r *Ring[N]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Stats returns the number of nodes on the ring and how many are alive.
//
// Returns:
//   - Map containing statistics:
//   - "nodes": number of entries on the ring
//   - "alive": number of entries whose node is currently alive
func (r *Ring[N]) Stats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	alive := 0
	for _, e := range r.entries {
		if e.Node.Alive() {
			alive++
		}
	}
	return map[string]interface{}{
		"nodes": len(r.entries),
		"alive": alive,
	}
}
