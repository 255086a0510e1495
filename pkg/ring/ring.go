// Package ring places peers on a consistent hash ring. Gossip rounds use it
// to pick which peers to pull group records from.
package ring

import (
	"encoding/binary"
	"hash/fnv"
	"maps"
	"slices"
	"sort"
	"sync"
)

type Hasher func([]byte) uint32

type HashRing struct {
	mu       sync.RWMutex
	replicas int
	hash     Hasher
	points   []uint32          // sorted
	owners   map[uint32]string // point -> peerID
	nodes    map[string]string // peerID -> addr
}

func New(replicas int, h Hasher) *HashRing {
	if replicas <= 0 {
		replicas = 128
	}
	if h == nil {
		h = FNV32a
	}
	return &HashRing{
		replicas: replicas,
		hash:     h,
		owners:   make(map[uint32]string),
		nodes:    make(map[string]string),
	}
}

// Add places peerID on the ring. Adding a known peer only updates its address.
func (r *HashRing) Add(peerID, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[peerID]; ok {
		r.nodes[peerID] = addr
		return
	}
	r.nodes[peerID] = addr
	for i := 0; i < r.replicas; i++ {
		pt := r.hash(pointKey(peerID, i))
		r.owners[pt] = peerID
		r.points = append(r.points, pt)
	}
	slices.Sort(r.points)
}

func (r *HashRing) Remove(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[peerID]; !ok {
		return
	}
	delete(r.nodes, peerID)
	r.rebuild()
}

// Clear drops every peer. Used when a membership watch delivers a full
// snapshot.
func (r *HashRing) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.nodes)
	clear(r.owners)
	r.points = r.points[:0]
}

func (r *HashRing) rebuild() {
	r.points = r.points[:0]
	clear(r.owners)
	for id := range r.nodes {
		for i := 0; i < r.replicas; i++ {
			pt := r.hash(pointKey(id, i))
			r.owners[pt] = id
			r.points = append(r.points, pt)
		}
	}
	slices.Sort(r.points)
}

func (r *HashRing) Lookup(key []byte) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 {
		return ""
	}
	return r.owners[r.points[r.search(key)]]
}

// LookupN walks the ring clockwise from key and returns up to n distinct
// peers, skipping any listed in except.
func (r *HashRing) LookupN(key []byte, n int, except ...string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.points) == 0 || n <= 0 {
		return nil
	}
	idx := r.search(key)

	seen := make(map[string]struct{}, n+len(except))
	for _, id := range except {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, n)
	for i := 0; i < len(r.points) && len(out) < n; i++ {
		id := r.owners[r.points[(idx+i)%len(r.points)]]
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// search returns the index of the first point >= hash(key), wrapping.
func (r *HashRing) search(key []byte) int {
	h := r.hash(key)
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if idx == len(r.points) {
		idx = 0
	}
	return idx
}

func (r *HashRing) Addr(peerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.nodes[peerID]
	return a, ok
}

// Nodes returns a copy of the peerID -> addr table.
func (r *HashRing) Nodes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.nodes)
}

func (r *HashRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

func FNV32a(b []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(b)
	return h.Sum32()
}

func pointKey(peerID string, i int) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(i))
	return append([]byte(peerID), buf[:]...)
}
