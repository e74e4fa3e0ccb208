package loadbalance

import (
	"fmt"
	"hash/crc32"
	"mini-lsp/registry"
	"slices"
	"sort"
	"strings"
	"sync"
)

const defaultReplicas = 100

// ConsistentHashBalancer maps keys to endpoints using a hash ring.
// The same key always maps to the same endpoint until the ring changes, so a
// document keeps talking to the server that already has it open.
//
// Virtual nodes: each real endpoint is mapped to N virtual nodes on the ring.
// Without virtual nodes, 3 endpoints might cluster together on the ring,
// causing uneven load distribution.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu        sync.RWMutex
	signature string                       // sorted addrs the ring was built from
	ring      []uint32                     // Sorted hash values on the ring
	nodes     map[uint32]registry.Endpoint // Hash value → endpoint mapping
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per endpoint.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: defaultReplicas,
		nodes:    make(map[uint32]registry.Endpoint),
	}
}

// addLocked places an endpoint onto the hash ring with N virtual nodes.
// Each virtual node is hashed from "{addr}#{i}" to spread evenly across the ring.
func (b *ConsistentHashBalancer) addLocked(ep registry.Endpoint) {
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", ep.Addr, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = ep
	}
}

// Pick finds the endpoint responsible for key. The ring is rebuilt first when eps
// differs from the set it was built from.
func (b *ConsistentHashBalancer) Pick(key string, eps []registry.Endpoint) (registry.Endpoint, error) {
	if len(eps) == 0 {
		return registry.Endpoint{}, ErrNoEndpoints
	}
	b.sync(eps)

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lookup(key), nil
}

func (b *ConsistentHashBalancer) sync(eps []registry.Endpoint) {
	sig := signatureOf(eps)
	b.mu.RLock()
	same := sig == b.signature
	b.mu.RUnlock()
	if same {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if sig == b.signature {
		return
	}
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]registry.Endpoint, len(eps)*b.replicas)
	for _, ep := range eps {
		b.addLocked(ep)
	}
	// Keep the ring sorted for binary search in lookup()
	slices.Sort(b.ring)
	b.signature = sig
}

// lookup hashes the key, then binary-searches for the first node >= hash on the ring.
// If the hash is larger than all nodes, it wraps around to the first node.
func (b *ConsistentHashBalancer) lookup(key string) registry.Endpoint {
	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]]
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}

func signatureOf(eps []registry.Endpoint) string {
	addrs := make([]string, len(eps))
	for i, ep := range eps {
		addrs[i] = ep.Addr
	}
	slices.Sort(addrs)
	return strings.Join(addrs, ",")
}
