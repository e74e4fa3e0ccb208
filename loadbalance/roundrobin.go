package loadbalance

import (
	"mini-lsp/registry"
	"sync/atomic"
)

// RoundRobinBalancer hands out endpoints in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobinBalancer struct {
	counter atomic.Uint64 // incremented on each Pick()
}

func (b *RoundRobinBalancer) Pick(_ string, eps []registry.Endpoint) (registry.Endpoint, error) {
	if len(eps) == 0 {
		return registry.Endpoint{}, ErrNoEndpoints
	}
	index := (b.counter.Add(1) - 1) % uint64(len(eps))
	return eps[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
