// Package loadbalance picks which language server handles a session.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  servers of different size
//   - ConsistentHash:  document affinity, the same workspace or URI keeps landing
//     on the server that already indexed it
package loadbalance

import (
	"errors"
	"fmt"
	"mini-lsp/registry"
)

// ErrNoEndpoints is returned when the endpoint list is empty.
var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// Balancer is the interface for load balancing strategies.
// The client calls Pick() whenever it needs a session for a key.
type Balancer interface {
	// Pick selects one endpoint from the available list. key is the affinity key
	// (usually a workspace or document URI); strategies without affinity ignore it.
	// Must be goroutine-safe.
	Pick(key string, eps []registry.Endpoint) (registry.Endpoint, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name, as spelled in config files.
func New(name string) (Balancer, error) {
	switch name {
	case "round_robin", "":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
