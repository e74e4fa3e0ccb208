package registry

import (
	"context"
	"slices"
	"sync"
)

// StaticRegistry keeps endpoints in memory. It serves fixed deployments where the
// servers are listed in the config file, and tests that need no etcd. TTLs are
// ignored.
type StaticRegistry struct {
	mu       sync.Mutex
	services map[string][]Endpoint
	watchers map[string][]chan []Endpoint
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		services: make(map[string][]Endpoint),
		watchers: make(map[string][]chan []Endpoint),
	}
}

// Register adds ep, replacing an endpoint with the same address.
func (r *StaticRegistry) Register(ctx context.Context, service string, ep Endpoint, ttl int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	eps := r.services[service]
	if i := slices.IndexFunc(eps, func(e Endpoint) bool { return e.Addr == ep.Addr }); i >= 0 {
		eps[i] = ep
	} else {
		eps = append(eps, ep)
	}
	r.services[service] = eps
	r.notifyLocked(service)
	return nil
}

func (r *StaticRegistry) Deregister(ctx context.Context, service string, addr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	eps := r.services[service]
	i := slices.IndexFunc(eps, func(e Endpoint) bool { return e.Addr == addr })
	if i < 0 {
		return nil
	}
	r.services[service] = slices.Delete(eps, i, i+1)
	r.notifyLocked(service)
	return nil
}

// Discover returns a copy of the endpoint list.
func (r *StaticRegistry) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.services[service]), nil
}

// Watch only keeps the newest list when the reader falls behind.
func (r *StaticRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)
	r.mu.Lock()
	r.watchers[service] = append(r.watchers[service], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		r.watchers[service] = slices.DeleteFunc(r.watchers[service], func(c chan []Endpoint) bool { return c == ch })
		close(ch)
	}()
	return ch
}

func (r *StaticRegistry) notifyLocked(service string) {
	for _, ch := range r.watchers[service] {
		snapshot := slices.Clone(r.services[service])
		// Replace a stale unread list with the current one
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
