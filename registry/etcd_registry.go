// Package registry tells clients where language servers for a service live.
//
// The etcd implementation stores one key per server:
//
//	Key:   /mini-lsp/{Service}/{Addr}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL-based leases: if a server dies without deregistering, the
// lease expires and the entry disappears on its own.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/mini-lsp/"

func servicePrefix(service string) string { return keyPrefix + service + "/" }

func endpointKey(service, addr string) string { return servicePrefix(service) + addr }

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines

	// KeepAlive outlives the Register call, so leases hang off the registry's context
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client: c,
		ctx:    ctx,
		cancel: cancel,
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

// Register stores ep under a lease of ttl seconds and keeps the lease alive until
// Deregister or Close.
//
// Flow:
//  1. Grant a lease with the given TTL
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to renew the lease in the background
func (r *EtcdRegistry) Register(ctx context.Context, service string, ep Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	key := endpointKey(service, ep.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", key, err)
	}

	ch, err := r.client.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("registry: keepalive: %w", err)
	}
	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		slog.Debug("registry lease keepalive stopped", "key", key)
	}()

	r.mu.Lock()
	r.leases[key] = lease.ID
	r.mu.Unlock()
	return nil
}

// Deregister removes an endpoint and revokes its lease.
// Called during graceful shutdown before closing the listener.
func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	key := endpointKey(service, addr)
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("registry: delete %s: %w", key, err)
	}

	r.mu.Lock()
	leaseID, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, leaseID); err != nil {
			return fmt.Errorf("registry: revoke lease: %w", err)
		}
	}
	return nil
}

// Discover returns all currently registered endpoints for a service.
func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: discover %s: %w", service, err)
	}

	eps := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			slog.Warn("registry skipping malformed entry", "key", string(kv.Key), "error", err)
			continue
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// Watch uses etcd's server-push Watch API and re-reads the full list on every
// change, which is simpler than applying individual events.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, servicePrefix(service), clientv3.WithPrefix())
		for resp := range watchChan {
			if err := resp.Err(); err != nil {
				slog.Warn("registry watch error", "service", service, "error", err)
				continue
			}
			eps, err := r.Discover(ctx, service)
			if err != nil {
				slog.Warn("registry refresh failed", "service", service, "error", err)
				continue
			}
			select {
			case ch <- eps:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Close stops every KeepAlive and closes the etcd client. Leases then expire on
// their own.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
