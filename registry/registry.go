package registry

import (
	"context"
	"fmt"
	"mini-lsp/config"
	"time"
)

// Endpoint is one reachable language server.
type Endpoint struct {
	Addr     string `json:"addr"`
	Weight   int    `json:"weight"` // Weight for load balancing
	Version  string `json:"version,omitempty"`
	Language string `json:"language,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, service string, ep Endpoint, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]Endpoint, error)
	// Watch emits the full endpoint list after every change until ctx ends,
	// then closes the channel.
	Watch(ctx context.Context, service string) <-chan []Endpoint
}

// FromConfig opens the registry described by cfg. Static endpoints are registered
// under cfg.Service.
func FromConfig(cfg config.RegistryConfig, dialTimeout time.Duration) (Registry, error) {
	switch cfg.Kind {
	case "etcd":
		return NewEtcdRegistry(cfg.Endpoints, dialTimeout)
	case "static", "":
		reg := NewStaticRegistry()
		for _, ec := range cfg.Static {
			ep := Endpoint{Addr: ec.Addr, Weight: ec.Weight, Version: ec.Version, Language: ec.Language}
			if err := reg.Register(context.Background(), cfg.Service, ep, 0); err != nil {
				return nil, err
			}
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("registry: unknown kind %q", cfg.Kind)
	}
}
