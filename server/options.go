package server

import (
	"log/slog"
	"mini-lsp/registry"
)

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegistry announces the server under service once it is listening.
// advertiseAddr may be empty to use the listener's address.
func WithRegistry(reg registry.Registry, service, advertiseAddr string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.service = service
		s.advertiseAddr = advertiseAddr
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}
