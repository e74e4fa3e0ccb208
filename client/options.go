package client

import (
	"log/slog"
	"mini-lsp/session"
	"time"
)

type Option func(*Client)

// WithSessionOptions applies opts to every session the client opens.
func WithSessionOptions(opts ...session.Option) Option {
	return func(c *Client) { c.sessionOpts = append(c.sessionOpts, opts...) }
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}
