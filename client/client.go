// Package client spreads LSP sessions over the language servers a registry knows
// about. It keeps one multiplexed Session per server address and replaces a
// session once its stream has failed.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mini-lsp/loadbalance"
	"mini-lsp/registry"
	"mini-lsp/session"
	"mini-lsp/transport"
	"sync"
	"time"
)

// ErrClientClosed is returned by every method after Close.
var ErrClientClosed = errors.New("client: closed")

type Client struct {
	registry    registry.Registry // find language servers for a service
	balancer    loadbalance.Balancer
	sessionOpts []session.Option
	dialTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session // one session per server address
	closed   bool
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	c := &Client{
		registry:    reg,
		balancer:    bal,
		dialTimeout: 5 * time.Second,
		logger:      slog.Default(),
		sessions:    make(map[string]*session.Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns a live session to the server the balancer picks for key.
func (c *Client) Session(ctx context.Context, service, key string) (*session.Session, error) {
	// Get endpoints from registry
	eps, err := c.registry.Discover(ctx, service)
	if err != nil {
		return nil, err
	}

	// Select an endpoint using load balancer
	ep, err := c.balancer.Pick(key, eps)
	if err != nil {
		return nil, fmt.Errorf("client: %s: %w", service, err)
	}
	return c.sessionFor(ctx, ep.Addr)
}

// Call sends a request to a server of service and decodes the result into result,
// which may be nil. The document URI in params, if any, is the affinity key.
func (c *Client) Call(ctx context.Context, service, method string, params, result any) error {
	s, err := c.Session(ctx, service, documentKey(params))
	if err != nil {
		return err
	}
	return s.CallResult(ctx, method, params, result)
}

// Notify sends a notification to the server Call would pick for the same params.
func (c *Client) Notify(ctx context.Context, service, method string, params any) error {
	s, err := c.Session(ctx, service, documentKey(params))
	if err != nil {
		return err
	}
	return s.Notify(ctx, method, params)
}

// Close ends every session.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := c.sessions
	c.sessions = make(map[string]*session.Session)
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return nil
}

func (c *Client) sessionFor(ctx context.Context, addr string) (*session.Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if s, ok := c.sessions[addr]; ok && s.Err() == nil {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	// Dial without the lock, a slow server must not stall sessions to the others
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	ch, err := transport.DialAddr(dialCtx, addr)
	if err != nil {
		return nil, err
	}
	fresh := session.New(ch, c.sessionOpts...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		fresh.Close()
		return nil, ErrClientClosed
	}
	// Another caller may have dialed the same address meanwhile
	if s, ok := c.sessions[addr]; ok && s.Err() == nil {
		go fresh.Close()
		return s, nil
	}
	if old, ok := c.sessions[addr]; ok {
		c.logger.Info("replacing failed session", "addr", addr, "session", old.ID(), "error", old.Err())
	}
	c.sessions[addr] = fresh
	c.logger.Debug("session opened", "addr", addr, "session", fresh.ID())
	return fresh, nil
}

// documentKey pulls params.textDocument.uri out of params, so every request about
// one document lands on the same server under consistent hashing.
func documentKey(params any) string {
	if params == nil {
		return ""
	}
	raw, ok := params.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return ""
		}
	}
	var p struct {
		TextDocument struct {
			URI string `json:"uri"`
		} `json:"textDocument"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	return p.TextDocument.URI
}
