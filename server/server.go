// Package server implements a small JSON-RPC peer speaking the LSP base protocol.
// It stands in for a language server in integration tests and in the lspctl
// self-test, and is enough to script servers that push notifications or send
// requests of their own.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → notification: run inline, so didOpen is applied before the next frame
//	  → request:      go handleRequest (parallel processing)
//	    → Middleware Chain → dispatch (method table) → Codec.Encode → write response
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mini-lsp/codec"
	"mini-lsp/message"
	"mini-lsp/middleware"
	"mini-lsp/registry"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Handler serves one method. Returning a *message.Error sends that error object;
// any other error is reported as an internal error. For notifications the result
// is discarded.
type Handler func(ctx context.Context, conn *Conn, params json.RawMessage) (any, error)

// Server is the JSON-RPC peer.
type Server struct {
	hmu         sync.RWMutex
	handlers    map[string]Handler      // method name → handler
	onConnect   func(*Conn)             // called for each accepted connection before reading
	middlewares []middleware.Middleware // Registered middlewares (applied in order)
	handler     middleware.HandlerFunc  // The final handler chain: middleware(middleware(...(dispatch)))
	codec       codec.Codec
	logger      *slog.Logger

	registry      registry.Registry // nil if not using discovery
	service       string
	advertiseAddr string // Different from listen address (":2087") because clients need a routable IP
	ttl           int64

	mu       sync.Mutex
	listener net.Listener
	conns    map[*Conn]struct{}
	ready    chan struct{} // closed once the listener is set

	wg       sync.WaitGroup // Tracks in-flight requests for graceful shutdown
	shutdown atomic.Bool    // Set to true during shutdown to suppress Accept errors
}

// NewServer creates a server with an empty method table.
func NewServer(opts ...Option) *Server {
	s := &Server{
		handlers: make(map[string]Handler),
		codec:    codec.GetCodec(codec.CodecTypeJSON),
		logger:   slog.Default(),
		conns:    make(map[*Conn]struct{}),
		ready:    make(chan struct{}),
		ttl:      10,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers the handler for method, replacing any previous one.
func (svr *Server) Handle(method string, h Handler) {
	svr.hmu.Lock()
	defer svr.hmu.Unlock()
	svr.handlers[method] = h
}

// OnConnect registers a callback run for every accepted connection before its
// first frame is read. Use it to push server-initiated traffic.
func (svr *Server) OnConnect(fn func(*Conn)) {
	svr.onConnect = fn
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on the given address and serves until Shutdown.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener serves connections accepted from l until Shutdown. It registers
// the server with its registry, if any, once the listener is in place.
func (svr *Server) ServeListener(l net.Listener) error {
	// Build the middleware chain once at startup (not per-request)
	// Chain(A, B, C)(handler) → A(B(C(handler)))
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)

	svr.mu.Lock()
	svr.listener = l
	svr.mu.Unlock()
	close(svr.ready)

	if svr.registry != nil {
		addr := svr.advertiseAddr
		if addr == "" {
			addr = l.Addr().String()
		}
		svr.advertiseAddr = addr
		ep := registry.Endpoint{Addr: addr, Weight: 1}
		if err := svr.registry.Register(context.Background(), svr.service, ep, svr.ttl); err != nil {
			l.Close()
			return fmt.Errorf("server: register %s: %w", svr.service, err)
		}
	}

	// Accept loop: one goroutine per connection
	for {
		conn, err := l.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			// Check the shutdown flag to distinguish intentional close from real errors.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr blocks until the server is listening and returns the listen address.
func (svr *Server) Addr() net.Addr {
	<-svr.ready
	svr.mu.Lock()
	defer svr.mu.Unlock()
	return svr.listener.Addr()
}

// handleConn processes a single TCP connection.
// Reads must be sequential to keep frame boundaries, but every request is handed
// to its own goroutine; the per-connection write lock keeps their responses from
// interleaving.
func (svr *Server) handleConn(nc net.Conn) {
	c := newConn(svr, nc)
	if !svr.track(c) {
		c.Close()
		return
	}
	defer svr.untrack(c)
	defer c.Close()

	if svr.onConnect != nil {
		svr.onConnect(c)
	}

	for {
		msg, err := c.readMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				svr.logger.Debug("connection ended", "remote", nc.RemoteAddr().String(), "error", err)
			}
			return
		}
		if msg == nil {
			continue // malformed body, already logged
		}

		switch msg.Kind() {
		case message.KindRequest:
			// Without `go`, a slow handler would block every later frame on this connection
			svr.wg.Add(1)
			go func() {
				defer svr.wg.Done()
				svr.handleRequest(c, msg)
			}()
		case message.KindNotification:
			svr.handleNotification(c, msg)
		case message.KindResponse:
			c.deliverResponse(msg)
		}
	}
}

// handleRequest runs one request through the middleware chain and writes the response.
func (svr *Server) handleRequest(c *Conn, req *message.Message) {
	// Keep our own copy: middleware may rewrite req.ID on the way through
	id := *req.ID
	result, err := svr.handler(withConn(c.ctx, c), req)

	var resp *message.Message
	var rpcErr *message.Error
	switch {
	case err == nil:
		resp = message.NewResult(id, result)
	case errors.As(err, &rpcErr):
		resp = message.NewErrorResponse(id, rpcErr)
	default:
		resp = message.NewErrorResponse(id, message.NewError(message.CodeInternalError, "%v", err))
	}
	if err := c.write(resp); err != nil {
		svr.logger.Warn("failed to write response", "method", req.Method, "error", err)
	}
}

func (svr *Server) handleNotification(c *Conn, msg *message.Message) {
	if _, err := svr.handler(withConn(c.ctx, c), msg); err != nil {
		svr.logger.Debug("notification not handled", "method", msg.Method, "error", err)
	}
}

// dispatch is the innermost handler: look the method up and run it.
func (svr *Server) dispatch(ctx context.Context, req *message.Message) (json.RawMessage, error) {
	svr.hmu.RLock()
	h, ok := svr.handlers[req.Method]
	svr.hmu.RUnlock()
	if !ok {
		return nil, message.NewError(message.CodeMethodNotFound, "method not found: %s", req.Method)
	}
	result, err := h(ctx, connFrom(ctx), req.Params)
	if err != nil {
		return nil, err
	}
	if raw, ok := result.(json.RawMessage); ok {
		return raw, nil
	}
	return svr.codec.Encode(result)
}

func (svr *Server) track(c *Conn) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[c] = struct{}{}
	return true
}

func (svr *Server) untrack(c *Conn) {
	svr.mu.Lock()
	delete(svr.conns, c)
	svr.mu.Unlock()
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry (clients stop routing to this server)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Close every open connection
func (svr *Server) Shutdown(timeout time.Duration) error {
	// Step 1: Deregister FIRST, so clients stop sending new requests
	if svr.registry != nil && svr.advertiseAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := svr.registry.Deregister(ctx, svr.service, svr.advertiseAddr); err != nil {
			svr.logger.Warn("deregister failed", "service", svr.service, "error", err)
		}
		cancel()
	}

	// Step 2: Set shutdown flag BEFORE closing listener
	// If we close first, the Accept error fires before the flag is set,
	// and Serve() would return a real error instead of nil
	svr.mu.Lock()
	svr.shutdown.Store(true)
	l := svr.listener
	svr.mu.Unlock()
	if l != nil {
		l.Close()
	}

	// Step 3: Wait for in-flight requests with timeout
	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	svr.mu.Lock()
	conns := make([]*Conn, 0, len(svr.conns))
	for c := range svr.conns {
		conns = append(conns, c)
	}
	svr.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	return err
}
