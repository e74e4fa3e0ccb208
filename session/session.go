// Package session implements the client side of a JSON-RPC 2.0 conversation with a
// language server over one framed byte stream.
//
// Session multiplexes any number of concurrent calls over a single connection.
// Each request gets a unique id, and a background goroutine (recvLoop) continuously
// reads frames and routes responses to the caller waiting on that id. Frames nobody
// is waiting for (notifications, server-to-client requests, responses to unknown
// or abandoned ids) go to the sink in arrival order.
//
//	goroutine-1 ──Call(id=1)──┐
//	goroutine-2 ──Call(id=2)──┼──→ single stream ──→ language server
//	goroutine-3 ──Notify──────┘
//
//	recvLoop:  ←── response(id=2) → pending[2] → goroutine-2 wakes up
//	           ←── publishDiagnostics → sink
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mini-lsp/codec"
	"mini-lsp/message"
	"mini-lsp/middleware"
	"mini-lsp/protocol"
	"mini-lsp/transport"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTimeout means no matching response arrived before the deadline. The session
	// stays usable; the late response is drained and forwarded to the sink.
	ErrTimeout = errors.New("session: call timed out")
	// ErrClosed is returned to calls pending when Close is called, and to calls after it.
	ErrClosed = errors.New("session: closed")
)

// maxAbandoned bounds how many timed-out ids a session remembers while waiting
// for their late responses.
const maxAbandoned = 1024

// Sink receives every frame that is not the answer to a pending call. It runs on the
// reader goroutine, one frame at a time in wire order; a slow sink stalls all reads.
type Sink func(msg *message.Message)

// RequestHandler answers a server-to-client request. Returning a *message.Error sends
// that error object; any other error is reported as an internal error.
type RequestHandler func(ctx context.Context, req *message.Message) (any, error)

// Session owns a stream exclusively for its whole lifetime.
type Session struct {
	id     string
	conn   io.ReadWriteCloser
	dec    *protocol.Decoder
	codec  codec.Codec
	logger *slog.Logger

	sink        Sink
	reqHandler  RequestHandler
	callTimeout time.Duration
	handler     middleware.HandlerFunc

	sending sync.Mutex // write lock, also orders id allocation
	nextID  int64      // last id handed out, protected by sending

	mu        sync.Mutex
	pending   map[int64]chan *message.Message
	abandoned map[int64]struct{}
	err       error // terminal error, set once

	ctx      context.Context // cancelled on shutdown, parent of request handlers
	cancel   context.CancelFunc
	handlers sync.WaitGroup // in-flight RequestHandler goroutines
	done     chan struct{}
	recvDone chan struct{}
}

// New starts a session on an established stream. The session takes ownership of conn
// and closes it when the session ends.
func New(conn io.ReadWriteCloser, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:          uuid.NewString(),
		conn:        conn,
		dec:         protocol.NewDecoder(conn, o.decoderOpts...),
		codec:       o.codec,
		sink:        o.sink,
		reqHandler:  o.reqHandler,
		callTimeout: o.callTimeout,
		pending:     make(map[int64]chan *message.Message),
		abandoned:   make(map[int64]struct{}),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		recvDone:    make(chan struct{}),
	}
	s.logger = o.logger.With("session", s.id)
	s.handler = middleware.Chain(o.middlewares...)(s.roundTrip)

	go s.recvLoop()
	return s
}

// Dial connects to host:port and starts a session on the connection.
func Dial(ctx context.Context, host string, port int, opts ...Option) (*Session, error) {
	ch, err := transport.Dial(ctx, host, port)
	if err != nil {
		return nil, err
	}
	return New(ch, opts...), nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Done is closed once the session has ended, for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, or nil while the session is usable.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Call sends a request and waits for its response. The result is returned as raw
// JSON, exactly as the server sent it. A server error comes back as *message.Error.
func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := s.marshalParams(params)
	if err != nil {
		return nil, err
	}
	return s.handler(ctx, &message.Message{JSONRPC: message.Version, Method: method, Params: raw})
}

// CallResult is Call followed by decoding the result into result.
func (s *Session) CallResult(ctx context.Context, method string, params any, result any) error {
	raw, err := s.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := s.codec.Decode(raw, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Notify sends a notification. It never waits for an answer and does not use an id.
func (s *Session) Notify(ctx context.Context, method string, params any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := s.marshalParams(params)
	if err != nil {
		return err
	}
	body, err := s.codec.Encode(message.NewNotification(method, raw))
	if err != nil {
		return fmt.Errorf("encode %s notification: %w", method, err)
	}

	s.sending.Lock()
	defer s.sending.Unlock()
	if err := s.Err(); err != nil {
		return err
	}
	if err := protocol.WriteFrame(s.conn, body); err != nil {
		s.shutdown(err)
		return err
	}
	return nil
}

// Reply answers a server-to-client request received through the sink.
func (s *Session) Reply(id message.ID, result any, rpcErr *message.Error) error {
	var msg *message.Message
	if rpcErr != nil {
		msg = message.NewErrorResponse(id, rpcErr)
	} else {
		raw, err := s.marshalResult(result)
		if err != nil {
			return err
		}
		msg = message.NewResult(id, raw)
	}
	return s.writeMessage(msg)
}

// Close ends the session: pending calls fail with ErrClosed and the stream is released.
// It waits for the reader and request handlers, so it must not be called from a Sink
// or a RequestHandler.
func (s *Session) Close() error {
	s.shutdown(ErrClosed)
	<-s.recvDone
	s.handlers.Wait()
	return nil
}

// roundTrip is the innermost handler: allocate an id, write the request, wait.
// Each attempt a retry middleware makes passes through here, so the default call
// timeout bounds attempts, not the whole call.
func (s *Session) roundTrip(ctx context.Context, req *message.Message) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.callTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
			defer cancel()
		}
	}
	// Buffered so recvLoop never blocks on a caller that already gave up
	respChan := make(chan *message.Message, 1)

	s.sending.Lock()
	s.nextID++
	id := s.nextID
	msg := message.NewRequest(id, req.Method, req.Params)
	req.ID = msg.ID

	body, err := s.codec.Encode(msg)
	if err != nil {
		s.nextID-- // never written, hand it to the next call
		s.sending.Unlock()
		return nil, fmt.Errorf("encode %s request: %w", req.Method, err)
	}

	// Register BEFORE writing, the response may arrive before Write returns
	s.mu.Lock()
	if err := s.err; err != nil {
		s.mu.Unlock()
		s.nextID--
		s.sending.Unlock()
		return nil, err
	}
	s.pending[id] = respChan
	s.mu.Unlock()

	err = protocol.WriteFrame(s.conn, body)
	s.sending.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		s.shutdown(err)
		return nil, err
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, s.Err()
		}
		return resultOf(resp)
	case <-ctx.Done():
		if resp, ok := s.abandon(id, respChan); ok {
			// The response won the race against the deadline
			if resp == nil {
				return nil, s.Err()
			}
			return resultOf(resp)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s (id %d)", ErrTimeout, req.Method, id)
		}
		return nil, ctx.Err()
	}
}

func resultOf(resp *message.Message) (json.RawMessage, error) {
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// abandon stops waiting for id. If recvLoop already took the id off the pending
// table, its response (or the close) is already in respChan and is returned.
func (s *Session) abandon(id int64, respChan chan *message.Message) (*message.Message, bool) {
	s.mu.Lock()
	_, waiting := s.pending[id]
	if waiting {
		delete(s.pending, id)
		if s.err == nil {
			s.markAbandonedLocked(id)
		}
	}
	s.mu.Unlock()
	if waiting {
		return nil, false
	}
	return <-respChan, true
}

// markAbandonedLocked remembers id so its late response can be recognised. Only
// the newest maxAbandoned ids are kept; a response for a forgotten id still goes
// to the sink, it is just not logged as late. Caller holds s.mu.
func (s *Session) markAbandonedLocked(id int64) {
	s.abandoned[id] = struct{}{}
	if len(s.abandoned) <= maxAbandoned {
		return
	}
	// Ids grow monotonically, so the oldest entries are the smallest ids
	for old := range s.abandoned {
		if old <= id-maxAbandoned {
			delete(s.abandoned, old)
		}
	}
}

func (s *Session) writeMessage(msg *message.Message) error {
	body, err := s.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	s.sending.Lock()
	defer s.sending.Unlock()
	if err := s.Err(); err != nil {
		return err
	}
	if err := protocol.WriteFrame(s.conn, body); err != nil {
		s.shutdown(err)
		return err
	}
	return nil
}

func (s *Session) marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := s.codec.Encode(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return raw, nil
}

func (s *Session) marshalResult(result any) (json.RawMessage, error) {
	if raw, ok := result.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := s.codec.Encode(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return raw, nil
}
