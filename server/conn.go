package server

import (
	"context"
	"errors"
	"fmt"
	"mini-lsp/message"
	"mini-lsp/protocol"
	"net"
	"sync"
	"sync/atomic"
)

const responseBuffer = 16

// Conn is one client connection as seen by the server.
type Conn struct {
	srv     *Server
	nc      net.Conn
	dec     *protocol.Decoder
	writeMu sync.Mutex // Per-connection write lock, shared by all requests on this conn

	nextID    atomic.Int64 // ids of server-to-client requests
	responses chan *message.Message

	ctx       context.Context // cancelled when the connection closes
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newConn(srv *Server, nc net.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		srv:       srv,
		nc:        nc,
		dec:       protocol.NewDecoder(nc),
		responses: make(chan *message.Message, responseBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RemoteAddr returns the client's address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Context is cancelled when the connection closes.
func (c *Conn) Context() context.Context { return c.ctx }

// Notify sends a notification to the client.
func (c *Conn) Notify(method string, params any) error {
	raw, err := c.encodeParams(method, params)
	if err != nil {
		return err
	}
	return c.write(message.NewNotification(method, raw))
}

// Request sends a server-to-client request and returns its id. The client's
// answer arrives on Responses.
func (c *Conn) Request(method string, params any) (message.ID, error) {
	raw, err := c.encodeParams(method, params)
	if err != nil {
		return message.ID{}, err
	}
	id := message.NewStringID(fmt.Sprintf("srv-%d", c.nextID.Add(1)))
	return id, c.write(message.NewRequestWithID(id, method, raw))
}

// Responses delivers the client's answers to Request, in arrival order.
func (c *Conn) Responses() <-chan *message.Message { return c.responses }

// Close closes the connection; the read loop then exits.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.nc.Close()
	})
	return err
}

// readMessage returns the next message, or nil with no error when a body was
// framed correctly but is not a JSON-RPC message. The stream stays aligned in
// that case, so the connection survives.
func (c *Conn) readMessage() (*message.Message, error) {
	body, err := c.dec.Decode()
	if err != nil {
		if errors.Is(err, protocol.ErrProtocol) {
			c.srv.logger.Warn("dropping malformed body", "error", err)
			return nil, nil
		}
		return nil, err
	}
	msg, err := message.Parse(body)
	if err != nil {
		c.srv.logger.Warn("dropping malformed message", "error", err)
		return nil, nil
	}
	return msg, nil
}

func (c *Conn) deliverResponse(msg *message.Message) {
	select {
	case c.responses <- msg:
	default:
		c.srv.logger.Warn("response buffer full, dropping client response", "id", msg.ID)
	}
}

func (c *Conn) encodeParams(method string, params any) ([]byte, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := c.srv.codec.Encode(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return raw, nil
}

func (c *Conn) write(msg *message.Message) error {
	body, err := c.srv.codec.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.nc, body)
}

type connKey struct{}

func withConn(ctx context.Context, c *Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

// connFrom returns the connection a request arrived on. Middleware sees the same
// context, so it can use it too.
func connFrom(ctx context.Context) *Conn {
	c, _ := ctx.Value(connKey{}).(*Conn)
	return c
}
