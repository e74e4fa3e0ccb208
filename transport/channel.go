// Package transport owns the raw duplex byte stream to a language server.
//
// Channel is a byte pipe only: it connects, writes whole buffers, and hands back
// whatever bytes the socket has. Framing and buffering live in the protocol package.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
)

// ErrConnection marks a failed connect or write. The stream is unusable afterwards.
var ErrConnection = errors.New("transport: connection error")

// Channel wraps one connected stream socket.
type Channel struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to host:port over TCP. Nothing is left open when it fails.
func Dial(ctx context.Context, host string, port int) (*Channel, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, addr, err)
	}
	return NewChannel(conn), nil
}

// DialAddr is Dial for an already joined "host:port" address.
func DialAddr(ctx context.Context, addr string) (*Channel, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid port %q", ErrConnection, portStr)
	}
	return Dial(ctx, host, port)
}

// NewChannel takes ownership of an established connection.
func NewChannel(conn net.Conn) *Channel {
	return &Channel{conn: conn}
}

// Write writes all of p, retrying partial writes.
func (c *Channel) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := c.conn.Write(p[written:])
		written += n
		if err != nil {
			return written, fmt.Errorf("%w: write: %w", ErrConnection, err)
		}
		if n == 0 {
			return written, fmt.Errorf("%w: write: %w", ErrConnection, io.ErrShortWrite)
		}
	}
	return written, nil
}

// ReadSome returns between 1 and max bytes. An empty result with a nil error
// means the peer closed its side in an orderly way.
func (c *Channel) ReadSome(max int) ([]byte, error) {
	if max <= 0 {
		return nil, fmt.Errorf("transport: invalid read size %d", max)
	}
	buf := make([]byte, max)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		if errors.Is(err, io.EOF) {
			return buf[:0], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Read adapts ReadSome to io.Reader, reporting orderly close as io.EOF.
func (c *Channel) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := c.ReadSome(len(p))
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, io.EOF
	}
	return copy(p, b), nil
}

// CloseWrite half-closes the stream when the connection supports it.
func (c *Channel) CloseWrite() error {
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := c.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

// Close releases the socket. It is safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr reports the peer address.
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
