// Package protocol implements the base framing of the Language Server Protocol.
//
// Every message is a header block followed by a JSON body. The only header the
// protocol guarantees is Content-Length, which gives the exact body size in bytes.
// The receiver reads headers up to the blank line, then reads exactly that many
// bytes, so bodies never need delimiters of their own.
//
// Frame format:
//
//	Content-Length: <decimal byte length of body>\r\n
//	\r\n
//	<body: UTF-8 JSON text>
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	HeaderContentLength = "Content-Length"
	HeaderTerminator    = "\r\n\r\n"

	DefaultMaxHeaderBytes = 4 << 10
	DefaultMaxBodyBytes   = 64 << 20
)

// Frame is one decoded unit of the wire protocol.
type Frame struct {
	Headers map[string]string
	Body    []byte
}

// Encode wraps body in a frame. Content-Length is the only header emitted.
func Encode(body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(HeaderContentLength) + 2 + 20 + len(HeaderTerminator) + len(body))
	buf.WriteString(HeaderContentLength)
	buf.WriteString(": ")
	buf.WriteString(strconv.Itoa(len(body)))
	buf.WriteString(HeaderTerminator)
	buf.Write(body)
	return buf.Bytes()
}

// WriteFrame writes a complete frame to w in a single Write call.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different messages will interleave and corrupt the stream.
func WriteFrame(w io.Writer, body []byte) error {
	_, err := w.Write(Encode(body))
	return err
}

// DecoderOption tunes a Decoder.
type DecoderOption func(*Decoder)

// WithMaxHeaderBytes bounds the size of a header block.
func WithMaxHeaderBytes(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxHeader = n
		}
	}
}

// WithMaxBodyBytes bounds the Content-Length a peer may announce.
func WithMaxBodyBytes(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxBody = n
		}
	}
}

// Decoder reads frames from a byte stream. It buffers internally, so bytes that
// arrive after the end of one frame are kept for the next call.
//
// A Decoder is not safe for concurrent use; exactly one goroutine may read from it.
type Decoder struct {
	r         *bufio.Reader
	maxHeader int
	maxBody   int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		r:         bufio.NewReader(r),
		maxHeader: DefaultMaxHeaderBytes,
		maxBody:   DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode reads one frame and returns its body.
func (d *Decoder) Decode() ([]byte, error) {
	f, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	return f.Body, nil
}

// ReadFrame reads exactly one frame from the stream.
func (d *Decoder) ReadFrame() (*Frame, error) {
	// Step 1: accumulate the header block up to and including the blank line
	head, err := d.readHeaderBlock()
	if err != nil {
		return nil, err
	}

	// Step 2: parse header lines and pull out Content-Length
	headers, err := parseHeaders(head)
	if err != nil {
		return nil, err
	}
	raw, ok := headers[HeaderContentLength]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s header", ErrFraming, HeaderContentLength)
	}
	// Atoi alone would take "+2" or "-0"
	length, err := strconv.Atoi(raw)
	if err != nil || !isDigits(raw) {
		return nil, fmt.Errorf("%w: invalid %s %q", ErrFraming, HeaderContentLength, raw)
	}
	if length > d.maxBody {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds limit %d", ErrFraming, length, d.maxBody)
	}

	// Step 3: read exactly length bytes, ReadFull loops over short reads
	body := make([]byte, length)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrConnectionClosed, err)
	}

	// Step 4: the body must at least be JSON
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrProtocol)
	}

	return &Frame{Headers: headers, Body: body}, nil
}

func (d *Decoder) readHeaderBlock() ([]byte, error) {
	head := make([]byte, 0, 64)
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if len(head) == 0 && err == io.EOF {
				return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, io.EOF)
			}
			return nil, fmt.Errorf("%w: reading header after %d bytes: %w", ErrConnectionClosed, len(head), err)
		}
		head = append(head, b)
		if bytes.HasSuffix(head, []byte(HeaderTerminator)) {
			return head[:len(head)-len(HeaderTerminator)], nil
		}
		if len(head) > d.maxHeader {
			return nil, fmt.Errorf("%w: header block exceeds %d bytes", ErrFraming, d.maxHeader)
		}
	}
}

func parseHeaders(head []byte) (map[string]string, error) {
	headers := make(map[string]string, 2)
	for _, line := range strings.Split(string(head), "\r\n") {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: malformed header line %q", ErrFraming, line)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
