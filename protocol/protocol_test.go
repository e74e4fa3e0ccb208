package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

// chunkReader hands out at most size bytes per Read, like a slow socket.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func TestEncodeWireFormat(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	got := Encode(body)
	want := "Content-Length: 58\r\n\r\n" + string(body)
	if string(got) != want {
		t.Fatalf("Encode mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestEncodeEmptyBody(t *testing.T) {
	if got := string(Encode(nil)); got != "Content-Length: 0\r\n\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestEncodeCountsBytesNotRunes(t *testing.T) {
	body := []byte(`{"text":"héllo ✓"}`)
	got := string(Encode(body))
	if !strings.HasPrefix(got, "Content-Length: 21\r\n\r\n") {
		t.Fatalf("unexpected header: %q", got)
	}
}

func TestRoundTripChunked(t *testing.T) {
	bodies := [][]byte{
		[]byte(`{}`),
		[]byte(`{"jsonrpc":"2.0","method":"initialized","params":{}}`),
		[]byte(`{"jsonrpc":"2.0","id":2,"result":[{"uri":"file:///a.py","range":{"start":{"line":0,"character":4},"end":{"line":0,"character":9}}}]}`),
		[]byte(`"\r\n\r\n inside a string"`),
	}

	for _, body := range bodies {
		encoded := Encode(body)
		for size := 1; size <= len(encoded); size++ {
			dec := NewDecoder(&chunkReader{data: append([]byte(nil), encoded...), size: size})
			got, err := dec.Decode()
			if err != nil {
				t.Fatalf("chunk size %d: decode failed: %v", size, err)
			}
			if !bytes.Equal(got, body) {
				t.Fatalf("chunk size %d: got %q, want %q", size, got, body)
			}
		}
	}
}

func TestDecodeOneByteReader(t *testing.T) {
	body := []byte(`{"jsonrpc":"2.0","id":7,"result":null}`)
	dec := NewDecoder(iotest.OneByteReader(bytes.NewReader(Encode(body))))
	got, err := dec.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("got %q, want %q", got, body)
	}
}

func TestDecodeBackToBackFrames(t *testing.T) {
	first := []byte(`{"n":1}`)
	second := []byte(`{"n":2}`)
	stream := append(Encode(first), Encode(second)...)

	dec := NewDecoder(bytes.NewReader(stream))
	got, err := dec.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, first) {
		t.Fatalf("first frame: got %q", got)
	}
	got, err = dec.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, second) {
		t.Fatalf("second frame: got %q", got)
	}

	// Nothing left: clean EOF between frames
	_, err = dec.Decode()
	if !errors.Is(err, ErrConnectionClosed) || !errors.Is(err, io.EOF) {
		t.Fatalf("expect ErrConnectionClosed wrapping EOF, got %v", err)
	}
}

func TestReadFrameKeepsExtraHeaders(t *testing.T) {
	raw := "Content-Length: 2\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n{}"
	f, err := NewDecoder(strings.NewReader(raw)).ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f.Headers["Content-Type"] != "application/vscode-jsonrpc; charset=utf-8" {
		t.Fatalf("Content-Type not kept: %v", f.Headers)
	}
	if string(f.Body) != "{}" {
		t.Fatalf("body: %q", f.Body)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"non numeric length", "Content-Length: abc\r\n\r\n{}", ErrFraming},
		{"negative length", "Content-Length: -2\r\n\r\n{}", ErrFraming},
		{"signed length", "Content-Length: +2\r\n\r\n{}", ErrFraming},
		{"negative zero length", "Content-Length: -0\r\n\r\n", ErrFraming},
		{"hex length", "Content-Length: 0x2\r\n\r\n{}", ErrFraming},
		{"missing length", "Content-Type: text/plain\r\n\r\n{}", ErrFraming},
		{"lowercase key", "content-length: 2\r\n\r\n{}", ErrFraming},
		{"line without colon", "Content-Length 2\r\n\r\n{}", ErrFraming},
		{"invalid json body", "Content-Length: 5\r\n\r\n{abc}", ErrProtocol},
		{"closed after 5 header bytes", "Conte", ErrConnectionClosed},
		{"closed inside body", "Content-Length: 10\r\n\r\n{\"a\"", ErrConnectionClosed},
		{"closed before terminator", "Content-Length: 2\r\n", ErrConnectionClosed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(tc.raw)).Decode()
			if !errors.Is(err, tc.want) {
				t.Fatalf("expect %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeHeaderLimit(t *testing.T) {
	raw := "X-Padding: " + strings.Repeat("a", 100) + "\r\nContent-Length: 2\r\n\r\n{}"
	_, err := NewDecoder(strings.NewReader(raw), WithMaxHeaderBytes(32)).Decode()
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("expect ErrFraming, got %v", err)
	}
}

func TestDecodeBodyLimit(t *testing.T) {
	raw := "Content-Length: 1024\r\n\r\n"
	_, err := NewDecoder(strings.NewReader(raw), WithMaxBodyBytes(16)).Decode()
	if !errors.Is(err, ErrFraming) {
		t.Fatalf("expect ErrFraming, got %v", err)
	}
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "Content-Length: 7\r\n\r\n{\"a\":1}" {
		t.Fatalf("got %q", buf.String())
	}
}
