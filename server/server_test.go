package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mini-lsp/logger"
	"mini-lsp/message"
	"mini-lsp/middleware"
	"mini-lsp/protocol"
	"mini-lsp/registry"
	"mini-lsp/session"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

type position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type location struct {
	URI   string `json:"uri"`
	Range struct {
		Start position `json:"start"`
		End   position `json:"end"`
	} `json:"range"`
}

func startServer(t *testing.T, svr *Server) *net.TCPAddr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(ln) }()
	t.Cleanup(func() {
		if err := svr.Shutdown(3 * time.Second); err != nil {
			t.Errorf("shutdown: %v", err)
		}
		if err := <-served; err != nil {
			t.Errorf("serve returned %v", err)
		}
	})
	return svr.Addr().(*net.TCPAddr)
}

func dial(t *testing.T, addr *net.TCPAddr, opts ...session.Option) *session.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	opts = append([]session.Option{session.WithLogger(logger.Discard()), session.WithCallTimeout(5 * time.Second)}, opts...)
	s, err := session.Dial(ctx, "127.0.0.1", addr.Port, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServerDefinition(t *testing.T) {
	svr := NewServer(WithLogger(logger.Discard()))
	svr.Handle("textDocument/definition", func(ctx context.Context, conn *Conn, params json.RawMessage) (any, error) {
		var p struct {
			TextDocument struct {
				URI string `json:"uri"`
			} `json:"textDocument"`
			Position position `json:"position"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, message.NewError(message.CodeInvalidParams, "%v", err)
		}
		var loc location
		loc.URI = p.TextDocument.URI
		loc.Range.Start = position{Line: p.Position.Line - 1}
		loc.Range.End = position{Line: p.Position.Line - 1, Character: 9}
		return []location{loc}, nil
	})
	s := dial(t, startServer(t, svr))

	var locs []location
	params := map[string]any{
		"textDocument": map[string]string{"uri": "file:///a.py"},
		"position":     position{Line: 31, Character: 17},
	}
	if err := s.CallResult(context.Background(), "textDocument/definition", params, &locs); err != nil {
		t.Fatal(err)
	}
	if len(locs) != 1 || locs[0].URI != "file:///a.py" || locs[0].Range.Start.Line != 30 {
		t.Fatalf("unexpected locations %+v", locs)
	}
}

func TestServerErrors(t *testing.T) {
	svr := NewServer(WithLogger(logger.Discard()))
	svr.Handle("fails", func(ctx context.Context, conn *Conn, params json.RawMessage) (any, error) {
		return nil, errors.New("index not ready")
	})
	svr.Handle("rejects", func(ctx context.Context, conn *Conn, params json.RawMessage) (any, error) {
		return nil, message.NewError(message.CodeInvalidParams, "missing position")
	})
	s := dial(t, startServer(t, svr))

	cases := []struct {
		method string
		code   int
	}{
		{"textDocument/rename", message.CodeMethodNotFound},
		{"fails", message.CodeInternalError},
		{"rejects", message.CodeInvalidParams},
	}
	for _, tc := range cases {
		_, err := s.Call(context.Background(), tc.method, nil)
		var rpcErr *message.Error
		if !errors.As(err, &rpcErr) {
			t.Fatalf("%s: expect *message.Error, got %v", tc.method, err)
		}
		if rpcErr.Code != tc.code {
			t.Fatalf("%s: expect code %d, got %d", tc.method, tc.code, rpcErr.Code)
		}
	}
	if err := s.Err(); err != nil {
		t.Fatalf("rpc errors must not end the session: %v", err)
	}
}

func TestNotificationsAppliedInOrder(t *testing.T) {
	var mu sync.Mutex
	docs := map[string]string{}

	svr := NewServer(WithLogger(logger.Discard()))
	svr.Handle("textDocument/didOpen", func(ctx context.Context, conn *Conn, params json.RawMessage) (any, error) {
		var p struct {
			TextDocument struct {
				URI  string `json:"uri"`
				Text string `json:"text"`
			} `json:"textDocument"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		mu.Lock()
		docs[p.TextDocument.URI] = p.TextDocument.Text
		mu.Unlock()
		return nil, nil
	})
	svr.Handle("textDocument/documentSymbol", func(ctx context.Context, conn *Conn, params json.RawMessage) (any, error) {
		var p struct {
			TextDocument struct {
				URI string `json:"uri"`
			} `json:"textDocument"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		mu.Lock()
		defer mu.Unlock()
		text, ok := docs[p.TextDocument.URI]
		if !ok {
			return nil, message.NewError(message.CodeInvalidParams, "document not open")
		}
		var names []string
		for _, line := range strings.Split(text, "\n") {
			if name, ok := strings.CutPrefix(line, "def "); ok {
				names = append(names, strings.TrimSuffix(name, "():"))
			}
		}
		return names, nil
	})
	s := dial(t, startServer(t, svr))
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		uri := "file:///m" + strings.Repeat("x", i) + ".py"
		open := map[string]any{"textDocument": map[string]any{"uri": uri, "languageId": "python", "version": 1, "text": "def main():\n    pass\ndef helper():\n"}}
		if err := s.Notify(ctx, "textDocument/didOpen", open); err != nil {
			t.Fatal(err)
		}
		var names []string
		if err := s.CallResult(ctx, "textDocument/documentSymbol", map[string]any{"textDocument": map[string]string{"uri": uri}}, &names); err != nil {
			t.Fatalf("symbols for %s: %v", uri, err)
		}
		if strings.Join(names, ",") != "main,helper" {
			t.Fatalf("unexpected symbols %v", names)
		}
	}
}

func TestOnConnectPushesNotification(t *testing.T) {
	svr := NewServer(WithLogger(logger.Discard()))
	svr.OnConnect(func(c *Conn) {
		c.Notify("window/logMessage", map[string]any{"type": 3, "message": "server ready"})
	})
	got := make(chan *message.Message, 1)
	dial(t, startServer(t, svr), session.WithSink(func(msg *message.Message) { got <- msg }))

	select {
	case msg := <-got:
		if msg.Method != "window/logMessage" || msg.Kind() != message.KindNotification {
			t.Fatalf("unexpected frame %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("notification not received")
	}
}

func TestServerToClientRequest(t *testing.T) {
	svr := NewServer(WithLogger(logger.Discard()))
	svr.Handle("initialize", func(ctx context.Context, conn *Conn, params json.RawMessage) (any, error) {
		id, err := conn.Request("workspace/configuration", map[string]any{"items": []map[string]string{{"section": "python"}}})
		if err != nil {
			return nil, err
		}
		select {
		case resp := <-conn.Responses():
			if resp.ID == nil || resp.ID.String() != id.String() {
				return nil, errors.New("response for another request")
			}
			return map[string]json.RawMessage{"configuration": resp.Result}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	handler := func(ctx context.Context, req *message.Message) (any, error) {
		if req.Method != "workspace/configuration" || req.ID == nil || req.ID.String() != `"srv-1"` {
			return nil, message.NewError(message.CodeInvalidRequest, "unexpected request %s %v", req.Method, req.ID)
		}
		return []map[string]int{{"lineLength": 88}}, nil
	}
	s := dial(t, startServer(t, svr), session.WithRequestHandler(handler))

	var result struct {
		Configuration []map[string]int `json:"configuration"`
	}
	if err := s.CallResult(context.Background(), "initialize", map[string]any{}, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Configuration) != 1 || result.Configuration[0]["lineLength"] != 88 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestMalformedBodyKeepsConnection(t *testing.T) {
	svr := NewServer(WithLogger(logger.Discard()))
	svr.Handle("shutdown", func(ctx context.Context, conn *Conn, params json.RawMessage) (any, error) {
		return nil, nil
	})
	addr := startServer(t, svr)

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("Content-Length: 5\r\n\r\n{abc}")); err != nil {
		t.Fatal(err)
	}
	if err := protocol.WriteFrame(conn, []byte(`{"jsonrpc":"2.0","id":1,"method":"shutdown"}`)); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	body, err := protocol.NewDecoder(conn).Decode()
	if err != nil {
		t.Fatal(err)
	}
	resp, err := message.Parse(body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID == nil || resp.ID.String() != "1" || string(resp.Result) != "null" {
		t.Fatalf("unexpected response %s", body)
	}
}

func TestServerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	logged := slog.New(slog.NewTextHandler(&lockedWriter{mu: &mu, w: &buf}, &slog.HandlerOptions{Level: slog.LevelDebug}))

	svr := NewServer(WithLogger(logger.Discard()))
	svr.Use(middleware.LoggingMiddleware(logged))
	svr.Handle("textDocument/hover", func(ctx context.Context, conn *Conn, params json.RawMessage) (any, error) {
		return map[string]string{"contents": "doc"}, nil
	})
	s := dial(t, startServer(t, svr))

	if _, err := s.Call(context.Background(), "textDocument/hover", nil); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(buf.String(), "method=textDocument/hover") {
		t.Fatalf("server middleware did not run: %s", buf.String())
	}
}

func TestShutdownDeregisters(t *testing.T) {
	reg := registry.NewStaticRegistry()
	svr := NewServer(WithLogger(logger.Discard()), WithRegistry(reg, "pyls", "", 10))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(ln) }()
	addr := svr.Addr().String()

	deadline := time.Now().Add(3 * time.Second)
	for {
		eps, _ := reg.Discover(context.Background(), "pyls")
		if len(eps) == 1 && eps[0].Addr == addr {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server not registered, got %+v", eps)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := <-served; err != nil {
		t.Fatalf("serve returned %v after shutdown", err)
	}
	if eps, _ := reg.Discover(context.Background(), "pyls"); len(eps) != 0 {
		t.Fatalf("expect no endpoints after shutdown, got %+v", eps)
	}
}

func TestShutdownClosesClientSessions(t *testing.T) {
	svr := NewServer(WithLogger(logger.Discard()))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(ln)
	s := dial(t, svr.Addr().(*net.TCPAddr))

	// Make sure the connection is being served before shutting down
	if _, err := s.Call(context.Background(), "ping", nil); err == nil {
		t.Fatal("expect method not found")
	}
	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session still open after server shutdown")
	}
	if !errors.Is(s.Err(), protocol.ErrConnectionClosed) {
		t.Fatalf("expect ErrConnectionClosed, got %v", s.Err())
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
