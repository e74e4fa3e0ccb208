package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mini-lsp/message"
	"mini-lsp/session"
	"os"
	"sync"
)

func runScenario(ctx context.Context, s *session.Session, out *printer, doc document) error {
	// 1. Initialize
	out.step("Initializing...")
	initParams := map[string]any{
		"processId":    os.Getpid(),
		"rootUri":      doc.rootURI,
		"capabilities": map[string]any{},
	}
	raw, err := s.Call(ctx, "initialize", initParams)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	out.result("initialize", raw)

	// 2. Initialized notification
	out.step("Sending initialized notification...")
	if err := s.Notify(ctx, "initialized", map[string]any{}); err != nil {
		return err
	}

	// 3. Open document
	out.step("Opening document...")
	openParams := map[string]any{
		"textDocument": map[string]any{
			"uri":        doc.uri,
			"languageId": doc.languageID,
			"version":    1,
			"text":       doc.text,
		},
	}
	if err := s.Notify(ctx, "textDocument/didOpen", openParams); err != nil {
		return err
	}

	// 4. Go to definition, then list symbols; a server error here is reported, not fatal
	textDocument := map[string]string{"uri": doc.uri}
	queries := []struct {
		title  string
		method string
		params any
	}{
		{"Getting definition...", "textDocument/definition", map[string]any{
			"textDocument": textDocument,
			"position":     map[string]int{"line": doc.line, "character": doc.character},
		}},
		{"Listing document symbols...", "textDocument/documentSymbol", map[string]any{
			"textDocument": textDocument,
		}},
	}
	for _, q := range queries {
		out.step(q.title)
		raw, err := s.Call(ctx, q.method, q.params)
		if err != nil {
			if !session.IsRecoverable(err) {
				return fmt.Errorf("%s: %w", q.method, err)
			}
			out.failure(q.method, err)
			continue
		}
		out.result(q.method, raw)
	}

	// 5. Shut the server down politely
	out.step("Shutting down...")
	if _, err := s.Call(ctx, "shutdown", nil); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return s.Notify(ctx, "exit", nil)
}

// answerServerRequest gives the minimal answers a client without settings owes a
// server: no configuration, and accepted registrations.
func answerServerRequest(ctx context.Context, req *message.Message) (any, error) {
	switch req.Method {
	case "workspace/configuration":
		var p struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, message.NewError(message.CodeInvalidParams, "%v", err)
		}
		return make([]any, len(p.Items)), nil
	case "client/registerCapability", "client/unregisterCapability", "window/workDoneProgress/create":
		return nil, nil
	default:
		return nil, message.NewError(message.CodeMethodNotFound, "lspctl does not handle %s", req.Method)
	}
}

// printer serializes output from the main goroutine and the session's reader.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func newPrinter(w io.Writer) *printer { return &printer{w: w} }

func (p *printer) step(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, title)
}

func (p *printer) result(method string, raw json.RawMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "<- %s result:\n%s\n", method, indent(raw))
}

func (p *printer) failure(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "<- %s failed: %v\n", method, err)
}

// incoming is the session sink: notifications and stray responses.
func (p *printer) incoming(msg *message.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch msg.Kind() {
	case message.KindResponse:
		fmt.Fprintf(p.w, "<- late response id=%s\n", msg.ID)
	default:
		fmt.Fprintf(p.w, "<- %s %s %s\n", msg.Kind(), msg.Method, compact(msg.Params))
	}
}

func indent(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
