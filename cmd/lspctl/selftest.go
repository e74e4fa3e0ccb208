package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"mini-lsp/message"
	"mini-lsp/middleware"
	"mini-lsp/server"
	"strings"
	"sync"
	"unicode"
)

const sampleText = `import os


class Greeter:
    def greet(self, name):
        return format_name(name)


def format_name(name):
    return name.title()
`

// sampleDocument is opened by -self-test; the default position sits on the
// format_name call inside Greeter.greet.
func sampleDocument(languageID string) document {
	return document{
		rootURI:    "file:///selftest",
		uri:        "file:///selftest/sample.py",
		languageID: languageID,
		text:       sampleText,
		line:       5,
		character:  17,
	}
}

type position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type lspRange struct {
	Start position `json:"start"`
	End   position `json:"end"`
}

type location struct {
	URI   string   `json:"uri"`
	Range lspRange `json:"range"`
}

type documentSymbol struct {
	Name           string   `json:"name"`
	Kind           int      `json:"kind"`
	Range          lspRange `json:"range"`
	SelectionRange lspRange `json:"selectionRange"`
}

const (
	symbolKindClass    = 5
	symbolKindMethod   = 6
	symbolKindFunction = 12
)

type textDocumentParams struct {
	TextDocument struct {
		URI  string `json:"uri"`
		Text string `json:"text"`
	} `json:"textDocument"`
	Position position `json:"position"`
}

// stub is a toy Python-ish language server: it knows documents by their text and
// resolves definitions by looking for "def name" and "class name" lines.
type stub struct {
	mu   sync.Mutex
	docs map[string][]string
}

func newStubServer(logger *slog.Logger) *server.Server {
	st := &stub{docs: make(map[string][]string)}
	svr := server.NewServer(server.WithLogger(logger))
	svr.Use(middleware.LoggingMiddleware(logger))

	svr.Handle("initialize", func(ctx context.Context, conn *server.Conn, params json.RawMessage) (any, error) {
		return map[string]any{
			"capabilities": map[string]any{
				"textDocumentSync":       1,
				"definitionProvider":     true,
				"documentSymbolProvider": true,
			},
			"serverInfo": map[string]string{"name": "lspctl-stub"},
		}, nil
	})
	svr.Handle("initialized", func(ctx context.Context, conn *server.Conn, params json.RawMessage) (any, error) {
		return nil, conn.Notify("window/logMessage", map[string]any{"type": 3, "message": "stub server ready"})
	})
	svr.Handle("textDocument/didOpen", func(ctx context.Context, conn *server.Conn, params json.RawMessage) (any, error) {
		var p textDocumentParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		st.mu.Lock()
		st.docs[p.TextDocument.URI] = strings.Split(p.TextDocument.Text, "\n")
		st.mu.Unlock()
		return nil, conn.Notify("textDocument/publishDiagnostics", map[string]any{
			"uri":         p.TextDocument.URI,
			"diagnostics": []any{},
		})
	})
	svr.Handle("textDocument/definition", st.definition)
	svr.Handle("textDocument/documentSymbol", st.documentSymbol)
	svr.Handle("shutdown", func(ctx context.Context, conn *server.Conn, params json.RawMessage) (any, error) {
		return nil, nil
	})
	svr.Handle("exit", func(ctx context.Context, conn *server.Conn, params json.RawMessage) (any, error) {
		return nil, conn.Close()
	})
	return svr
}

func (st *stub) lines(uri string) ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	lines, ok := st.docs[uri]
	if !ok {
		return nil, message.NewError(message.CodeInvalidParams, "document %s is not open", uri)
	}
	return lines, nil
}

func (st *stub) definition(ctx context.Context, conn *server.Conn, params json.RawMessage) (any, error) {
	var p textDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, message.NewError(message.CodeInvalidParams, "%v", err)
	}
	lines, err := st.lines(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	if p.Position.Line < 0 || p.Position.Line >= len(lines) {
		return nil, nil
	}
	name := identifierAt(lines[p.Position.Line], p.Position.Character)
	if name == "" {
		return nil, nil
	}
	for i, text := range lines {
		if _, col, ok := declaration(text); ok && nameAt(text, col) == name {
			return []location{{URI: p.TextDocument.URI, Range: span(i, col, len(name))}}, nil
		}
	}
	return nil, nil
}

func (st *stub) documentSymbol(ctx context.Context, conn *server.Conn, params json.RawMessage) (any, error) {
	var p textDocumentParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, message.NewError(message.CodeInvalidParams, "%v", err)
	}
	lines, err := st.lines(p.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	symbols := []documentSymbol{}
	for i, text := range lines {
		kind, col, ok := declaration(text)
		if !ok {
			continue
		}
		name := nameAt(text, col)
		r := span(i, col, len(name))
		symbols = append(symbols, documentSymbol{Name: name, Kind: kind, Range: r, SelectionRange: r})
	}
	return symbols, nil
}

// declaration reports whether text declares a class or function and where its
// name starts.
func declaration(text string) (kind, col int, ok bool) {
	trimmed := strings.TrimLeft(text, " \t")
	indent := len(text) - len(trimmed)
	switch {
	case strings.HasPrefix(trimmed, "class "):
		return symbolKindClass, indent + len("class "), true
	case strings.HasPrefix(trimmed, "def ") && indent > 0:
		return symbolKindMethod, indent + len("def "), true
	case strings.HasPrefix(trimmed, "def "):
		return symbolKindFunction, indent + len("def "), true
	}
	return 0, 0, false
}

func nameAt(text string, col int) string {
	end := col
	for end < len(text) && isIdent(rune(text[end])) {
		end++
	}
	return text[col:end]
}

// identifierAt returns the identifier covering character, or "".
func identifierAt(text string, character int) string {
	if character < 0 || character >= len(text) || !isIdent(rune(text[character])) {
		return ""
	}
	start := character
	for start > 0 && isIdent(rune(text[start-1])) {
		start--
	}
	return nameAt(text, start)
}

func isIdent(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func span(line, col, length int) lspRange {
	return lspRange{
		Start: position{Line: line, Character: col},
		End:   position{Line: line, Character: col + length},
	}
}
