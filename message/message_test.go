package message

import (
	"encoding/json"
	"errors"
	"testing"

	"mini-lsp/protocol"
)

func TestRequestWireLayout(t *testing.T) {
	req := NewRequest(1, "initialize", nil)
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	want := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestStringIDRequestWireLayout(t *testing.T) {
	req := NewRequestWithID(NewStringID("srv-1"), "workspace/configuration", json.RawMessage(`{"items":[]}`))
	if req.Kind() != KindRequest {
		t.Fatalf("expect a request, got %v", req.Kind())
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"jsonrpc":"2.0","id":"srv-1","method":"workspace/configuration","params":{"items":[]}}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if back.Kind() != KindRequest || back.ID.String() != `"srv-1"` {
		t.Fatalf("round trip lost the id: %+v", back)
	}
}

func TestNotificationWireLayout(t *testing.T) {
	n := NewNotification("initialized", json.RawMessage(`{}`))
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"jsonrpc":"2.0","method":"initialized","params":{}}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestResponseWireLayout(t *testing.T) {
	ok, _ := json.Marshal(NewResult(NewIntID(3), nil))
	if string(ok) != `{"jsonrpc":"2.0","id":3,"result":null}` {
		t.Fatalf("result response: %s", ok)
	}
	fail, _ := json.Marshal(NewErrorResponse(NewStringID("abc"), NewError(CodeMethodNotFound, "no %s", "foo")))
	if string(fail) != `{"jsonrpc":"2.0","id":"abc","error":{"code":-32601,"message":"no foo"}}` {
		t.Fatalf("error response: %s", fail)
	}
}

func TestParseClassifies(t *testing.T) {
	cases := []struct {
		body string
		kind Kind
	}{
		{`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, KindRequest},
		{`{"jsonrpc":"2.0","id":"w1","method":"window/workDoneProgress/create"}`, KindRequest},
		{`{"jsonrpc":"2.0","method":"textDocument/publishDiagnostics","params":{"uri":"file:///a.py","diagnostics":[]}}`, KindNotification},
		{`{"jsonrpc":"2.0","id":1,"result":{"capabilities":{}}}`, KindResponse},
		{`{"jsonrpc":"2.0","id":4,"result":null}`, KindResponse},
		{`{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"nope"}}`, KindResponse},
		{`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`, KindResponse},
	}
	for _, tc := range cases {
		msg, err := Parse([]byte(tc.body))
		if err != nil {
			t.Fatalf("Parse(%s): %v", tc.body, err)
		}
		if msg.Kind() != tc.kind {
			t.Errorf("Parse(%s): kind %v, want %v", tc.body, msg.Kind(), tc.kind)
		}
	}
}

func TestParseResponseFields(t *testing.T) {
	msg, err := Parse([]byte(`{"jsonrpc":"2.0","id":2,"error":{"code":-32602,"message":"bad params","data":{"field":"x"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	n, ok := msg.ID.Int()
	if !ok || n != 2 {
		t.Fatalf("id = %v", msg.ID)
	}
	if msg.Error == nil || msg.Error.Code != CodeInvalidParams || msg.Error.Message != "bad params" {
		t.Fatalf("error = %+v", msg.Error)
	}
	if string(msg.Error.Data) != `{"field":"x"}` {
		t.Fatalf("data = %s", msg.Error.Data)
	}

	msg, err = Parse([]byte(`{"jsonrpc":"2.0","id":4,"result":null}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Result) != "null" {
		t.Fatalf("null result should be kept, got %q", msg.Result)
	}
}

func TestParseRejects(t *testing.T) {
	bodies := []string{
		`[]`,
		`"text"`,
		`{"id":1,"result":{}}`,
		`{"jsonrpc":"1.0","id":1,"result":{}}`,
		`{"jsonrpc":"2.0"}`,
		`{"jsonrpc":"2.0","id":1}`,
		`{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`,
		`{"jsonrpc":"2.0","id":1.5,"result":{}}`,
		`{"jsonrpc":"2.0","method":""}`,
		`{"jsonrpc":"2.0","method":7}`,
		`{"jsonrpc":"2.0","id":null,"method":"x"}`,
	}
	for _, body := range bodies {
		if _, err := Parse([]byte(body)); !errors.Is(err, protocol.ErrProtocol) {
			t.Errorf("Parse(%s): expect ErrProtocol, got %v", body, err)
		}
	}
}

func TestErrorAs(t *testing.T) {
	var err error = NewError(CodeInternalError, "boom")
	var rpcErr *Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeInternalError {
		t.Fatalf("errors.As failed: %v", err)
	}
	if err.Error() != "rpc error -32603: boom" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestIDString(t *testing.T) {
	if NewIntID(42).String() != "42" {
		t.Fatal("int id")
	}
	if NewStringID("a").String() != `"a"` {
		t.Fatal("string id")
	}
}
