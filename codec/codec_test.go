package codec

import (
	"encoding/json"
	"mini-lsp/message"
	"testing"
)

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}

	originalMsg := message.NewRequest(7, "textDocument/definition",
		json.RawMessage(`{"textDocument":{"uri":"file:///a.py"},"position":{"line":31,"character":17}}`))

	data, err := jsonCodec.Encode(originalMsg)
	if err != nil {
		t.Fatalf("JSONCodec Encode failed: %v", err)
	}
	if data[len(data)-1] == '\n' {
		t.Fatalf("body must not end with a newline: %q", data)
	}

	decodedMsg, err := message.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if originalMsg.Method != decodedMsg.Method {
		t.Errorf("Method mismatch: got %s, want %s", decodedMsg.Method, originalMsg.Method)
	}
	if string(originalMsg.Params) != string(decodedMsg.Params) {
		t.Errorf("Params mismatch: got %s, want %s", decodedMsg.Params, originalMsg.Params)
	}
	if id, _ := decodedMsg.ID.Int(); id != 7 {
		t.Errorf("ID mismatch: got %d, want 7", id)
	}
}

func TestJSONCodecNoHTMLEscape(t *testing.T) {
	data, err := (&JSONCodec{}).Encode(map[string]string{"text": "a < b && c > d"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"text":"a < b && c > d"}` {
		t.Fatalf("got %s", data)
	}
}

func TestGetCodec(t *testing.T) {
	if GetCodec(CodecTypeJSON).Type() != CodecTypeJSON {
		t.Fatal("expect JSON codec")
	}
}
