// Package message defines the JSON-RPC 2.0 envelope exchanged with a language server.
//
// Message is the "envelope" for every frame body. It gets serialized by the codec layer
// and wrapped in a protocol frame for transmission over the stream.
//
//   - Request:      ID and Method set, Params optional. Expects exactly one Response.
//   - Response:     ID set, exactly one of Result or Error.
//   - Notification: Method set, no ID. Fire-and-forget.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"

	"mini-lsp/protocol"
)

// Version is the only protocol version on the wire.
const Version = "2.0"

// Kind classifies a decoded envelope.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var emptyParams = json.RawMessage(`{}`)

// Message carries one JSON-RPC 2.0 envelope. Field order matches the wire layout.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Kind reports which envelope shape m has. Only meaningful for messages built by
// Parse or the constructors in this package.
func (m *Message) Kind() Kind {
	switch {
	case m.Method != "" && m.ID != nil:
		return KindRequest
	case m.Method != "":
		return KindNotification
	default:
		return KindResponse
	}
}

// NewRequest builds a request. Nil params are sent as an empty object.
func NewRequest(id int64, method string, params json.RawMessage) *Message {
	return NewRequestWithID(NewIntID(id), method, params)
}

// NewRequestWithID builds a request with any id, such as the string ids a server
// uses for its own requests.
func NewRequestWithID(id ID, method string, params json.RawMessage) *Message {
	return &Message{JSONRPC: Version, ID: &id, Method: method, Params: orEmpty(params)}
}

// NewNotification builds a notification. Nil params are sent as an empty object.
func NewNotification(method string, params json.RawMessage) *Message {
	return &Message{JSONRPC: Version, Method: method, Params: orEmpty(params)}
}

// NewResult builds a success response. A nil result is sent as JSON null.
func NewResult(id ID, result json.RawMessage) *Message {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return &Message{JSONRPC: Version, ID: &id, Result: result}
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id ID, rpcErr *Error) *Message {
	return &Message{JSONRPC: Version, ID: &id, Error: rpcErr}
}

func orEmpty(params json.RawMessage) json.RawMessage {
	if len(params) == 0 {
		return emptyParams
	}
	return params
}

// Parse decodes and classifies a frame body. Bodies that are valid JSON but not a
// well-formed JSON-RPC 2.0 envelope fail with protocol.ErrProtocol.
func Parse(body []byte) (*Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: body is not a JSON object: %v", protocol.ErrProtocol, err)
	}

	msg := &Message{}
	if err := unmarshalField(fields, "jsonrpc", &msg.JSONRPC); err != nil {
		return nil, err
	}
	if msg.JSONRPC != Version {
		return nil, fmt.Errorf("%w: jsonrpc version %q", protocol.ErrProtocol, msg.JSONRPC)
	}
	if err := unmarshalField(fields, "method", &msg.Method); err != nil {
		return nil, err
	}

	rawID, hasID := fields["id"]
	if hasID && !isNull(rawID) {
		var id ID
		if err := json.Unmarshal(rawID, &id); err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrProtocol, err)
		}
		msg.ID = &id
	}

	if _, ok := fields["method"]; ok {
		if msg.Method == "" {
			return nil, fmt.Errorf("%w: empty method", protocol.ErrProtocol)
		}
		if hasID && msg.ID == nil {
			return nil, fmt.Errorf("%w: request %q with null id", protocol.ErrProtocol, msg.Method)
		}
		msg.Params = fields["params"]
		return msg, nil
	}

	// No method: this must be a response
	if !hasID {
		return nil, fmt.Errorf("%w: message has neither method nor id", protocol.ErrProtocol)
	}
	result, hasResult := fields["result"]
	rawErr, hasError := fields["error"]
	if hasError && isNull(rawErr) {
		hasError = false
	}
	if hasResult == hasError {
		return nil, fmt.Errorf("%w: response must carry exactly one of result or error", protocol.ErrProtocol)
	}
	if hasResult {
		msg.Result = result
		return msg, nil
	}
	msg.Error = &Error{}
	if err := json.Unmarshal(rawErr, msg.Error); err != nil {
		return nil, fmt.Errorf("%w: error object: %v", protocol.ErrProtocol, err)
	}
	return msg, nil
}

func unmarshalField(fields map[string]json.RawMessage, name string, v any) error {
	raw, ok := fields[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: field %q: %v", protocol.ErrProtocol, name, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
