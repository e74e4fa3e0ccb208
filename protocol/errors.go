package protocol

import "errors"

var (
	// ErrConnectionClosed means the stream ended mid-frame or between frames.
	ErrConnectionClosed = errors.New("protocol: connection closed")
	// ErrFraming means the header block is unusable and the stream is out of sync.
	ErrFraming = errors.New("protocol: invalid framing")
	// ErrProtocol means a frame arrived intact but its body is not a usable JSON-RPC message.
	ErrProtocol = errors.New("protocol: invalid message")
)
