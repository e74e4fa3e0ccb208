package session

import (
	"errors"
	"mini-lsp/message"
)

// IsTimeout reports whether err is a call that ran out of time.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsRecoverable reports whether the session that returned err is still usable.
// Only server error responses and timeouts leave the stream intact; everything
// else ends the session and needs a new connection.
func IsRecoverable(err error) bool {
	var rpcErr *message.Error
	return errors.Is(err, ErrTimeout) || errors.As(err, &rpcErr)
}
