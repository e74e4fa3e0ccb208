package middleware

import (
	"context"
	"encoding/json"
	"mini-lsp/message"
	"time"
)

// TimeOutMiddleware bounds every call by timeout. The session turns the expired
// deadline into session.ErrTimeout and keeps draining the late response.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (json.RawMessage, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}
