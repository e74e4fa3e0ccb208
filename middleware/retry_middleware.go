package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"mini-lsp/message"
	"time"
)

// RetryMiddleware retries calls whose error satisfies retryable, backing off
// exponentially from baseDelay. Only recoverable errors should be retried: a
// terminal stream error fails every later attempt the same way.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, retryable func(error) bool, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (json.RawMessage, error) {
			result, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil || retryable == nil || !retryable(err) {
					return result, err
				}
				logger.Debug("retrying rpc call", "attempt", i+1, "method", req.Method, "error", err)
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return nil, err
				}
				result, err = next(ctx, req)
			}
			return result, err
		}
	}
}
