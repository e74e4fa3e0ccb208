package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"mini-lsp/message"
	"time"
)

func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (json.RawMessage, error) {
			start := time.Now()
			result, err := next(ctx, req)
			attrs := []any{"method", req.Method, "duration", time.Since(start)}
			if req.ID != nil {
				attrs = append(attrs, "id", req.ID.String())
			}
			if err != nil {
				logger.Warn("rpc call failed", append(attrs, "error", err)...)
				return nil, err
			}
			logger.Debug("rpc call", append(attrs, "result_bytes", len(result))...)
			return result, nil
		}
	}
}
