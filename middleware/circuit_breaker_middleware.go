package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mini-lsp/config"
	"mini-lsp/message"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
)

// CircuitBreakerMiddleware fails calls fast once the server keeps failing.
// An error response from the server proves the stream is healthy, so *message.Error
// counts as success; timeouts and broken streams count as failures.
func CircuitBreakerMiddleware(cfg config.BreakerConfig, logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	cb := gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        "rpc",
		MaxRequests: 1, // one probe while half-open
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			var rpcErr *message.Error
			return err == nil || errors.As(err, &rpcErr)
		},
	})

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (json.RawMessage, error) {
			return cb.Execute(func() (json.RawMessage, error) {
				return next(ctx, req)
			})
		}
	}
}
