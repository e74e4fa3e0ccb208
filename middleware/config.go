package middleware

import (
	"log/slog"
	"mini-lsp/config"
)

// FromConfig builds the interceptor stack described by cfg, outermost first:
// tracing, logging, circuit breaker, retry, rate limit. retryable decides which
// errors the retry layer repeats.
func FromConfig(cfg config.MiddlewareConfig, logger *slog.Logger, retryable func(error) bool) []Middleware {
	var mws []Middleware
	if cfg.Tracing {
		mws = append(mws, TracingMiddleware())
	}
	if cfg.Logging {
		mws = append(mws, LoggingMiddleware(logger))
	}
	if cfg.Breaker != nil {
		mws = append(mws, CircuitBreakerMiddleware(*cfg.Breaker, logger))
	}
	if cfg.Retries > 0 {
		mws = append(mws, RetryMiddleware(cfg.Retries, cfg.RetryDelay, retryable, logger))
	}
	if cfg.RateLimit > 0 {
		mws = append(mws, RateLimitMiddleware(cfg.RateLimit, cfg.Burst))
	}
	return mws
}
