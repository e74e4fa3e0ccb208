// Package middleware wraps the round trip of a Session.Call.
//
// A HandlerFunc receives the request before an id is assigned: the session
// allocates a fresh id on every pass through the innermost handler, so a retried
// call never reuses an id. After the innermost handler returns, req.ID holds the
// id of the last attempt.
package middleware

import (
	"context"
	"encoding/json"
	"mini-lsp/message"
)

type HandlerFunc func(ctx context.Context, req *message.Message) (json.RawMessage, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
