package middleware

import (
	"context"
	"encoding/json"
	"mini-lsp/message"
	"mini-lsp/tracer"

	"go.opentelemetry.io/otel/trace"
)

// TracingMiddleware opens one client span per call on the global provider.
func TracingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (json.RawMessage, error) {
			ctx, span := tracer.StartSpan(ctx, "rpc "+req.Method,
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(tracer.StringAttr("rpc.system", "jsonrpc"), tracer.StringAttr("rpc.method", req.Method)),
			)
			defer span.End()

			result, err := next(ctx, req)
			if req.ID != nil {
				span.SetAttributes(tracer.StringAttr("rpc.jsonrpc.request_id", req.ID.String()))
			}
			if err != nil {
				tracer.RecordError(span, err)
				return nil, err
			}
			tracer.SetOK(span)
			return result, nil
		}
	}
}
