package session

import (
	"log/slog"
	"mini-lsp/codec"
	"mini-lsp/middleware"
	"mini-lsp/protocol"
	"time"
)

type options struct {
	sink        Sink
	reqHandler  RequestHandler
	logger      *slog.Logger
	codec       codec.Codec
	callTimeout time.Duration
	middlewares []middleware.Middleware
	decoderOpts []protocol.DecoderOption
}

func defaultOptions() options {
	return options{
		logger: slog.Default(),
		codec:  codec.GetCodec(codec.CodecTypeJSON),
	}
}

// Option configures a Session.
type Option func(*options)

// WithSink registers the handler for frames no pending call claims.
func WithSink(sink Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithRequestHandler answers server-to-client requests. Without one they go to the
// sink, and the caller may answer them with Reply.
func WithRequestHandler(h RequestHandler) Option {
	return func(o *options) { o.reqHandler = h }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithCallTimeout bounds each attempt of a call whose context carries no deadline
// of its own. A retry middleware gets a fresh deadline for every attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithMiddleware wraps every call, first middleware outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

func WithDecoderOptions(opts ...protocol.DecoderOption) Option {
	return func(o *options) { o.decoderOpts = append(o.decoderOpts, opts...) }
}
