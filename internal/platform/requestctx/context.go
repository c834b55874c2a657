package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey contextKey = "github.com/style-suite/api/internal/platform/requestctx/logger"
	traceContextKey  contextKey = "github.com/style-suite/api/internal/platform/requestctx/trace"
	callerContextKey contextKey = "github.com/style-suite/api/internal/platform/requestctx/caller"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// CallerInfo records who made the request once a gateway has authenticated it. Gateways fill it in
// so the request log line can name the user or API key without importing the auth packages.
type CallerInfo struct {
	Kind     string
	UserID   string
	APIKeyID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	if !ok {
		return TraceInfo{}, false
	}
	return info, true
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, ok := Trace(ctx)
	if !ok {
		return ""
	}
	return info.TraceID
}

// WithCaller returns a context holding a mutable caller slot. The request logger installs it before
// authentication runs so that the values set later by gateways are visible when the request completes.
func WithCaller(ctx context.Context) (context.Context, *CallerInfo) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing, ok := ctx.Value(callerContextKey).(*CallerInfo); ok && existing != nil {
		return ctx, existing
	}
	info := &CallerInfo{}
	return context.WithValue(ctx, callerContextKey, info), info
}

// SetCaller records the authenticated caller on the slot installed by WithCaller. It is a no-op when
// no slot exists.
func SetCaller(ctx context.Context, info CallerInfo) {
	if ctx == nil {
		return
	}
	if slot, ok := ctx.Value(callerContextKey).(*CallerInfo); ok && slot != nil {
		*slot = info
	}
}

// Caller returns the recorded caller, if any.
func Caller(ctx context.Context) (CallerInfo, bool) {
	if ctx == nil {
		return CallerInfo{}, false
	}
	slot, ok := ctx.Value(callerContextKey).(*CallerInfo)
	if !ok || slot == nil || slot.Kind == "" {
		return CallerInfo{}, false
	}
	return *slot, true
}
