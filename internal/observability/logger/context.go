package logger

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

type ctxKey struct{}

var base atomic.Pointer[zap.Logger]

func setBase(log *zap.Logger) {
	base.Store(log)
}

// WithContext attaches a request-scoped logger to ctx.
func WithContext(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the request-scoped logger, falling back to the
// process-wide logger, then to a no-op.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if log, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && log != nil {
			return log
		}
	}
	if log := base.Load(); log != nil {
		return log
	}
	return zap.NewNop()
}
