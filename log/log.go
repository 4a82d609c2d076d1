// Package log holds the logger used by all driver packages.
//
// Drivers don't log unless the application installs a logger with [Set]. All
// messages are emitted at debug level except for failed teardowns, which leak
// firmware or kernel resources and are logged as errors.
package log

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// L returns the package logger.
func L() *zap.Logger {
	return logger.Load()
}

// Set replaces the package logger. A nil logger disables logging.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

type ctxKey struct{}

// IntoContext returns a copy of ctx carrying l.
func IntoContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx or the package logger.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return L()
}
