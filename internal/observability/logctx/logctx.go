// Package logctx carries the request- or task-scoped logger through a context.
package logctx

import (
	"context"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
)

type loggerKey struct{}

func With(ctx context.Context, logger observability.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// From returns the logger bound to ctx, or nil.
func From(ctx context.Context) observability.Logger {
	logger, _ := ctx.Value(loggerKey{}).(observability.Logger)
	return logger
}

func FromOr(ctx context.Context, fallback observability.Logger) observability.Logger {
	if logger := From(ctx); logger != nil {
		return logger
	}
	return fallback
}

// Enrich binds the context logger (or fallback, or a no-op logger) extended with fields, and returns
// it alongside the new context.
func Enrich(ctx context.Context, fallback observability.Logger, fields ...observability.Field) (context.Context, observability.Logger) {
	logger := FromOr(ctx, fallback)
	if logger == nil {
		logger = observability.NopLogger()
	}
	if len(fields) > 0 {
		logger = logger.With(fields...)
	}
	return With(ctx, logger), logger
}
