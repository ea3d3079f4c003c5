package oteltrace

import (
	"context"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type tracer struct{ t trace.Tracer }

// New returns a tracer backed by the global OTel provider.
func New(name string) observability.Tracer {
	return NewWithProvider(otel.GetTracerProvider(), name)
}

// NewWithProvider returns a tracer bound to an explicit provider.
func NewWithProvider(tp trace.TracerProvider, name string) observability.Tracer {
	if name == "" {
		name = "storefront"
	}
	return &tracer{t: tp.Tracer(name)}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name, trace.WithAttributes(attrs...))
}
