// Package observability declares the vendor-neutral logging, metrics and tracing ports. Adapters live
// under internal/infrastructure/observability.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Observability interface {
	Tracer() Tracer
	Logger() Logger
	Metrics() Metrics
}

// Metrics resolves instruments by key. Unknown keys yield no-op instruments.
type Metrics interface {
	Counter(name MetricKey) Counter
	Histogram(name MetricKey) Histogram
}

type Tracer interface {
	Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
}

type Counter interface {
	Add(delta float64, labels ...Label)
}

type Histogram interface {
	Observe(value float64, labels ...Label)
}

// Label is a metric label. Values must stay low-cardinality: no order or user ids.
type Label struct{ Key, Value string }

func L(k, v string) Label { return Label{Key: k, Value: v} }

// Field is a structured log field.
type Field struct {
	Key   string
	Value any
}

func F(k string, v any) Field { return Field{Key: k, Value: v} }

// Err is the "error" field. A nil error logs as an empty string.
func Err(err error) Field {
	if err == nil {
		return F("error", "")
	}
	return F("error", err.Error())
}

type Logger interface {
	With(fields ...Field) Logger
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

type MetricKey string
