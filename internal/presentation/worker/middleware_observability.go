package workerpresentation

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	domoutbox "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability/logctx"
)

// WithEventContext binds an event-scoped logger for a background task. The logger carries
// event_id (generated if empty), the publisher's trace_id/span_id when valid, and the given
// low-cardinality attributes such as "event".
func WithEventContext(
	ctx context.Context,
	base observability.Logger,
	sc trace.SpanContext,
	attrs map[string]string,
) context.Context {
	if base == nil {
		base = observability.NopLogger()
	}

	fields := make([]observability.Field, 0, len(attrs)+3)

	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields = append(fields, observability.F("event_id", evtID))

	if sc.TraceID().IsValid() {
		fields = append(fields, observability.F("trace_id", sc.TraceID().String()))
	}
	if sc.SpanID().IsValid() {
		fields = append(fields, observability.F("span_id", sc.SpanID().String()))
	}

	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}

	return logctx.With(ctx, base.With(fields...))
}

// EventContextHook adapts WithEventContext to the task queue so every handler logs with its event's
// identity.
func EventContextHook(base observability.Logger) outbox.ContextHook {
	return func(ctx context.Context, env outbox.Envelope) context.Context {
		return WithEventContext(ctx, base, env.Parent, map[string]string{
			"event_id":     env.ID,
			"event":        env.Event.EventName(),
			"aggregate_id": domoutbox.AggregateID(env.Event),
			"tier":         "worker",
		})
	}
}
