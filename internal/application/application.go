package application

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	spanPrefix     = "UC."
	publishTimeout = 300 * time.Millisecond
)

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

// Repositories is the set of stores bound to one unit of work.
type Repositories struct {
	Orders   order.Repository
	Lots     inventory.Repository
	Payments payment.Repository
}

// TxRunner runs fn inside a single database transaction. The transaction commits when fn returns nil
// and rolls back otherwise. Repositories passed to fn must be the only store access inside fn; catalog
// lookups happen before the transaction opens.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// Instrument carries the RED metrics and base logger shared by use cases of one service.
type Instrument struct {
	tracer observability.Tracer
	log    observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewInstrument(tel observability.Observability, service string) Instrument {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return Instrument{
		tracer:       tel.Tracer(),
		log:          tel.Logger().With(observability.F("service", service)),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
	}
}

func (in Instrument) Logger() observability.Logger { return in.log }

// Begin opens a span named UC.<name> and returns the call record. Callers must defer End.
func (in Instrument) Begin(ctx context.Context, useCase, name string, attrs ...attribute.KeyValue) (context.Context, *Call) {
	attrs = append([]attribute.KeyValue{attribute.String("use_case", useCase)}, attrs...)
	ctx, span := in.tracer.Start(ctx, spanPrefix+name, attrs...)

	fields := []observability.Field{observability.F("use_case", useCase)}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx, logger := logctx.Enrich(ctx, in.log, fields...)

	return ctx, &Call{
		in:      in,
		useCase: useCase,
		span:    span,
		logger:  logger,
		start:   time.Now(),
		outcome: "success",
		status:  "OK",
	}
}

// Call tracks the outcome of one use-case execution.
type Call struct {
	in      Instrument
	useCase string
	span    trace.Span
	logger  observability.Logger
	start   time.Time
	outcome string
	status  string
	fields  []observability.Field
}

func (c *Call) Span() trace.Span { return c.span }

func (c *Call) Logger() observability.Logger { return c.logger }

// Fail marks the call as failed with a machine-readable status such as "ORDER_LOOKUP_FAILED".
func (c *Call) Fail(status string) {
	c.outcome, c.status = "error", status
}

// Status overrides the status text without changing the outcome.
func (c *Call) Status(status string) {
	c.status = status
}

// Outcome overrides the outcome label, e.g. "rejected" or "duplicate".
func (c *Call) Outcome(outcome, status string) {
	c.outcome, c.status = outcome, status
}

func (c *Call) Field(key string, value any) {
	c.fields = append(c.fields, observability.F(key, value))
}

// End records span status, RED metrics and the single use_case_done log line.
func (c *Call) End(err error) {
	lat := time.Since(c.start).Seconds()
	if err != nil && c.outcome == "success" {
		c.outcome, c.status = "error", "FAILED"
	}

	if c.span != nil {
		if err != nil {
			c.span.RecordError(err)
			c.span.SetStatus(codes.Error, c.status)
		} else {
			c.span.SetStatus(codes.Ok, c.status)
		}
		c.span.End()
	}

	if c.in.reqCounter != nil {
		c.in.reqCounter.Add(1,
			observability.L("use_case", c.useCase),
			observability.L("outcome", c.outcome),
		)
	}
	if c.in.durHistogram != nil {
		c.in.durHistogram.Observe(lat,
			observability.L("use_case", c.useCase),
		)
	}

	fields := append([]observability.Field{
		observability.F("outcome", c.outcome),
		observability.F("status", c.status),
		observability.F("latency_seconds", lat),
	}, c.fields...)
	if err != nil {
		fields = append(fields, observability.Err(err))
	}
	c.logger.Info("use_case_done", fields...)
}

// Publish hands events to the side-effect queue after the owning transaction has committed.
// Failures are logged and recorded on the span; they never fail the caller.
func Publish(ctx context.Context, pub outbox.Publisher, call *Call, events ...outbox.Event) {
	if pub == nil {
		return
	}
	for _, e := range events {
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := pub.Publish(pubCtx, e)
		cancel()
		if err == nil {
			continue
		}
		call.span.RecordError(err)
		call.Status("EVENT_PUBLISH_FAILED")
		call.logger.Warn("event_publish_failed",
			observability.F("event", e.EventName()),
			observability.Err(err),
		)
	}
}
