package outbox

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	domoutbox "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability/logctx"
)

const componentOutbox = "outbox"

var ErrClosed = errors.New("outbox: bus is closed")

// ContextHook prepares the context a handler runs in, e.g. to bind an event-scoped logger.
type ContextHook func(ctx context.Context, env Envelope) context.Context

// Envelope is a queued event with its id and the span context of the publisher.
type Envelope struct {
	ID      string
	Event   domoutbox.Event
	Parent  trace.SpanContext
	Created time.Time
}

// Bus is an in-memory task queue for post-commit side effects. Every handler runs with bounded
// retries and exponential backoff; failures are logged and counted, never propagated to the publisher.
// It is not durable: events still queued when the process dies are lost.
type Bus struct {
	mu          sync.RWMutex
	subs        map[string][]domoutbox.Handler
	queue       chan Envelope
	closed      bool
	startOnce   sync.Once
	stopOnce    sync.Once
	cancel      context.CancelFunc
	done        chan struct{}
	concurrency int
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration
	hook        ContextHook
	log         observability.Logger
	failures    observability.Counter // task_failures_total{event}
}

type Option func(*Bus)

func WithMaxAttempts(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay before the first retry; it doubles on every further attempt.
func WithBackoff(d time.Duration) Option {
	return func(b *Bus) { b.backoff = d }
}

func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func WithContextHook(h ContextHook) Option {
	return func(b *Bus) { b.hook = h }
}

func NewBus(tel observability.Observability, opts ...Option) *Bus {
	if tel == nil {
		tel = observability.Nop()
	}
	b := &Bus{
		subs:        make(map[string][]domoutbox.Handler),
		queue:       make(chan Envelope, 1024), // buffer for backpressure
		done:        make(chan struct{}),
		concurrency: 8, // per-event handler fanout cap
		maxAttempts: 5,
		backoff:     200 * time.Millisecond,
		timeout:     30 * time.Second,
		log:         tel.Logger().With(observability.F("component", componentOutbox)),
		failures:    tel.Metrics().Counter(observability.MTaskFailures),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) Subscribe(eventName string, h domoutbox.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
		b.cancel = cancel
		go b.dispatchLoop(bg)
		logctx.FromOr(ctx, b.log).Info("event_bus_started")
	})
}

// Stop refuses new events and waits until queued events are handled or ctx expires.
func (b *Bus) Stop(ctx context.Context) error {
	var err error
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()

		if b.cancel == nil {
			return
		}
		select {
		case <-b.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		b.cancel()
		logctx.FromOr(ctx, b.log).Info("event_bus_stopped")
	})
	return err
}

func (b *Bus) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	env := Envelope{
		ID:      uuid.NewString(),
		Event:   e,
		Parent:  trace.SpanContextFromContext(ctx),
		Created: time.Now().UTC(),
	}
	logger := logctx.FromOr(ctx, b.log).With(
		observability.F("event", e.EventName()),
		observability.F("event_id", env.ID),
	)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	select {
	case b.queue <- env:
		logger.Debug("event_enqueued")
		return nil
	case <-ctx.Done():
		logger.Warn("event_enqueue_aborted",
			observability.Err(ctx.Err()),
		)
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer close(b.done)
	for env := range b.queue {
		b.fanout(ctx, env)
	}
}

func (b *Bus) fanout(ctx context.Context, env Envelope) {
	name := env.Event.EventName()

	b.mu.RLock()
	handlers := append([]domoutbox.Handler(nil), b.subs[name]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug("event_dropped_no_subscriber", observability.F("event", name))
		return
	}

	if env.Parent.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, env.Parent)
	}
	ctx = logctx.With(ctx, b.log.With(
		observability.F("event", name),
		observability.F("event_id", env.ID),
	))
	if b.hook != nil {
		ctx = b.hook(ctx, env)
	}

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	for _, h := range handlers {
		h := h
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			b.run(ctx, name, env.Event, h)
		}()
	}
	wg.Wait()

	b.log.Debug("event_fanned_out",
		observability.F("event", name),
		observability.F("handlers", len(handlers)),
	)
}

func (b *Bus) run(ctx context.Context, name string, e domoutbox.Event, h domoutbox.Handler) {
	logger := logctx.FromOr(ctx, b.log)
	delay := b.backoff

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		err := b.invoke(ctx, e, h)
		if err == nil {
			return
		}

		b.failures.Add(1, observability.L("event", name))
		if attempt == b.maxAttempts {
			logger.Error("event_handler_gave_up",
				observability.F("attempt", attempt),
				observability.Err(err),
			)
			return
		}
		logger.Warn("event_handler_error",
			observability.F("attempt", attempt),
			observability.F("retry_in", delay.String()),
			observability.Err(err),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
	}
}

func (b *Bus) invoke(ctx context.Context, e domoutbox.Event, h domoutbox.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logctx.FromOr(ctx, b.log).Error("event_handler_panic",
				observability.F("panic", r),
				observability.F("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("outbox: handler panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return h(ctx, e)
}
