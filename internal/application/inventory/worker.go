package inventory

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	dominv "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const workerService = "inventory-worker"

// Worker warns administrators when a deduction leaves a product below the low-stock threshold.
type Worker struct {
	subscriber domoutbox.Subscriber
	notifier   application.Notifier
	threshold  int
	inst       application.Instrument
}

func NewWorker(subscriber domoutbox.Subscriber, notifier application.Notifier, threshold int, tel observability.Observability) *Worker {
	return &Worker{
		subscriber: subscriber,
		notifier:   notifier,
		threshold:  threshold,
		inst:       application.NewInstrument(tel, workerService),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.notifier == nil || w.threshold <= 0 {
		return
	}
	w.subscriber.Subscribe(dominv.StockChangedEvent{}.EventName(), w.handleStockChanged)
}

func (w *Worker) handleStockChanged(ctx context.Context, e domoutbox.Event) (err error) {
	const useCase = "inventory.worker.stock_changed"
	evt, ok := e.(dominv.StockChangedEvent)
	if !ok {
		return nil
	}

	ctx, call := w.inst.Begin(ctx, useCase, "StockChanged",
		attribute.String("event", e.EventName()),
		attribute.String("product.id", evt.ProductID),
		attribute.Int("inventory.remaining", evt.Remaining),
	)
	defer func() { call.End(err) }()
	call.Field("product_id", evt.ProductID)
	call.Field("remaining", evt.Remaining)

	// only falling stock crosses the threshold
	if evt.Delta >= 0 || evt.Remaining >= w.threshold {
		call.Outcome("ignored", "ABOVE_THRESHOLD")
		return nil
	}

	err = w.notifier.Notify(ctx, application.Notification{
		Audience: application.AudienceAdmins,
		Kind:     "LOW_STOCK",
		Title:    "Low stock",
		Message:  fmt.Sprintf("Product %s has %d units left", evt.ProductID, evt.Remaining),
		OrderID:  evt.OrderID,
	})
	if err != nil {
		call.Fail("NOTIFY_FAILED")
		return fmt.Errorf("worker: low stock notification: %w", err)
	}
	return nil
}
