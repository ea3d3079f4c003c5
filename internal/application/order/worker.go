package order

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	domorder "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const workerService = "order-worker"

// Worker notifies order owners of status changes.
type Worker struct {
	subscriber domoutbox.Subscriber
	notifier   application.Notifier
	inst       application.Instrument
}

func NewWorker(subscriber domoutbox.Subscriber, notifier application.Notifier, tel observability.Observability) *Worker {
	return &Worker{
		subscriber: subscriber,
		notifier:   notifier,
		inst:       application.NewInstrument(tel, workerService),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.notifier == nil {
		return
	}
	w.subscriber.Subscribe(domorder.StatusChangedEvent{}.EventName(), w.handleStatusChanged)
}

func (w *Worker) handleStatusChanged(ctx context.Context, e domoutbox.Event) (err error) {
	const useCase = "order.worker.status_changed"
	evt, ok := e.(domorder.StatusChangedEvent)
	if !ok {
		return nil
	}

	ctx, call := w.inst.Begin(ctx, useCase, "StatusChanged",
		attribute.String("event", e.EventName()),
		attribute.String("order.id", evt.OrderID),
		attribute.String("order.status", string(evt.To)),
	)
	defer func() { call.End(err) }()
	call.Field("order_id", evt.OrderID)
	call.Field("to", string(evt.To))

	err = w.notifier.Notify(ctx, application.Notification{
		Audience: application.AudienceUser,
		UserID:   evt.UserID,
		Kind:     "ORDER_STATUS",
		Title:    "Order status updated",
		Message:  fmt.Sprintf("Order %s is now %s", evt.OrderID, statusLabel(evt.To)),
		OrderID:  evt.OrderID,
	})
	if err != nil {
		call.Fail("NOTIFY_FAILED")
		return fmt.Errorf("worker: status notification: %w", err)
	}
	return nil
}

func statusLabel(s domorder.Status) string {
	switch s {
	case domorder.StatusPending:
		return "awaiting confirmation"
	case domorder.StatusPaid:
		return "paid"
	case domorder.StatusShipped:
		return "on its way"
	case domorder.StatusCompleted:
		return "delivered"
	case domorder.StatusCancelled:
		return "cancelled"
	}
	return string(s)
}
