package payment

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/catalog"
	domorder "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const workerService = "payment-worker"

// Worker runs the settlement side effects. Each one is its own subscription so a failing
// collaborator is retried without repeating the others.
type Worker struct {
	subscriber domoutbox.Subscriber
	orders     domorder.Repository
	catalog    catalog.Reader
	cart       application.CartStore
	mailer     application.Mailer
	notifier   application.Notifier
	inst       application.Instrument
}

func NewWorker(
	subscriber domoutbox.Subscriber,
	orders domorder.Repository,
	catalogReader catalog.Reader,
	cart application.CartStore,
	mailer application.Mailer,
	notifier application.Notifier,
	tel observability.Observability,
) *Worker {
	return &Worker{
		subscriber: subscriber,
		orders:     orders,
		catalog:    catalogReader,
		cart:       cart,
		mailer:     mailer,
		notifier:   notifier,
		inst:       application.NewInstrument(tel, workerService),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil {
		return
	}
	name := domorder.PaymentSettledEvent{}.EventName()
	if w.cart != nil {
		w.subscriber.Subscribe(name, w.handleClearCart)
	}
	if w.mailer != nil && w.orders != nil && w.catalog != nil {
		w.subscriber.Subscribe(name, w.handleConfirmationEmail)
	}
	if w.notifier != nil {
		w.subscriber.Subscribe(name, w.handleNotifyOwner)
	}
}

func (w *Worker) begin(ctx context.Context, useCase, span string, evt domorder.PaymentSettledEvent) (context.Context, *application.Call) {
	ctx, call := w.inst.Begin(ctx, useCase, span,
		attribute.String("event", evt.EventName()),
		attribute.String("order.id", evt.OrderID),
	)
	call.Field("order_id", evt.OrderID)
	return ctx, call
}

func (w *Worker) handleClearCart(ctx context.Context, e domoutbox.Event) (err error) {
	evt, ok := e.(domorder.PaymentSettledEvent)
	if !ok {
		return nil
	}
	ctx, call := w.begin(ctx, "payment.worker.clear_cart", "ClearCart", evt)
	defer func() { call.End(err) }()

	if err = w.cart.RemoveProducts(ctx, evt.UserID, evt.ProductIDs); err != nil {
		call.Fail("CART_CLEAR_FAILED")
		return fmt.Errorf("worker: clear cart: %w", err)
	}
	return nil
}

func (w *Worker) handleConfirmationEmail(ctx context.Context, e domoutbox.Event) (err error) {
	evt, ok := e.(domorder.PaymentSettledEvent)
	if !ok {
		return nil
	}
	ctx, call := w.begin(ctx, "payment.worker.confirmation_email", "ConfirmationEmail", evt)
	defer func() { call.End(err) }()

	o, err := w.orders.Get(ctx, evt.OrderID)
	if err != nil {
		call.Fail("ORDER_LOOKUP_FAILED")
		return fmt.Errorf("worker: load order: %w", err)
	}
	user, err := w.catalog.User(ctx, o.UserID)
	if err != nil {
		call.Fail("USER_LOOKUP_FAILED")
		return fmt.Errorf("worker: load user: %w", err)
	}
	if err = w.mailer.SendOrderConfirmation(ctx, application.NewOrderConfirmation(o, user)); err != nil {
		call.Fail("EMAIL_FAILED")
		return fmt.Errorf("worker: send confirmation: %w", err)
	}
	return nil
}

func (w *Worker) handleNotifyOwner(ctx context.Context, e domoutbox.Event) (err error) {
	evt, ok := e.(domorder.PaymentSettledEvent)
	if !ok {
		return nil
	}
	ctx, call := w.begin(ctx, "payment.worker.notify_owner", "NotifySettled", evt)
	defer func() { call.End(err) }()

	err = w.notifier.Notify(ctx, application.Notification{
		Audience: application.AudienceUser,
		UserID:   evt.UserID,
		Kind:     "PAYMENT_SETTLED",
		Title:    "Payment received",
		Message:  fmt.Sprintf("We received %s for order %s", evt.Amount.StringFixed(0), evt.OrderID),
		OrderID:  evt.OrderID,
	})
	if err != nil {
		call.Fail("NOTIFY_FAILED")
		return fmt.Errorf("worker: settlement notification: %w", err)
	}
	return nil
}
