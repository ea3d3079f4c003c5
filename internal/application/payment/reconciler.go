package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	dominv "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseCallback = "payment.callback"
	gatewayActor    = "payment-gateway"

	// one initial attempt plus exactly one retry after an optimistic conflict
	callbackAttempts = 2
)

var messages = map[string]string{
	dompay.CodeSuccess:          "Confirm Success",
	dompay.CodeOrderNotFound:    "Order not found",
	dompay.CodeAlreadyConfirmed: "Order already confirmed",
	dompay.CodeInvalidAmount:    "Invalid amount",
	dompay.CodeInvalidSignature: "Invalid signature",
	dompay.CodeUnknownError:     "Unknown error",
}

func Message(code string) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return messages[dompay.CodeUnknownError]
}

// CallbackResult is the reconciled outcome of one gateway callback.
type CallbackResult struct {
	Code    string
	Message string

	OrderID       string
	Reference     string
	TransactionNo string
	BankCode      string
	Amount        decimal.Decimal
	// Settled is true when the payment is (now or already) settled for the order.
	Settled bool
	// Duplicate is true when the callback had already been applied and nothing was changed.
	Duplicate bool
	// Superseded is true for a failure reported on a reference that a later initiation replaced.
	// The order stays payable through the newer reference.
	Superseded bool
}

func newResult(code string) *CallbackResult {
	return &CallbackResult{Code: code, Message: Message(code)}
}

// Reconciler applies gateway callbacks to orders exactly once.
type Reconciler struct {
	tx               application.TxRunner
	gateway          dompay.Gateway
	orders           OrderTransitioner
	publisher        domoutbox.Publisher
	inst             application.Instrument
	callbacks        observability.Counter // payment_callbacks_total{result}
	now              func() time.Time
	restoreOnFailure bool
}

type ReconcilerOption func(*Reconciler)

// WithRestoreOnFailure controls whether a failed payment returns the order's stock.
func WithRestoreOnFailure(restore bool) ReconcilerOption {
	return func(r *Reconciler) { r.restoreOnFailure = restore }
}

func NewReconciler(
	tx application.TxRunner,
	gateway dompay.Gateway,
	orders OrderTransitioner,
	publisher domoutbox.Publisher,
	tel observability.Observability,
	opts ...ReconcilerOption,
) *Reconciler {
	if tel == nil {
		tel = observability.Nop()
	}
	r := &Reconciler{
		tx:               tx,
		gateway:          gateway,
		orders:           orders,
		publisher:        publisher,
		inst:             application.NewInstrument(tel, paymentService),
		callbacks:        tel.Metrics().Counter(observability.MPaymentCallbacks),
		now:              time.Now,
		restoreOnFailure: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleCallback verifies and applies a callback. The returned result always carries a gateway code;
// the error is non-nil for rejected or failed callbacks.
func (r *Reconciler) HandleCallback(ctx context.Context, params map[string]string) (res *CallbackResult, err error) {
	ctx, call := r.inst.Begin(ctx, useCaseCallback, "HandleCallback")
	defer func() {
		if res != nil {
			r.callbacks.Add(1, observability.L("result", res.Code))
			call.Field("code", res.Code)
		}
		call.End(err)
	}()

	cb, err := r.gateway.VerifyCallback(params)
	if err != nil {
		switch {
		case errors.Is(err, dompay.ErrInvalidSignature):
			call.Outcome("rejected", "INVALID_SIGNATURE")
			return newResult(dompay.CodeInvalidSignature), err
		case errors.Is(err, dompay.ErrAmountMismatch):
			call.Outcome("rejected", "AMOUNT_UNREADABLE")
			return newResult(dompay.CodeInvalidAmount), err
		default:
			call.Fail("VERIFY_FAILED")
			return newResult(dompay.CodeUnknownError), err
		}
	}
	if cb.SignatureSkipped {
		call.Logger().Warn("payment_signature_verification_skipped",
			observability.F("reference", cb.Reference),
		)
	}
	call.Field("reference", cb.Reference)
	call.Span().SetAttributes(
		attribute.String("payment.reference", cb.Reference),
		attribute.String("payment.response_code", cb.ResponseCode),
	)

	var (
		outcome *CallbackResult
		events  []domoutbox.Event
	)
	err = application.RetryOnConflict(ctx, callbackAttempts, func(attempt int) error {
		if attempt > 1 {
			call.Logger().Info("payment_callback_retry", observability.F("attempt", attempt))
		}
		outcome, events = nil, nil
		return r.tx.WithTx(ctx, func(ctx context.Context, repos application.Repositories) error {
			var err error
			outcome, events, err = r.apply(ctx, repos, cb)
			return err
		})
	})
	if err != nil {
		if application.IsConflict(err) {
			call.Fail("CONFLICT")
			err = fmt.Errorf("%w: %w", dompay.ErrTransient, err)
		} else {
			call.Fail("APPLY_FAILED")
		}
		return newResult(dompay.CodeUnknownError), err
	}

	outcome.Reference = cb.Reference
	outcome.TransactionNo = cb.TransactionNo
	outcome.BankCode = cb.BankCode
	outcome.Amount = cb.Amount
	call.Field("order_id", outcome.OrderID)

	switch {
	case outcome.Duplicate:
		call.Outcome("duplicate", "DUPLICATE_CALLBACK")
	case outcome.Code == dompay.CodeOrderNotFound:
		call.Outcome("rejected", "ORDER_NOT_FOUND")
		return outcome, dompay.ErrUnknownReference
	case outcome.Code == dompay.CodeInvalidAmount:
		call.Outcome("rejected", "AMOUNT_MISMATCH")
		return outcome, dompay.ErrAmountMismatch
	case outcome.Code == dompay.CodeAlreadyConfirmed:
		call.Outcome("rejected", "ORDER_CLOSED")
	case outcome.Superseded:
		call.Outcome("ignored", "SUPERSEDED_REFERENCE")
	case outcome.Settled:
		call.Status("SETTLED")
	default:
		call.Status("PAYMENT_FAILED")
	}

	application.Publish(ctx, r.publisher, call, events...)
	return outcome, nil
}

// apply runs inside the transaction. Every decision is taken against the order row read in the same
// transaction, and the write is guarded by the order version.
func (r *Reconciler) apply(ctx context.Context, repos application.Repositories, cb *dompay.Callback) (*CallbackResult, []domoutbox.Event, error) {
	o, err := resolveOrder(ctx, repos.Orders, cb)
	if errors.Is(err, domorder.ErrNotFound) {
		return newResult(dompay.CodeOrderNotFound), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	res := newResult(dompay.CodeSuccess)
	res.OrderID = o.ID

	if o.PaymentStatus == domorder.PaymentPaid {
		res.Settled, res.Duplicate = true, true
		return res, nil, nil
	}
	if o.Status != domorder.StatusPending {
		if !cb.Succeeded() {
			// failure already applied
			res.Duplicate = true
			return res, nil, nil
		}
		// money arrived for an order that was closed in the meantime
		res = newResult(dompay.CodeAlreadyConfirmed)
		res.OrderID = o.ID
		return res, nil, nil
	}
	if !cb.Amount.Equal(o.Total()) {
		res = newResult(dompay.CodeInvalidAmount)
		res.OrderID = o.ID
		return res, nil, nil
	}

	if !cb.Succeeded() && cb.Reference != o.PaymentRef {
		res.Superseded = true
		return res, nil, nil
	}
	if !cb.Succeeded() {
		tr, err := r.orders.Transition(ctx, repos, o, domorder.StatusCancelled, gatewayActor, r.restoreOnFailure)
		if err != nil {
			return nil, nil, err
		}
		return res, tr.WithReason(dominv.ReasonPaymentFailed).Events(o), nil
	}

	from := o.Status
	if err := o.Settle(cb.TransactionNo, r.now()); err != nil {
		return nil, nil, err
	}
	if err := repos.Orders.Update(ctx, o); err != nil {
		return nil, nil, err
	}
	rec := dompay.NewRecord(o.ID, o.PaymentMethod, cb.Amount)
	if err := repos.Payments.Append(ctx, &rec); err != nil {
		return nil, nil, err
	}

	res.Settled = true
	return res, []domoutbox.Event{
		domorder.NewStatusChangedEvent(o, from),
		domorder.NewPaymentSettledEvent(o),
	}, nil
}

// resolveOrder correlates through the references issued at initiation. A success on an older
// reference still settles the order, since its redirect stays valid until it expires.
func resolveOrder(ctx context.Context, orders domorder.Repository, cb *dompay.Callback) (*domorder.Order, error) {
	return orders.FindByPaymentRef(ctx, cb.Reference)
}
