package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	domorder "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
	dompay "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	paymentService  = "payment-service"
	useCaseInitiate = "payment.initiate"

	externalPeer     = "vnpay"
	externalEndpoint = "initiate"
)

var ErrMethodMismatch = errors.New("payment: order does not use the gateway payment method")

type InitiateCommand struct {
	OrderID   string
	ActorID   string
	ClientIP  string
	ReturnURL string
}

type InitiateResult struct {
	OrderID    string
	PaymentURL string
	Reference  string
	ExpiresAt  time.Time
}

// InitiatePaymentUseCase builds the signed gateway redirect for a pending order and stores
// the correlation reference on it.
type InitiatePaymentUseCase struct {
	tx      application.TxRunner
	orders  domorder.Repository
	gateway dompay.Gateway
	refs    application.IDGenerator
	inst    application.Instrument
	metrics observability.Metrics
}

func NewInitiatePaymentUseCase(
	tx application.TxRunner,
	orders domorder.Repository,
	gateway dompay.Gateway,
	refs application.IDGenerator,
	tel observability.Observability,
) *InitiatePaymentUseCase {
	if tel == nil {
		tel = observability.Nop()
	}
	return &InitiatePaymentUseCase{
		tx:      tx,
		orders:  orders,
		gateway: gateway,
		refs:    refs,
		inst:    application.NewInstrument(tel, paymentService),
		metrics: tel.Metrics(),
	}
}

func (uc *InitiatePaymentUseCase) Execute(ctx context.Context, cmd InitiateCommand) (_ *InitiateResult, err error) {
	ctx, call := uc.inst.Begin(ctx, useCaseInitiate, "InitiatePayment",
		attribute.String("order.id", cmd.OrderID),
	)
	defer func() { call.End(err) }()
	call.Field("order_id", cmd.OrderID)

	o, err := uc.orders.Get(ctx, cmd.OrderID)
	if err != nil {
		call.Fail("ORDER_LOOKUP_FAILED")
		return nil, err
	}
	if cmd.ActorID != "" && !o.OwnedBy(cmd.ActorID) {
		call.Fail("FORBIDDEN")
		return nil, domorder.ErrForbidden
	}
	if o.PaymentMethod != dompay.MethodVNPay {
		call.Fail("METHOD_MISMATCH")
		return nil, ErrMethodMismatch
	}
	if o.Status != domorder.StatusPending || o.PaymentStatus != domorder.PaymentPending {
		call.Fail("ORDER_NOT_PAYABLE")
		return nil, fmt.Errorf("%w: order is %s/%s", domorder.ErrInvalidStateTransition, o.Status, o.PaymentStatus)
	}

	ref := strings.ReplaceAll(uc.refs.NewID(), "-", "")
	start := time.Now()
	started, err := uc.gateway.Initiate(ctx, dompay.InitiateRequest{
		OrderID:   o.ID,
		Reference: ref,
		Amount:    o.Total(),
		OrderInfo: "Thanh toan don hang " + ref,
		ClientIP:  cmd.ClientIP,
		ReturnURL: cmd.ReturnURL,
		CreatedAt: start,
	})
	observability.ExternalCall(uc.metrics, externalPeer, externalEndpoint, start, err)
	if err != nil {
		call.Fail("GATEWAY_ENCODING_FAILED")
		return nil, err
	}

	err = application.RetryOnConflict(ctx, 2, func(int) error {
		return uc.tx.WithTx(ctx, func(ctx context.Context, repos application.Repositories) error {
			current, err := repos.Orders.Get(ctx, o.ID)
			if err != nil {
				return err
			}
			if current.Status != domorder.StatusPending || current.PaymentStatus != domorder.PaymentPending {
				return fmt.Errorf("%w: order is %s/%s", domorder.ErrInvalidStateTransition, current.Status, current.PaymentStatus)
			}
			current.PaymentRef = started.Reference
			return repos.Orders.Update(ctx, current)
		})
	})
	if err != nil {
		call.Fail("REFERENCE_PERSIST_FAILED")
		return nil, err
	}

	call.Field("reference", started.Reference)
	return &InitiateResult{
		OrderID:    o.ID,
		PaymentURL: started.PaymentURL,
		Reference:  started.Reference,
		ExpiresAt:  started.ExpiresAt,
	}, nil
}
