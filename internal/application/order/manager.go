package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	appinv "github.com/Zhima-Mochi/storefront-reconciler/internal/application/inventory"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService        = "order-service"
	useCaseCreate       = "order.create"
	useCaseUpdateStatus = "order.update_status"
	useCaseCancel       = "order.cancel"

	defaultConflictAttempts = 3
)

var ErrValidation = errors.New("order: invalid request")

func newValidation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// Manager creates orders, enforces the order state machine and keeps inventory in step with it.
type Manager struct {
	tx        application.TxRunner
	orders    domorder.Repository
	catalog   catalog.Reader
	ledger    StockLedger
	publisher domoutbox.Publisher
	mailer    application.Mailer
	ids       application.IDGenerator
	inst      application.Instrument

	conflictAttempts int
}

type Option func(*Manager)

// WithConflictAttempts bounds how often a transaction is replayed after an optimistic conflict.
func WithConflictAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.conflictAttempts = n
		}
	}
}

func NewManager(
	tx application.TxRunner,
	orders domorder.Repository,
	catalogReader catalog.Reader,
	ledger StockLedger,
	publisher domoutbox.Publisher,
	mailer application.Mailer,
	ids application.IDGenerator,
	tel observability.Observability,
	opts ...Option,
) *Manager {
	m := &Manager{
		tx:               tx,
		orders:           orders,
		catalog:          catalogReader,
		ledger:           ledger,
		publisher:        publisher,
		mailer:           mailer,
		ids:              ids,
		inst:             application.NewInstrument(tel, orderService),
		conflictAttempts: defaultConflictAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type ItemRequest struct {
	ProductID string
	Quantity  int
	// UnitPrice overrides the catalog price, e.g. a price the storefront already discounted.
	UnitPrice *decimal.Decimal
}

type CreateOrderCommand struct {
	UserID        string
	PaymentMethod string
	Shipping      domorder.Shipping
	Items         []ItemRequest
}

// CreateOrder validates the request, deducts stock for every item and persists the order,
// all in one transaction.
func (m *Manager) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (_ *domorder.Order, err error) {
	ctx, call := m.inst.Begin(ctx, useCaseCreate, "CreateOrder",
		attribute.String("order.user_id", cmd.UserID),
		attribute.Int("order.items", len(cmd.Items)),
	)
	defer func() { call.End(err) }()

	if cmd.UserID == "" {
		call.Fail("USER_ID_REQUIRED")
		return nil, newValidation("user id is required")
	}
	if len(cmd.Items) == 0 {
		call.Fail("ITEMS_REQUIRED")
		return nil, newValidation("at least one item is required")
	}
	method, err := dompay.ParseMethod(cmd.PaymentMethod)
	if err != nil {
		call.Fail("PAYMENT_METHOD_INVALID")
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	user, err := m.catalog.User(ctx, cmd.UserID)
	if err != nil {
		call.Fail("USER_LOOKUP_FAILED")
		return nil, err
	}

	items := make([]domorder.Item, 0, len(cmd.Items))
	names := make(map[string]string, len(cmd.Items))
	for _, req := range cmd.Items {
		if req.Quantity <= 0 {
			call.Fail("QUANTITY_INVALID")
			return nil, newValidation("quantity must be greater than zero")
		}
		product, err := m.catalog.Product(ctx, req.ProductID)
		if err != nil {
			call.Fail("PRODUCT_LOOKUP_FAILED")
			return nil, err
		}
		price := product.Price
		if req.UnitPrice != nil {
			price = *req.UnitPrice
		}
		names[product.ID] = product.Name
		items = append(items, domorder.Item{
			ProductID:       product.ID,
			Quantity:        req.Quantity,
			UnitPrice:       price,
			ProductName:     product.Name,
			ProductImageURL: product.ImageURL,
		})
	}

	o, err := domorder.New(m.ids.NewID(), user.ID, method, cmd.Shipping, items)
	if err != nil {
		call.Fail("DOMAIN_CONSTRUCTION_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	call.Field("order_id", o.ID)
	call.Span().SetAttributes(attribute.String("order.id", o.ID))

	var deductions []*appinv.Result
	err = application.RetryOnConflict(ctx, m.conflictAttempts, func(int) error {
		deductions = deductions[:0]
		return m.tx.WithTx(ctx, func(ctx context.Context, repos application.Repositories) error {
			for _, it := range o.Items {
				res, err := m.ledger.Deduct(ctx, repos.Lots, it.ProductID, it.Quantity, user.ID)
				if err != nil {
					return err
				}
				deductions = append(deductions, res)
			}
			return repos.Orders.Insert(ctx, o)
		})
	})
	if err != nil {
		var stockErr *dominv.InsufficientStockError
		switch {
		case errors.As(err, &stockErr):
			stockErr.ProductName = names[stockErr.ProductID]
			call.Fail("INSUFFICIENT_STOCK")
		case application.IsConflict(err):
			call.Fail("CONFLICT")
		default:
			call.Fail("ORDER_PERSIST_FAILED")
		}
		return nil, err
	}

	events := make([]domoutbox.Event, 0, len(deductions))
	for _, d := range deductions {
		events = append(events, dominv.NewStockChangedEvent(d.ProductID, -d.Quantity, d.Remaining, dominv.ReasonOrderPlaced, o.ID))
	}
	application.Publish(ctx, m.publisher, call, events...)

	if method.ConfirmsOnPlacement() && m.mailer != nil {
		if mailErr := m.mailer.SendOrderConfirmation(ctx, application.NewOrderConfirmation(o, user)); mailErr != nil {
			call.Status("CONFIRMATION_EMAIL_FAILED")
			call.Logger().Warn("confirmation_email_failed",
				observability.F("order_id", o.ID),
				observability.Err(mailErr),
			)
		}
	}

	call.Span().AddEvent("order.created", trace.WithAttributes(
		attribute.String("order.status", string(o.Status)),
		attribute.String("order.total", o.Total().String()),
	))
	return o, nil
}

type UpdateStatusCommand struct {
	OrderID string
	Status  string
	ActorID string
}

// UpdateStatus is the operational path for staff. PAID is reserved for payment settlement.
func (m *Manager) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (_ *domorder.Order, err error) {
	ctx, call := m.inst.Begin(ctx, useCaseUpdateStatus, "UpdateStatus",
		attribute.String("order.id", cmd.OrderID),
		attribute.String("order.target_status", cmd.Status),
	)
	defer func() { call.End(err) }()
	call.Field("order_id", cmd.OrderID)

	target, err := domorder.ParseStatus(cmd.Status)
	if err != nil {
		call.Fail("STATUS_INVALID")
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if target == domorder.StatusPaid {
		call.Fail("STATUS_RESERVED")
		return nil, fmt.Errorf("%w: PAID is set by payment settlement", domorder.ErrInvalidStateTransition)
	}

	actor, err := m.catalog.User(ctx, cmd.ActorID)
	if err != nil {
		call.Fail("ACTOR_LOOKUP_FAILED")
		return nil, err
	}
	if !actor.IsAdmin() {
		call.Fail("FORBIDDEN")
		return nil, domorder.ErrForbidden
	}

	o, err := m.transition(ctx, call, cmd.OrderID, target, actor.ID, nil)
	return o, err
}

type CancelCommand struct {
	OrderID string
	ActorID string
}

// Cancel cancels a PENDING order on behalf of its owner or an administrator and restores its stock.
func (m *Manager) Cancel(ctx context.Context, cmd CancelCommand) (_ *domorder.Order, err error) {
	ctx, call := m.inst.Begin(ctx, useCaseCancel, "Cancel",
		attribute.String("order.id", cmd.OrderID),
	)
	defer func() { call.End(err) }()
	call.Field("order_id", cmd.OrderID)

	actor, err := m.catalog.User(ctx, cmd.ActorID)
	if err != nil {
		call.Fail("ACTOR_LOOKUP_FAILED")
		return nil, err
	}

	guard := func(o *domorder.Order) error {
		if !o.OwnedBy(actor.ID) && !actor.IsAdmin() {
			return domorder.ErrForbidden
		}
		if o.Status != domorder.StatusPending {
			return fmt.Errorf("%w: only PENDING orders can be cancelled, order is %s",
				domorder.ErrInvalidStateTransition, o.Status)
		}
		return nil
	}
	return m.transition(ctx, call, cmd.OrderID, domorder.StatusCancelled, actor.ID, guard)
}

func (m *Manager) transition(
	ctx context.Context,
	call *application.Call,
	orderID string,
	target domorder.Status,
	actorID string,
	guard func(*domorder.Order) error,
) (*domorder.Order, error) {
	var (
		o   *domorder.Order
		res *TransitionResult
	)
	err := application.RetryOnConflict(ctx, m.conflictAttempts, func(int) error {
		return m.tx.WithTx(ctx, func(ctx context.Context, repos application.Repositories) error {
			var err error
			if o, err = repos.Orders.Get(ctx, orderID); err != nil {
				return err
			}
			if guard != nil {
				if err := guard(o); err != nil {
					return err
				}
			}
			res, err = m.Transition(ctx, repos, o, target, actorID, true)
			return err
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, domorder.ErrNotFound):
			call.Fail("ORDER_NOT_FOUND")
		case errors.Is(err, domorder.ErrForbidden):
			call.Fail("FORBIDDEN")
		case errors.Is(err, domorder.ErrInvalidStateTransition):
			call.Fail("ILLEGAL_TRANSITION")
		case application.IsConflict(err):
			call.Fail("CONFLICT")
		default:
			call.Fail("TRANSITION_FAILED")
		}
		return nil, err
	}

	if !res.Changed {
		call.Status("UNCHANGED")
		return o, nil
	}
	call.Field("from", string(res.From))
	call.Field("to", string(o.Status))
	application.Publish(ctx, m.publisher, call, res.Events(o)...)
	return o, nil
}

// TransitionResult reports what an in-transaction transition did.
type TransitionResult struct {
	Changed  bool
	From     domorder.Status
	Restored []*appinv.Result
	reason   string
}

// Events lists the events to publish once the transaction has committed.
func (r *TransitionResult) Events(o *domorder.Order) []domoutbox.Event {
	if r == nil || !r.Changed {
		return nil
	}
	events := make([]domoutbox.Event, 0, len(r.Restored)+1)
	events = append(events, domorder.NewStatusChangedEvent(o, r.From))
	for _, rs := range r.Restored {
		events = append(events, dominv.NewStockChangedEvent(rs.ProductID, rs.Quantity, rs.Remaining, r.reason, o.ID))
	}
	return events
}

// Transition moves o to target using repositories of the caller's transaction and persists it.
// Leaving PENDING for CANCELLED restores every item's quantity when restore is set; no other
// transition touches stock. A transition to the current status changes nothing.
func (m *Manager) Transition(
	ctx context.Context,
	repos application.Repositories,
	o *domorder.Order,
	target domorder.Status,
	actorID string,
	restore bool,
) (*TransitionResult, error) {
	from := o.Status
	changed, err := o.TransitionTo(target)
	if err != nil {
		return nil, err
	}
	res := &TransitionResult{Changed: changed, From: from, reason: dominv.ReasonOrderCancelled}
	if !changed {
		return res, nil
	}

	if target == domorder.StatusCancelled && from == domorder.StatusPending && restore {
		for _, it := range o.Items {
			r, err := m.ledger.Restore(ctx, repos.Lots, it.ProductID, it.Quantity, actorID)
			if err != nil {
				return nil, err
			}
			res.Restored = append(res.Restored, r)
		}
	}

	if err := repos.Orders.Update(ctx, o); err != nil {
		return nil, err
	}
	return res, nil
}

// WithReason overrides the stock-change reason reported for restored items.
func (r *TransitionResult) WithReason(reason string) *TransitionResult {
	if r != nil {
		r.reason = reason
	}
	return r
}
