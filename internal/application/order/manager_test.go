package order

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/application/apptest"
	appinv "github.com/Zhima-Mochi/storefront-reconciler/internal/application/inventory"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/memory"
	infraobs "github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/sqlite"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
)

type fixture struct {
	store   *sqlite.Store
	manager *Manager
	events  *apptest.Recorder
	mailer  *memory.Mailer
}

func sequentialIDs() application.IDFunc {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("o-%d", n.Add(1)) }
}

func setup(t *testing.T, tel observability.Observability) *fixture {
	t.Helper()
	store := apptest.NewStore(t)
	events := &apptest.Recorder{}
	mailer := memory.NewMailer(nil)
	ledger := appinv.NewLedger(store, store.Lots(), events, tel)
	m := NewManager(store, store.Repositories().Orders, store.Catalog(), ledger, events, mailer, sequentialIDs(), tel)
	return &fixture{store: store, manager: m, events: events, mailer: mailer}
}

func orderFor(userID, method string, items ...ItemRequest) CreateOrderCommand {
	return CreateOrderCommand{
		UserID:        userID,
		PaymentMethod: method,
		Shipping:      domorder.Shipping{FullName: "Nguyen Lan", Phone: "0900000000", Address: "1 Trang Tien", City: "Hanoi"},
		Items:         items,
	}
}

func item(productID string, qty int) ItemRequest {
	return ItemRequest{ProductID: productID, Quantity: qty}
}

func TestCreateOrderDeductsAcrossLots(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	apptest.SeedProduct(t, f.store, "p-1", "25000", 3, 5)

	o, err := f.manager.CreateOrder(ctx, orderFor(apptest.CustomerID, "VNPAY", item("p-1", 4)))
	require.NoError(t, err)

	assert.Equal(t, domorder.StatusPending, o.Status)
	assert.Equal(t, domorder.PaymentPending, o.PaymentStatus)
	assert.True(t, o.Total().Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, []int{0, 4}, apptest.Stocks(t, f.store, "p-1"))

	stored, err := f.store.Repositories().Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "Product p-1", stored.Items[0].ProductName)

	require.Len(t, f.events.Events(), 1)
	evt := f.events.Events()[0].(dominv.StockChangedEvent)
	assert.Equal(t, -4, evt.Delta)
	assert.Equal(t, 4, evt.Remaining)
	assert.Equal(t, o.ID, evt.OrderID)

	// gateway orders are confirmed on settlement
	assert.Empty(t, f.mailer.Sent())
}

func TestCreateOrderIsAtomicAcrossItems(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	apptest.SeedProduct(t, f.store, "p-1", "10", 3)
	apptest.SeedProduct(t, f.store, "p-2", "10", 1)

	_, err := f.manager.CreateOrder(ctx, orderFor(apptest.CustomerID, "CASH", item("p-1", 2), item("p-2", 5)))

	var stockErr *dominv.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "p-2", stockErr.ProductID)
	assert.Equal(t, "Product p-2", stockErr.ProductName)
	assert.Equal(t, 1, stockErr.Available)

	assert.Equal(t, []int{3}, apptest.Stocks(t, f.store, "p-1"))
	assert.Equal(t, []int{1}, apptest.Stocks(t, f.store, "p-2"))
	orders, err := f.store.Repositories().Orders.ListByUser(ctx, apptest.CustomerID)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.events.Events())
	assert.Empty(t, f.mailer.Sent())
}

func TestCreateOrderPrefersPriceSnapshot(t *testing.T) {
	f := setup(t, nil)
	apptest.SeedProduct(t, f.store, "p-1", "100", 5)

	discounted := decimal.RequireFromString("80.50")
	req := item("p-1", 2)
	req.UnitPrice = &discounted

	o, err := f.manager.CreateOrder(context.Background(), orderFor(apptest.CustomerID, "CASH", req))
	require.NoError(t, err)
	assert.True(t, o.Total().Equal(decimal.RequireFromString("161")))
}

func TestCreateOrderValidation(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	apptest.SeedProduct(t, f.store, "p-1", "10", 5)

	tests := []struct {
		name string
		cmd  CreateOrderCommand
		want error
	}{
		{"unknown user", orderFor("ghost", "CASH", item("p-1", 1)), catalog.ErrUserNotFound},
		{"unknown product", orderFor(apptest.CustomerID, "CASH", item("p-9", 1)), catalog.ErrProductNotFound},
		{"unknown method", orderFor(apptest.CustomerID, "BARTER", item("p-1", 1)), ErrValidation},
		{"zero quantity", orderFor(apptest.CustomerID, "CASH", item("p-1", 0)), ErrValidation},
		{"no items", orderFor(apptest.CustomerID, "CASH"), ErrValidation},
		{"no user", orderFor("", "CASH", item("p-1", 1)), ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.CreateOrder(ctx, tt.cmd)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, []int{5}, apptest.Stocks(t, f.store, "p-1"))
}

func TestCashOrderIsConfirmedOnPlacement(t *testing.T) {
	f := setup(t, nil)
	apptest.SeedProduct(t, f.store, "p-1", "10", 5)

	o, err := f.manager.CreateOrder(context.Background(), orderFor(apptest.CustomerID, "CASH", item("p-1", 2)))
	require.NoError(t, err)

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, o.ID, sent[0].OrderID)
	assert.Equal(t, "lan@example.com", sent[0].Email)
	assert.True(t, sent[0].Total.Equal(decimal.NewFromInt(20)))
}

func TestCancelRestoresDeductedStock(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	apptest.SeedProduct(t, f.store, "p-1", "10", 3, 5)
	apptest.SeedProduct(t, f.store, "p-2", "10", 2)

	o, err := f.manager.CreateOrder(ctx, orderFor(apptest.CustomerID, "VNPAY", item("p-1", 4), item("p-2", 2)))
	require.NoError(t, err)
	f.events.Reset()

	cancelled, err := f.manager.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorID: apptest.CustomerID})
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusCancelled, cancelled.Status)

	// everything comes back to the first lot of each product
	assert.Equal(t, []int{4, 4}, apptest.Stocks(t, f.store, "p-1"))
	assert.Equal(t, []int{2}, apptest.Stocks(t, f.store, "p-2"))

	assert.Equal(t, []string{
		"order.status_changed",
		"inventory.stock_changed",
		"inventory.stock_changed",
	}, f.events.Names())
	changed := f.events.Events()[0].(domorder.StatusChangedEvent)
	assert.Equal(t, domorder.StatusPending, changed.From)
	assert.Equal(t, domorder.StatusCancelled, changed.To)
	restored := f.events.Events()[1].(dominv.StockChangedEvent)
	assert.Equal(t, 4, restored.Delta)
	assert.Equal(t, dominv.ReasonOrderCancelled, restored.Reason)
}

func TestCancelEnforcesOwnershipAndState(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	apptest.SeedProduct(t, f.store, "p-1", "10", 5)

	o, err := f.manager.CreateOrder(ctx, orderFor(apptest.CustomerID, "CASH", item("p-1", 2)))
	require.NoError(t, err)

	_, err = f.manager.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorID: apptest.OtherID})
	assert.ErrorIs(t, err, domorder.ErrForbidden)
	assert.Equal(t, []int{3}, apptest.Stocks(t, f.store, "p-1"))

	_, err = f.manager.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorID: apptest.AdminID})
	require.NoError(t, err)
	assert.Equal(t, []int{5}, apptest.Stocks(t, f.store, "p-1"))

	_, err = f.manager.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorID: apptest.CustomerID})
	assert.ErrorIs(t, err, domorder.ErrInvalidStateTransition)
	assert.Equal(t, []int{5}, apptest.Stocks(t, f.store, "p-1"))

	_, err = f.manager.Cancel(ctx, CancelCommand{OrderID: "missing", ActorID: apptest.AdminID})
	assert.ErrorIs(t, err, domorder.ErrNotFound)
}

func TestUpdateStatus(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	apptest.SeedProduct(t, f.store, "p-1", "10", 5)

	o, err := f.manager.CreateOrder(ctx, orderFor(apptest.CustomerID, "CASH", item("p-1", 2)))
	require.NoError(t, err)

	_, err = f.manager.UpdateStatus(ctx, UpdateStatusCommand{OrderID: o.ID, Status: "SHIPPED", ActorID: apptest.CustomerID})
	assert.ErrorIs(t, err, domorder.ErrForbidden)

	_, err = f.manager.UpdateStatus(ctx, UpdateStatusCommand{OrderID: o.ID, Status: "PAID", ActorID: apptest.AdminID})
	assert.ErrorIs(t, err, domorder.ErrInvalidStateTransition)

	_, err = f.manager.UpdateStatus(ctx, UpdateStatusCommand{OrderID: o.ID, Status: "LOST", ActorID: apptest.AdminID})
	assert.ErrorIs(t, err, ErrValidation)

	f.events.Reset()
	shipped, err := f.manager.UpdateStatus(ctx, UpdateStatusCommand{OrderID: o.ID, Status: "SHIPPED", ActorID: apptest.AdminID})
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusShipped, shipped.Status)
	// leaving PENDING for anything but CANCELLED keeps the stock deducted
	assert.Equal(t, []int{3}, apptest.Stocks(t, f.store, "p-1"))
	assert.Equal(t, []string{"order.status_changed"}, f.events.Names())

	f.events.Reset()
	same, err := f.manager.UpdateStatus(ctx, UpdateStatusCommand{OrderID: o.ID, Status: "SHIPPED", ActorID: apptest.AdminID})
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusShipped, same.Status)
	assert.Empty(t, f.events.Events())

	_, err = f.manager.UpdateStatus(ctx, UpdateStatusCommand{OrderID: o.ID, Status: "CANCELLED", ActorID: apptest.AdminID})
	assert.ErrorIs(t, err, domorder.ErrInvalidStateTransition)
}

func TestUpdateStatusToCancelledRestoresStock(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	apptest.SeedProduct(t, f.store, "p-1", "10", 5)

	o, err := f.manager.CreateOrder(ctx, orderFor(apptest.CustomerID, "CASH", item("p-1", 2)))
	require.NoError(t, err)

	_, err = f.manager.UpdateStatus(ctx, UpdateStatusCommand{OrderID: o.ID, Status: "CANCELLED", ActorID: apptest.AdminID})
	require.NoError(t, err)
	assert.Equal(t, []int{5}, apptest.Stocks(t, f.store, "p-1"))
}

func TestUpdateStatusCannotShipUnpaidGatewayOrder(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	apptest.SeedProduct(t, f.store, "p-1", "10", 5)

	o, err := f.manager.CreateOrder(ctx, orderFor(apptest.CustomerID, "VNPAY", item("p-1", 2)))
	require.NoError(t, err)

	_, err = f.manager.UpdateStatus(ctx, UpdateStatusCommand{OrderID: o.ID, Status: "SHIPPED", ActorID: apptest.AdminID})
	assert.ErrorIs(t, err, domorder.ErrInvalidStateTransition)

	stored, err := f.store.Repositories().Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPending, stored.Status)
	assert.Equal(t, []int{3}, apptest.Stocks(t, f.store, "p-1"))
}

func TestConcurrentOrdersDoNotOversell(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	apptest.SeedProduct(t, f.store, "p-1", "10", 4)

	var (
		succeeded atomic.Int32
		errs      = make([]error, 2)
	)
	g, gctx := errgroup.WithContext(ctx)
	for i, user := range []string{apptest.CustomerID, apptest.OtherID} {
		i, user := i, user
		g.Go(func() error {
			_, err := f.manager.CreateOrder(gctx, orderFor(user, "CASH", item("p-1", 3)))
			if err == nil {
				succeeded.Add(1)
			}
			errs[i] = err
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), succeeded.Load())
	failed := errs[0]
	if failed == nil {
		failed = errs[1]
	}
	var stockErr *dominv.InsufficientStockError
	require.True(t, errors.As(failed, &stockErr))
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, []int{1}, apptest.Stocks(t, f.store, "p-1"))
}

func TestGetAndListEnforceVisibility(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	apptest.SeedProduct(t, f.store, "p-1", "10", 5)

	o, err := f.manager.CreateOrder(ctx, orderFor(apptest.CustomerID, "CASH", item("p-1", 1)))
	require.NoError(t, err)

	_, err = f.manager.Get(ctx, o.ID, apptest.CustomerID)
	require.NoError(t, err)
	_, err = f.manager.Get(ctx, o.ID, apptest.AdminID)
	require.NoError(t, err)
	_, err = f.manager.Get(ctx, o.ID, apptest.OtherID)
	assert.ErrorIs(t, err, domorder.ErrForbidden)

	orders, err := f.manager.ListByUser(ctx, apptest.CustomerID, apptest.CustomerID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	_, err = f.manager.ListByUser(ctx, apptest.CustomerID, apptest.OtherID)
	assert.ErrorIs(t, err, domorder.ErrForbidden)
}

func TestCreateOrderRecordsUseCaseSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	tel := infraobs.New(oteltrace.NewWithProvider(tp, "test"), nil, nil, nil)

	f := setup(t, tel)
	apptest.SeedProduct(t, f.store, "p-1", "10", 1)

	_, err := f.manager.CreateOrder(context.Background(), orderFor(apptest.CustomerID, "CASH", item("p-1", 2)))
	require.Error(t, err)

	var found bool
	for _, s := range recorder.Ended() {
		if s.Name() != "UC.CreateOrder" {
			continue
		}
		found = true
		assert.Contains(t, s.Attributes(), attribute.String("use_case", "order.create"))
		assert.Equal(t, "INSUFFICIENT_STOCK", s.Status().Description)
	}
	assert.True(t, found, "UC.CreateOrder span not recorded")
}
