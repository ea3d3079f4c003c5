package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appinv "github.com/Zhima-Mochi/storefront-reconciler/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/storefront-reconciler/internal/application/order"
	apppay "github.com/Zhima-Mochi/storefront-reconciler/internal/application/payment"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
	dompay "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
)

type fakeOrders struct {
	created  apporder.CreateOrderCommand
	createFn func(apporder.CreateOrderCommand) (*domorder.Order, error)
	getErr   error
}

func (f *fakeOrders) CreateOrder(_ context.Context, cmd apporder.CreateOrderCommand) (*domorder.Order, error) {
	f.created = cmd
	return f.createFn(cmd)
}

func (f *fakeOrders) UpdateStatus(_ context.Context, cmd apporder.UpdateStatusCommand) (*domorder.Order, error) {
	return nil, domorder.ErrForbidden
}

func (f *fakeOrders) Cancel(_ context.Context, cmd apporder.CancelCommand) (*domorder.Order, error) {
	return nil, errors.New("disk on fire")
}

func (f *fakeOrders) Get(_ context.Context, orderID, _ string) (*domorder.Order, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return sampleOrder(orderID), nil
}

func (f *fakeOrders) ListByUser(_ context.Context, userID, _ string) ([]*domorder.Order, error) {
	return []*domorder.Order{sampleOrder("o-1"), sampleOrder("o-2")}, nil
}

type fakeCallbacks struct {
	res *apppay.CallbackResult
	err error
}

func (f *fakeCallbacks) HandleCallback(_ context.Context, _ map[string]string) (*apppay.CallbackResult, error) {
	return f.res, f.err
}

type fakeInventory struct {
	restocked appinv.RestockCommand
}

func (f *fakeInventory) Stock(_ context.Context, productID string) ([]dominv.Lot, int, error) {
	return []dominv.Lot{{ID: 1, ProductID: productID, Stock: 3}, {ID: 2, ProductID: productID, Stock: 4}}, 7, nil
}

func (f *fakeInventory) Restock(_ context.Context, cmd appinv.RestockCommand) (*dominv.Lot, error) {
	f.restocked = cmd
	return &dominv.Lot{ID: cmd.LotID, ProductID: "p-1", Stock: cmd.NewStock, LastModifiedBy: cmd.Actor}, nil
}

type fakeUsers struct{}

func (fakeUsers) Product(_ context.Context, id string) (*catalog.Product, error) {
	return nil, catalog.ErrProductNotFound
}

func (fakeUsers) User(_ context.Context, id string) (*catalog.User, error) {
	switch id {
	case "admin":
		return &catalog.User{ID: id, Role: catalog.RoleAdmin}, nil
	case "u-1":
		return &catalog.User{ID: id, Role: catalog.RoleCustomer}, nil
	}
	return nil, catalog.ErrUserNotFound
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func sampleOrder(id string) *domorder.Order {
	o, _ := domorder.New(id, "u-1", dompay.MethodCash, domorder.Shipping{FullName: "An"}, []domorder.Item{
		{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.NewFromInt(100), ProductName: "Tea"},
	})
	return o
}

func newTestHandler(orders *fakeOrders, callbacks *fakeCallbacks, inv *fakeInventory, health Pinger) http.Handler {
	return NewHandler(Deps{
		Orders:    orders,
		Callbacks: callbacks,
		Inventory: inv,
		Users:     fakeUsers{},
		Health:    health,
	}, nil).Router()
}

func do(t *testing.T, h http.Handler, method, target, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateOrder(t *testing.T) {
	orders := &fakeOrders{createFn: func(cmd apporder.CreateOrderCommand) (*domorder.Order, error) {
		return sampleOrder("o-9"), nil
	}}
	h := newTestHandler(orders, &fakeCallbacks{}, &fakeInventory{}, nil)

	rec := do(t, h, http.MethodPost, "/orders", "u-1",
		`{"payment_method":"CASH","shipping":{"full_name":"An","phone":"090","address":"1 Le Loi"},"items":[{"product_id":"p-1","quantity":2}]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
	assert.Equal(t, "u-1", orders.created.UserID)
	require.Len(t, orders.created.Items, 1)
	assert.Nil(t, orders.created.Items[0].UnitPrice)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "o-9", body["id"])
	assert.Equal(t, "200", body["total_amount"])
	assert.EqualValues(t, 2, body["total_quantity"])
}

func TestCreateOrderRequiresActor(t *testing.T) {
	h := newTestHandler(&fakeOrders{}, &fakeCallbacks{}, &fakeInventory{}, nil)
	rec := do(t, h, http.MethodPost, "/orders", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateOrderRejectsUnknownFields(t *testing.T) {
	h := newTestHandler(&fakeOrders{}, &fakeCallbacks{}, &fakeInventory{}, nil)
	rec := do(t, h, http.MethodPost, "/orders", "u-1", `{"customer":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	orders := &fakeOrders{createFn: func(apporder.CreateOrderCommand) (*domorder.Order, error) {
		return nil, &dominv.InsufficientStockError{ProductID: "p-1", ProductName: "Tea", Requested: 3, Available: 1}
	}}
	h := newTestHandler(orders, &fakeCallbacks{}, &fakeInventory{}, nil)

	rec := do(t, h, http.MethodPost, "/orders", "u-1",
		`{"payment_method":"CASH","items":[{"product_id":"p-1","quantity":3}]}`)

	require.Equal(t, http.StatusConflict, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "p-1", body.ProductID)
	require.NotNil(t, body.Available)
	assert.Equal(t, 1, *body.Available)
	assert.Contains(t, body.Error, "Tea")
}

func TestErrorMapping(t *testing.T) {
	h := newTestHandler(&fakeOrders{getErr: domorder.ErrNotFound}, &fakeCallbacks{}, &fakeInventory{}, nil)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/orders/o-1", "u-1", "").Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPatch, "/orders/o-1/status", "u-1", `{"status":"SHIPPED"}`).Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, h, http.MethodPost, "/orders/o-1/cancel", "u-1", "").Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domorder.ErrInvalidStateTransition, http.StatusConflict},
		{apporder.ErrValidation, http.StatusBadRequest},
		{catalog.ErrProductNotFound, http.StatusNotFound},
		{dompay.ErrTransient, http.StatusServiceUnavailable},
		{errors.Join(domorder.ErrConflict, dompay.ErrTransient), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestListOrders(t *testing.T) {
	h := newTestHandler(&fakeOrders{}, &fakeCallbacks{}, &fakeInventory{}, nil)
	rec := do(t, h, http.MethodGet, "/users/u-1/orders", "u-1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var views []orderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Len(t, views, 2)
}

func TestIPNAlwaysAnswers200(t *testing.T) {
	callbacks := &fakeCallbacks{
		res: &apppay.CallbackResult{Code: dompay.CodeInvalidSignature, Message: apppay.Message(dompay.CodeInvalidSignature)},
		err: dompay.ErrInvalidSignature,
	}
	h := newTestHandler(&fakeOrders{}, callbacks, &fakeInventory{}, nil)

	rec := do(t, h, http.MethodGet, "/payments/vnpay/ipn?vnp_TxnRef=abc&vnp_SecureHash=bad", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body ipnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "97", body.RspCode)
	assert.Equal(t, "Invalid signature", body.Message)
}

func TestIPNAcceptsFormPost(t *testing.T) {
	callbacks := &fakeCallbacks{res: &apppay.CallbackResult{Code: dompay.CodeSuccess, Message: "Confirm Success", Settled: true}}
	h := newTestHandler(&fakeOrders{}, callbacks, &fakeInventory{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/payments/vnpay/ipn", strings.NewReader("vnp_TxnRef=abc"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"RspCode":"00"`)
}

func TestPaymentReturn(t *testing.T) {
	settled := &fakeCallbacks{res: &apppay.CallbackResult{
		Code: dompay.CodeSuccess, Message: "Confirm Success", Settled: true,
		OrderID: "o-1", Reference: "ref1", TransactionNo: "14000001", BankCode: "NCB",
		Amount: decimal.NewFromInt(150000),
	}}
	rec := do(t, newTestHandler(&fakeOrders{}, settled, &fakeInventory{}, nil), http.MethodGet, "/payments/vnpay/return?vnp_TxnRef=ref1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body paymentReturnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "o-1", body.OrderID)
	assert.Equal(t, "14000001", body.TransactionNo)
	assert.True(t, decimal.NewFromInt(150000).Equal(body.Amount))

	rejected := &fakeCallbacks{
		res: &apppay.CallbackResult{Code: dompay.CodeInvalidSignature, Message: "Invalid signature"},
		err: dompay.ErrInvalidSignature,
	}
	rec = do(t, newTestHandler(&fakeOrders{}, rejected, &fakeInventory{}, nil), http.MethodGet, "/payments/vnpay/return", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentRoutesDisabledWithoutInitiator(t *testing.T) {
	h := newTestHandler(&fakeOrders{}, &fakeCallbacks{}, &fakeInventory{}, nil)
	rec := do(t, h, http.MethodPost, "/payments/vnpay/create-payment", "u-1", `{"order_id":"o-1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStock(t *testing.T) {
	h := newTestHandler(&fakeOrders{}, &fakeCallbacks{}, &fakeInventory{}, nil)
	rec := do(t, h, http.MethodGet, "/products/p-1/stock", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body stockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 7, body.Total)
	assert.Len(t, body.Lots, 2)
}

func TestRestockRequiresAdmin(t *testing.T) {
	inv := &fakeInventory{}
	h := newTestHandler(&fakeOrders{}, &fakeCallbacks{}, inv, nil)

	rec := do(t, h, http.MethodPut, "/inventory/lots/2", "u-1", `{"stock":10}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPut, "/inventory/lots/2", "admin", `{"stock":10,"reason":"delivery"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), inv.restocked.LotID)
	assert.Equal(t, 10, inv.restocked.NewStock)
	assert.Equal(t, "admin", inv.restocked.Actor)

	rec = do(t, h, http.MethodPut, "/inventory/lots/abc", "admin", `{"stock":10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	ok := newTestHandler(&fakeOrders{}, &fakeCallbacks{}, &fakeInventory{}, fakePinger{})
	assert.Equal(t, http.StatusOK, do(t, ok, http.MethodGet, "/health", "", "").Code)

	down := newTestHandler(&fakeOrders{}, &fakeCallbacks{}, &fakeInventory{}, fakePinger{err: errors.New("database is locked")})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, down, http.MethodGet, "/health", "", "").Code)
}
