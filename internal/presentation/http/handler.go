package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	appinv "github.com/Zhima-Mochi/storefront-reconciler/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/storefront-reconciler/internal/application/order"
	apppay "github.com/Zhima-Mochi/storefront-reconciler/internal/application/payment"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
	dompay "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability/logctx"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerUserID         = "X-User-ID"

	maxBodyBytes = 1 << 20
)

var errActorRequired = errors.New("http: X-User-ID header is required")

type Orders interface {
	CreateOrder(ctx context.Context, cmd apporder.CreateOrderCommand) (*domorder.Order, error)
	UpdateStatus(ctx context.Context, cmd apporder.UpdateStatusCommand) (*domorder.Order, error)
	Cancel(ctx context.Context, cmd apporder.CancelCommand) (*domorder.Order, error)
	Get(ctx context.Context, orderID, actorID string) (*domorder.Order, error)
	ListByUser(ctx context.Context, userID, actorID string) ([]*domorder.Order, error)
}

type PaymentInitiator interface {
	Execute(ctx context.Context, cmd apppay.InitiateCommand) (*apppay.InitiateResult, error)
}

type CallbackHandler interface {
	HandleCallback(ctx context.Context, params map[string]string) (*apppay.CallbackResult, error)
}

type Inventory interface {
	Stock(ctx context.Context, productID string) ([]dominv.Lot, int, error)
	Restock(ctx context.Context, cmd appinv.RestockCommand) (*dominv.Lot, error)
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the use cases the HTTP surface drives. A nil Payments disables the gateway routes.
type Deps struct {
	Orders    Orders
	Payments  PaymentInitiator
	Callbacks CallbackHandler
	Inventory Inventory
	Users     catalog.Reader
	Health    Pinger
}

type Handler struct {
	deps Deps
	log  observability.Logger
	tel  observability.Observability
}

func NewHandler(deps Deps, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		deps: deps,
		log:  tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:  tel,
	}
}

// Router wires each route as Trace → request logger + metrics → access log → handler.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	h.handle(r, http.MethodGet, "/health", h.handleHealth)

	h.handle(r, http.MethodPost, "/orders", h.handleCreateOrder)
	h.handle(r, http.MethodGet, "/orders/{orderID}", h.handleGetOrder)
	h.handle(r, http.MethodPost, "/orders/{orderID}/cancel", h.handleCancelOrder)
	h.handle(r, http.MethodPatch, "/orders/{orderID}/status", h.handleUpdateStatus)
	h.handle(r, http.MethodGet, "/users/{userID}/orders", h.handleListOrders)

	h.handle(r, http.MethodGet, "/products/{productID}/stock", h.handleStock)
	h.handle(r, http.MethodPut, "/inventory/lots/{lotID}", h.handleRestock)

	if h.deps.Payments != nil {
		h.handle(r, http.MethodPost, "/payments/vnpay/create-payment", h.handleCreatePayment)
	}
	if h.deps.Callbacks != nil {
		h.handle(r, http.MethodGet, "/payments/vnpay/return", h.handlePaymentReturn)
		h.handle(r, http.MethodGet, "/payments/vnpay/ipn", h.handlePaymentIPN)
		h.handle(r, http.MethodPost, "/payments/vnpay/ipn", h.handlePaymentIPN)
	}
	return r
}

func (h *Handler) handle(r chi.Router, method, pattern string, handler http.HandlerFunc) {
	route := method + " " + pattern
	wrapped := h.withTrace(
		ObservabilityMiddleware(h.log, h.tel.Metrics())(
			h.withAccessLog(handler),
		),
	)
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// stable template for low-cardinality labels
		wrapped.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), route)))
	}))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Health != nil {
		if err := h.deps.Health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func actorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerUserID))
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error     string `json:"error"`
	ProductID string `json:"product_id,omitempty"`
	Available *int   `json:"available,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// statusFor maps use case errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, dominv.ErrNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, domorder.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, dominv.ErrInsufficientStock),
		errors.Is(err, domorder.ErrInvalidStateTransition),
		errors.Is(err, domorder.ErrAlreadyPaid):
		return http.StatusConflict
	case errors.Is(err, apporder.ErrValidation),
		errors.Is(err, apppay.ErrMethodMismatch),
		errors.Is(err, dominv.ErrInvalidQuantity),
		errors.Is(err, domorder.ErrInvalidStatus),
		errors.Is(err, dompay.ErrEncoding),
		errors.Is(err, dompay.ErrInvalidMethod):
		return http.StatusBadRequest
	case errors.Is(err, domorder.ErrConflict),
		errors.Is(err, dominv.ErrConflict),
		errors.Is(err, dompay.ErrTransient):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logctx.FromOr(r.Context(), h.log).Error("http_request_failed",
			observability.F("route", routeFromContext(r.Context())),
			observability.Err(err),
		)
	}
	body := errorBody{Error: err.Error()}
	var stockErr *dominv.InsufficientStockError
	if errors.As(err, &stockErr) {
		available := stockErr.Available
		body.ProductID = stockErr.ProductID
		body.Available = &available
	}
	writeJSON(w, status, body)
}
