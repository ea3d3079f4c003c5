package httppresentation

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	apporder "github.com/Zhima-Mochi/storefront-reconciler/internal/application/order"
	domorder "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
)

type shippingDTO struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Ward     string `json:"ward,omitempty"`
	District string `json:"district,omitempty"`
	City     string `json:"city,omitempty"`
	Note     string `json:"note,omitempty"`
}

type itemRequest struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type createOrderRequest struct {
	PaymentMethod string        `json:"payment_method"`
	Shipping      shippingDTO   `json:"shipping"`
	Items         []itemRequest `json:"items"`
}

type itemView struct {
	ProductID       string          `json:"product_id"`
	ProductName     string          `json:"product_name"`
	ProductImageURL string          `json:"product_image_url,omitempty"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Subtotal        decimal.Decimal `json:"subtotal"`
}

type orderView struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	PaymentMethod string          `json:"payment_method"`
	TransactionID string          `json:"transaction_id,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	Shipping      shippingDTO     `json:"shipping"`
	Items         []itemView      `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalQuantity int             `json:"total_quantity"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newOrderView(o *domorder.Order) orderView {
	v := orderView{
		ID:            o.ID,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		PaymentMethod: string(o.PaymentMethod),
		TransactionID: o.TransactionID,
		PaidAt:        o.PaidAt,
		Shipping:      shippingDTO(o.Shipping),
		Items:         make([]itemView, 0, len(o.Items)),
		TotalAmount:   o.Total(),
		TotalQuantity: o.TotalQuantity(),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, itemView{
			ProductID:       it.ProductID,
			ProductName:     it.ProductName,
			ProductImageURL: it.ProductImageURL,
			Quantity:        it.Quantity,
			UnitPrice:       it.UnitPrice,
			Subtotal:        it.Subtotal(),
		})
	}
	return v
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, errActorRequired)
		return
	}
	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cmd := apporder.CreateOrderCommand{
		UserID:        actor,
		PaymentMethod: req.PaymentMethod,
		Shipping:      domorder.Shipping(req.Shipping),
		Items:         make([]apporder.ItemRequest, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		cmd.Items = append(cmd.Items, apporder.ItemRequest{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	o, err := h.deps.Orders.CreateOrder(r.Context(), cmd)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderView(o))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, errActorRequired)
		return
	}
	o, err := h.deps.Orders.Get(r.Context(), chi.URLParam(r, "orderID"), actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, errActorRequired)
		return
	}
	orders, err := h.deps.Orders.ListByUser(r.Context(), chi.URLParam(r, "userID"), actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, newOrderView(o))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, errActorRequired)
		return
	}
	o, err := h.deps.Orders.Cancel(r.Context(), apporder.CancelCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: actor,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, errActorRequired)
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	o, err := h.deps.Orders.UpdateStatus(r.Context(), apporder.UpdateStatusCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  req.Status,
		ActorID: actor,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}
