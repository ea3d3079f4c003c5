package httppresentation

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appinv "github.com/Zhima-Mochi/storefront-reconciler/internal/application/inventory"
	domorder "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
)

var errAdminRequired = fmt.Errorf("%w: administrator role required", domorder.ErrForbidden)

type lotView struct {
	ID             int64     `json:"id"`
	ProductID      string    `json:"product_id"`
	Stock          int       `json:"stock"`
	LastModifiedBy string    `json:"last_modified_by,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type stockResponse struct {
	ProductID string    `json:"product_id"`
	Total     int       `json:"total"`
	Lots      []lotView `json:"lots"`
}

func (h *Handler) handleStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	lots, total, err := h.deps.Inventory.Stock(r.Context(), productID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp := stockResponse{ProductID: productID, Total: total, Lots: make([]lotView, 0, len(lots))}
	for _, l := range lots {
		resp.Lots = append(resp.Lots, lotView{
			ID:             l.ID,
			ProductID:      l.ProductID,
			Stock:          l.Stock,
			LastModifiedBy: l.LastModifiedBy,
			UpdatedAt:      l.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type restockRequest struct {
	Stock  int    `json:"stock"`
	Reason string `json:"reason,omitempty"`
}

// handleRestock is an administrator-only absolute stock adjustment of one lot.
func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, errActorRequired)
		return
	}
	lotID, err := strconv.ParseInt(chi.URLParam(r, "lotID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req restockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.deps.Users.User(r.Context(), actor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !user.IsAdmin() {
		h.writeDomainError(w, r, errAdminRequired)
		return
	}

	lot, err := h.deps.Inventory.Restock(r.Context(), appinv.RestockCommand{
		LotID:    lotID,
		NewStock: req.Stock,
		Actor:    user.ID,
		Reason:   req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lotView{
		ID:             lot.ID,
		ProductID:      lot.ProductID,
		Stock:          lot.Stock,
		LastModifiedBy: lot.LastModifiedBy,
		UpdatedAt:      lot.UpdatedAt,
	})
}
