package httppresentation

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	apppay "github.com/Zhima-Mochi/storefront-reconciler/internal/application/payment"
	dompay "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability/logctx"
)

type createPaymentRequest struct {
	OrderID   string `json:"order_id"`
	ReturnURL string `json:"return_url,omitempty"`
}

type createPaymentResponse struct {
	OrderID    string    `json:"order_id"`
	PaymentURL string    `json:"payment_url"`
	Reference  string    `json:"reference"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, errActorRequired)
		return
	}
	var req createPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.deps.Payments.Execute(r.Context(), apppay.InitiateCommand{
		OrderID:   req.OrderID,
		ActorID:   actor,
		ClientIP:  clientIP(r),
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createPaymentResponse{
		OrderID:    res.OrderID,
		PaymentURL: res.PaymentURL,
		Reference:  res.Reference,
		ExpiresAt:  res.ExpiresAt,
	})
}

// callbackParams flattens the query string, plus the form body on POST, keeping the first value.
func callbackParams(r *http.Request) (map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	params := make(map[string]string, len(r.Form))
	for k, vs := range r.Form {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return params, nil
}

type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// handlePaymentIPN answers the gateway's server-to-server notification. The gateway expects 200 for
// every outcome; the result travels in RspCode.
func (h *Handler) handlePaymentIPN(w http.ResponseWriter, r *http.Request) {
	params, err := callbackParams(r)
	if err != nil {
		writeJSON(w, http.StatusOK, ipnResponse{RspCode: dompay.CodeUnknownError, Message: apppay.Message(dompay.CodeUnknownError)})
		return
	}
	res, err := h.deps.Callbacks.HandleCallback(r.Context(), params)
	if err != nil {
		logctx.FromOr(r.Context(), h.log).Warn("payment_ipn_rejected",
			observability.F("code", res.Code),
			observability.Err(err),
		)
	}
	writeJSON(w, http.StatusOK, ipnResponse{RspCode: res.Code, Message: res.Message})
}

type paymentReturnResponse struct {
	Code          string          `json:"code"`
	Message       string          `json:"message"`
	Success       bool            `json:"success"`
	OrderID       string          `json:"order_id,omitempty"`
	TxnRef        string          `json:"txn_ref,omitempty"`
	TransactionNo string          `json:"transaction_no,omitempty"`
	BankCode      string          `json:"bank_code,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Duplicate     bool            `json:"duplicate,omitempty"`
}

// handlePaymentReturn serves the browser redirect. It runs the same reconciliation as the IPN so
// whichever arrives first settles the order.
func (h *Handler) handlePaymentReturn(w http.ResponseWriter, r *http.Request) {
	params, err := callbackParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.deps.Callbacks.HandleCallback(r.Context(), params)
	body := paymentReturnResponse{
		Code:          res.Code,
		Message:       res.Message,
		Success:       res.Settled,
		OrderID:       res.OrderID,
		TxnRef:        res.Reference,
		TransactionNo: res.TransactionNo,
		BankCode:      res.BankCode,
		Amount:        res.Amount,
		Duplicate:     res.Duplicate,
	}

	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, dompay.ErrUnknownReference):
		status = http.StatusNotFound
	case errors.Is(err, dompay.ErrInvalidSignature),
		errors.Is(err, dompay.ErrAmountMismatch):
		status = http.StatusBadRequest
	default:
		status = statusFor(err)
	}
	writeJSON(w, status, body)
}
