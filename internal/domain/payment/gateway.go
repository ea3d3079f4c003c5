package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Response codes returned to the gateway after a callback is processed.
const (
	CodeSuccess          = "00"
	CodeOrderNotFound    = "01"
	CodeAlreadyConfirmed = "02"
	CodeInvalidAmount    = "04"
	CodeInvalidSignature = "97"
	CodeUnknownError     = "99"
)

// InitiateRequest carries everything needed to build a signed redirect for one order.
type InitiateRequest struct {
	OrderID   string
	Reference string
	Amount    decimal.Decimal
	OrderInfo string
	ClientIP  string
	ReturnURL string
	CreatedAt time.Time
}

type Initiation struct {
	PaymentURL string
	Reference  string
	ExpiresAt  time.Time
}

// Callback is a verified gateway notification. Amount is in major currency units.
type Callback struct {
	Reference         string
	TransactionNo     string
	ResponseCode      string
	TransactionStatus string
	BankCode          string
	Amount            decimal.Decimal
	// SignatureSkipped is set when verification was disabled by configuration.
	SignatureSkipped bool
}

func (c *Callback) Succeeded() bool {
	return c.ResponseCode == CodeSuccess && (c.TransactionStatus == "" || c.TransactionStatus == CodeSuccess)
}

// Gateway builds signed payment redirects and authenticates callbacks.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error)
	// VerifyCallback returns ErrInvalidSignature when the parameters were not signed by the gateway.
	VerifyCallback(params map[string]string) (*Callback, error)
}
