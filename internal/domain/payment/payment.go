package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidMethod    = errors.New("payment: unknown payment method")
	ErrInvalidSignature = errors.New("payment: invalid callback signature")
	ErrUnknownReference = errors.New("payment: callback does not reference a known order")
	ErrAmountMismatch   = errors.New("payment: callback amount does not match order total")
	ErrEncoding         = errors.New("payment: cannot encode gateway request")
	ErrDuplicateRecord  = errors.New("payment: order already has a payment record")
	// ErrTransient marks a failure the gateway may safely redeliver.
	ErrTransient = errors.New("payment: transient failure, retry later")
)

type Method string

const (
	MethodCash         Method = "CASH"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodCreditCard   Method = "CREDIT_CARD"
	MethodDebitCard    Method = "DEBIT_CARD"
	MethodMomo         Method = "MOMO"
	MethodZaloPay      Method = "ZALOPAY"
	MethodVNPay        Method = "VNPAY"
	MethodShopeePay    Method = "SHOPEEPAY"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodCash, MethodBankTransfer, MethodCreditCard, MethodDebitCard,
		MethodMomo, MethodZaloPay, MethodVNPay, MethodShopeePay:
		return m, nil
	}
	return "", ErrInvalidMethod
}

// ConfirmsOnPlacement reports whether the order confirmation goes out when the order is created
// rather than when a gateway settles it.
func (m Method) ConfirmsOnPlacement() bool { return m == MethodCash }

// SettledByGateway reports whether only a gateway callback can mark the order paid.
func (m Method) SettledByGateway() bool { return m == MethodVNPay }

// Record is the immutable trace of a settled payment. One exists per order at most.
type Record struct {
	ID        int64
	OrderID   string
	Method    Method
	Amount    decimal.Decimal
	CreatedAt time.Time
}

func NewRecord(orderID string, method Method, amount decimal.Decimal) Record {
	return Record{
		OrderID:   orderID,
		Method:    method,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
}
