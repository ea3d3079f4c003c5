package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusChangedEvent is emitted after a committed status change and drives the owner notification.
type StatusChangedEvent struct {
	OrderID    string
	UserID     string
	From       Status
	To         Status
	OccurredAt time.Time
}

func (StatusChangedEvent) EventName() string { return "order.status_changed" }

func (e StatusChangedEvent) AggregateID() string { return e.OrderID }

func NewStatusChangedEvent(o *Order, from Status) StatusChangedEvent {
	return StatusChangedEvent{
		OrderID:    o.ID,
		UserID:     o.UserID,
		From:       from,
		To:         o.Status,
		OccurredAt: time.Now().UTC(),
	}
}

// PaymentSettledEvent is emitted once per order when a gateway payment settles.
// Its handlers clear the purchased products from the cart and send the confirmation email.
type PaymentSettledEvent struct {
	OrderID       string
	UserID        string
	ProductIDs    []string
	Amount        decimal.Decimal
	TransactionID string
	OccurredAt    time.Time
}

func (PaymentSettledEvent) EventName() string { return "order.payment_settled" }

func (e PaymentSettledEvent) AggregateID() string { return e.OrderID }

func NewPaymentSettledEvent(o *Order) PaymentSettledEvent {
	return PaymentSettledEvent{
		OrderID:       o.ID,
		UserID:        o.UserID,
		ProductIDs:    o.ProductIDs(),
		Amount:        o.Total(),
		TransactionID: o.TransactionID,
		OccurredAt:    time.Now().UTC(),
	}
}
