package inventory

import "time"

const (
	ReasonOrderPlaced    = "order_placed"
	ReasonOrderCancelled = "order_cancelled"
	ReasonPaymentFailed  = "payment_failed"
	ReasonRestock        = "restock"
)

// StockChangedEvent is emitted after a committed change to a product's stock.
type StockChangedEvent struct {
	ProductID  string
	Delta      int
	Remaining  int
	Reason     string
	OrderID    string
	OccurredAt time.Time
}

func (StockChangedEvent) EventName() string { return "inventory.stock_changed" }

func (e StockChangedEvent) AggregateID() string { return e.ProductID }

func NewStockChangedEvent(productID string, delta, remaining int, reason, orderID string) StockChangedEvent {
	return StockChangedEvent{
		ProductID:  productID,
		Delta:      delta,
		Remaining:  remaining,
		Reason:     reason,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
	}
}
