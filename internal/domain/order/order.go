package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrNoItems                = errors.New("order: at least one item is required")
	ErrInvalidQuantity        = errors.New("order: quantity must be greater than zero")
	ErrInvalidAmount          = errors.New("order: unit price must be zero or greater")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	ErrInvalidStatus          = errors.New("order: unknown status")
	ErrForbidden              = errors.New("order: actor may not modify this order")
	ErrConflict               = errors.New("order: concurrent modification")
	ErrAlreadyPaid            = errors.New("order: payment already settled")
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusShipped   Status = "SHIPPED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusPaid, StatusShipped, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", ErrInvalidStatus
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

type Shipping struct {
	FullName string
	Phone    string
	Address  string
	Ward     string
	District string
	City     string
	Note     string
}

// Item is a line of an order. Price, name and image are snapshots taken when the order was placed.
type Item struct {
	ProductID       string
	Quantity        int
	UnitPrice       decimal.Decimal
	ProductName     string
	ProductImageURL string
}

func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID            string
	UserID        string
	Status        Status
	PaymentStatus PaymentStatus
	PaymentMethod payment.Method
	// PaymentRef is the opaque correlation id handed to the gateway at initiation.
	PaymentRef    string
	TransactionID string
	PaidAt        *time.Time
	Shipping      Shipping
	Items         []Item
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func New(id, userID string, method payment.Method, shipping Shipping, items []Item) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if it.UnitPrice.IsNegative() {
			return nil, ErrInvalidAmount
		}
	}

	now := time.Now().UTC()
	return &Order{
		ID:            id,
		UserID:        userID,
		Status:        StatusPending,
		PaymentStatus: PaymentPending,
		PaymentMethod: method,
		Shipping:      shipping,
		Items:         append([]Item(nil), items...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

func (o *Order) TotalQuantity() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

func (o *Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

func (o *Order) OwnedBy(userID string) bool { return o.UserID == userID }

// TransitionTo moves the order to the target status. It reports false without error when the order
// is already in that status.
func (o *Order) TransitionTo(target Status) (bool, error) {
	if o.Status == target {
		return false, nil
	}
	current, err := stateFor(o.Status)
	if err != nil {
		return false, err
	}
	next, err := current.On(o, target)
	if err != nil {
		return false, err
	}
	o.Status = next.Status()
	o.touch()
	return true, nil
}

// Settle records a successful gateway payment. The payment status moves PENDING to PAID at most once.
func (o *Order) Settle(transactionID string, at time.Time) error {
	if o.PaymentStatus == PaymentPaid {
		return ErrAlreadyPaid
	}
	if _, err := o.TransitionTo(StatusPaid); err != nil {
		return err
	}
	paidAt := at.UTC()
	o.PaymentStatus = PaymentPaid
	o.TransactionID = transactionID
	o.PaidAt = &paidAt
	o.touch()
	return nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		c.PaidAt = &t
	}
	return &c
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
