package application

import (
	"context"

	"github.com/shopspring/decimal"
)

// Audience of a notification.
const (
	AudienceUser   = "user"
	AudienceAdmins = "admins"
)

type Notification struct {
	Audience string
	UserID   string
	Kind     string
	Title    string
	Message  string
	OrderID  string
}

// Notifier delivers in-app notifications. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// CartStore removes purchased products from a user's cart.
type CartStore interface {
	RemoveProducts(ctx context.Context, userID string, productIDs []string) error
}

type ConfirmationLine struct {
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

type OrderConfirmation struct {
	OrderID       string
	UserID        string
	Email         string
	FullName      string
	PaymentMethod string
	Total         decimal.Decimal
	Lines         []ConfirmationLine
}

// Mailer sends the order confirmation email.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, c OrderConfirmation) error
}

type IDGenerator interface {
	NewID() string
}

// IDFunc adapts a function such as uuid.NewString to IDGenerator.
type IDFunc func() string

func (f IDFunc) NewID() string { return f() }
