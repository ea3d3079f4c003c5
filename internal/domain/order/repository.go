package order

import "context"

type Repository interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// FindByPaymentRef resolves any reference ever stored as PaymentRef, not only the current one.
	FindByPaymentRef(ctx context.Context, ref string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]*Order, error)
	// Update persists the order when the stored version still equals o.Version and increments it.
	// ErrConflict is returned otherwise. Insert and Update both register o.PaymentRef.
	Update(ctx context.Context, o *Order) error
}
