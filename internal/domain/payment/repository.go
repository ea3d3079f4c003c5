package payment

import "context"

type Repository interface {
	// Append stores a record; ErrDuplicateRecord is returned when the order already has one.
	Append(ctx context.Context, r *Record) error
	ListByOrder(ctx context.Context, orderID string) ([]Record, error)
}
