package inventory

import (
	"context"
)

type Repository interface {
	// LotsForProduct returns the product's lots ordered by ascending id.
	LotsForProduct(ctx context.Context, productID string) ([]Lot, error)
	Get(ctx context.Context, lotID int64) (*Lot, error)
	// Save writes the lot if its stored version still equals lot.Version and bumps the version.
	// It returns ErrConflict when another writer got there first.
	Save(ctx context.Context, lot *Lot) error
}
