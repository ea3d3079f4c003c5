package order

import (
	"context"

	appinv "github.com/Zhima-Mochi/storefront-reconciler/internal/application/inventory"
	dominv "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
)

// StockLedger deducts and restores stock inside the caller's transaction.
type StockLedger interface {
	Deduct(ctx context.Context, lots dominv.Repository, productID string, quantity int, actor string) (*appinv.Result, error)
	Restore(ctx context.Context, lots dominv.Repository, productID string, quantity int, actor string) (*appinv.Result, error)
}

var _ StockLedger = (*appinv.Ledger)(nil)
