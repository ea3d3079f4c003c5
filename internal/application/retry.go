package application

import (
	"context"
	"errors"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
)

// IsConflict reports whether err is an optimistic-concurrency conflict on an order or a lot.
func IsConflict(err error) bool {
	return errors.Is(err, order.ErrConflict) || errors.Is(err, inventory.ErrConflict)
}

// RetryOnConflict runs fn up to attempts times while it fails with a conflict.
// The last error is returned unchanged.
func RetryOnConflict(ctx context.Context, attempts int, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil || !IsConflict(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}
