package payment

import (
	"context"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	apporder "github.com/Zhima-Mochi/storefront-reconciler/internal/application/order"
	domorder "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
)

// OrderTransitioner applies an order state transition inside the caller's transaction.
type OrderTransitioner interface {
	Transition(
		ctx context.Context,
		repos application.Repositories,
		o *domorder.Order,
		target domorder.Status,
		actorID string,
		restore bool,
	) (*apporder.TransitionResult, error)
}

var _ OrderTransitioner = (*apporder.Manager)(nil)
