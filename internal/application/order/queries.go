package order

import (
	"context"

	domorder "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
)

// Get returns an order visible to the actor: its owner or an administrator.
// An empty actorID skips the check for internal callers.
func (m *Manager) Get(ctx context.Context, orderID, actorID string) (*domorder.Order, error) {
	o, err := m.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actorID == "" || o.OwnedBy(actorID) {
		return o, nil
	}
	actor, err := m.catalog.User(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, domorder.ErrForbidden
	}
	return o, nil
}

// ListByUser returns a user's orders, newest first.
func (m *Manager) ListByUser(ctx context.Context, userID, actorID string) ([]*domorder.Order, error) {
	if actorID != "" && actorID != userID {
		actor, err := m.catalog.User(ctx, actorID)
		if err != nil {
			return nil, err
		}
		if !actor.IsAdmin() {
			return nil, domorder.ErrForbidden
		}
	}
	return m.orders.ListByUser(ctx, userID)
}
