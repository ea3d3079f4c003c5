package memory

import (
	"context"
	"sync"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability/logctx"
)

// Mailer records order confirmations instead of sending them.
type Mailer struct {
	mu   sync.RWMutex
	sent []application.OrderConfirmation
	log  observability.Logger
}

func NewMailer(logger observability.Logger) *Mailer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Mailer{log: logger}
}

func (m *Mailer) SendOrderConfirmation(ctx context.Context, c application.OrderConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, c)
	logctx.FromOr(ctx, m.log).Info("order_confirmation_recorded",
		observability.F("order_id", c.OrderID),
		observability.F("email", c.Email),
	)
	return nil
}

func (m *Mailer) Sent() []application.OrderConfirmation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]application.OrderConfirmation(nil), m.sent...)
}
