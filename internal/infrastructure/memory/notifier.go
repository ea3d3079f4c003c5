package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability/logctx"
)

var errInjected = errors.New("memory: injected failure")

// Notifier records notifications and logs them. It stands in for the message broker in development
// and tests.
type Notifier struct {
	mu       sync.RWMutex
	sent     []application.Notification
	failures int
	log      observability.Logger
}

func NewNotifier(logger observability.Logger) *Notifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Notifier{log: logger}
}

// FailNext makes the next n calls fail.
func (n *Notifier) FailNext(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = count
}

func (n *Notifier) Notify(ctx context.Context, msg application.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failures > 0 {
		n.failures--
		return errInjected
	}
	n.sent = append(n.sent, msg)
	logctx.FromOr(ctx, n.log).Info("notification_sent",
		observability.F("audience", msg.Audience),
		observability.F("user_id", msg.UserID),
		observability.F("kind", msg.Kind),
		observability.F("order_id", msg.OrderID),
	)
	return nil
}

func (n *Notifier) Sent() []application.Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]application.Notification(nil), n.sent...)
}
