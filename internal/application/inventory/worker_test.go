package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	dominv "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/memory"
)

func TestLowStockNotifiesAdmins(t *testing.T) {
	notifier := memory.NewNotifier(nil)
	w := NewWorker(nil, notifier, 5, nil)

	err := w.handleStockChanged(context.Background(),
		dominv.NewStockChangedEvent("p-1", -3, 2, dominv.ReasonOrderPlaced, "o-1"))
	require.NoError(t, err)

	sent := notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, application.AudienceAdmins, sent[0].Audience)
	assert.Equal(t, "LOW_STOCK", sent[0].Kind)
	assert.Equal(t, "o-1", sent[0].OrderID)
	assert.Contains(t, sent[0].Message, "p-1")
}

func TestLowStockIgnoresRisingOrHealthyStock(t *testing.T) {
	notifier := memory.NewNotifier(nil)
	w := NewWorker(nil, notifier, 5, nil)
	ctx := context.Background()

	require.NoError(t, w.handleStockChanged(ctx, dominv.NewStockChangedEvent("p-1", 2, 3, dominv.ReasonOrderCancelled, "o-1")))
	require.NoError(t, w.handleStockChanged(ctx, dominv.NewStockChangedEvent("p-1", -1, 5, dominv.ReasonOrderPlaced, "o-2")))
	assert.Empty(t, notifier.Sent())
}

func TestLowStockSurfacesNotifierFailure(t *testing.T) {
	notifier := memory.NewNotifier(nil)
	notifier.FailNext(1)
	w := NewWorker(nil, notifier, 5, nil)

	err := w.handleStockChanged(context.Background(), dominv.NewStockChangedEvent("p-1", -1, 0, dominv.ReasonOrderPlaced, ""))
	assert.Error(t, err)
}
