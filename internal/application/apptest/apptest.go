// Package apptest provides an in-memory store and an event recorder for application tests.
package apptest

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/infrastructure/sqlite"
)

const (
	AdminID    = "admin"
	CustomerID = "u-1"
	OtherID    = "u-2"
)

// NewStore opens a private in-memory database with an administrator and two customers.
func NewStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	users := []catalog.User{
		{ID: AdminID, Email: "admin@example.com", FullName: "Admin", Role: catalog.RoleAdmin},
		{ID: CustomerID, Email: "lan@example.com", FullName: "Nguyen Lan"},
		{ID: OtherID, Email: "minh@example.com", FullName: "Tran Minh"},
	}
	for _, u := range users {
		require.NoError(t, store.Catalog().UpsertUser(ctx, u))
	}
	return store
}

// SeedProduct stores a product and one lot per stock value, in order.
func SeedProduct(t *testing.T, store *sqlite.Store, id, price string, stocks ...int) []dominv.Lot {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Catalog().UpsertProduct(ctx, catalog.Product{
		ID:    id,
		Name:  "Product " + id,
		Price: decimal.RequireFromString(price),
	}))
	lots := make([]dominv.Lot, 0, len(stocks))
	for _, s := range stocks {
		lot, err := store.Lots().Create(ctx, id, s, "seed")
		require.NoError(t, err)
		lots = append(lots, *lot)
	}
	return lots
}

// Stocks returns the stock of each of a product's lots in id order.
func Stocks(t *testing.T, store *sqlite.Store, productID string) []int {
	t.Helper()
	lots, err := store.Lots().LotsForProduct(context.Background(), productID)
	require.NoError(t, err)
	out := make([]int, 0, len(lots))
	for _, l := range lots {
		out = append(out, l.Stock)
	}
	return out
}

// Recorder is a Publisher that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

var _ domoutbox.Publisher = (*Recorder)(nil)

func (r *Recorder) Publish(_ context.Context, e domoutbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []domoutbox.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domoutbox.Event(nil), r.events...)
}

// Names lists the names of the recorded events in publish order.
func (r *Recorder) Names() []string {
	events := r.Events()
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.EventName())
	}
	return names
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
