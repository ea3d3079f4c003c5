package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/catalog"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Catalog().UpsertUser(ctx, catalog.User{ID: "u-1", Email: "lan@example.com"}))
	require.NoError(t, store.Catalog().UpsertProduct(ctx, catalog.Product{
		ID: "p-1", Name: "Tea", Price: decimal.RequireFromString("12.50"),
	}))
	return store
}

func newOrder(t *testing.T, id string) *order.Order {
	t.Helper()
	o, err := order.New(id, "u-1", payment.MethodVNPay, order.Shipping{FullName: "Lan", City: "Hanoi"}, []order.Item{
		{ProductID: "p-1", Quantity: 2, UnitPrice: decimal.RequireFromString("12.50"), ProductName: "Tea"},
	})
	require.NoError(t, err)
	return o
}

func TestMigrationsAreIdempotent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, store.db))
	v, err := SchemaVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestRollbackMigration(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, store.db))
	v, err := SchemaVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", v.String())

	require.NoError(t, ApplyMigrations(ctx, store.db))
	v, err = SchemaVersion(ctx, store.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v.String())
}

func TestOrderRoundTrip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.Repositories().Orders

	o := newOrder(t, "o-1")
	o.PaymentRef = "ref-1"
	require.NoError(t, repo.Insert(ctx, o))

	got, err := repo.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, "Hanoi", got.Shipping.City)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("12.50")))
	assert.True(t, got.Total().Equal(decimal.NewFromInt(25)))

	byRef, err := repo.FindByPaymentRef(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "o-1", byRef.ID)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderUpdateIsCompareAndSwap(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.Repositories().Orders
	require.NoError(t, repo.Insert(ctx, newOrder(t, "o-1")))

	first, err := repo.Get(ctx, "o-1")
	require.NoError(t, err)
	stale, err := repo.Get(ctx, "o-1")
	require.NoError(t, err)

	require.NoError(t, first.Settle("TXN-1", time.Now()))
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	_, err = stale.TransitionTo(order.StatusCancelled)
	require.NoError(t, err)
	assert.ErrorIs(t, repo.Update(ctx, stale), order.ErrConflict)

	got, err := repo.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "TXN-1", got.TransactionID)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	require.NotNil(t, got.PaidAt)
}

func TestEveryIssuedReferenceStaysResolvable(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.Repositories().Orders
	require.NoError(t, repo.Insert(ctx, newOrder(t, "o-1")))
	require.NoError(t, repo.Insert(ctx, newOrder(t, "o-2")))

	o, err := repo.Get(ctx, "o-1")
	require.NoError(t, err)
	for _, ref := range []string{"first", "second"} {
		o.PaymentRef = ref
		require.NoError(t, repo.Update(ctx, o))
	}

	for _, ref := range []string{"first", "second"} {
		got, err := repo.FindByPaymentRef(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, "o-1", got.ID)
		assert.Equal(t, "second", got.PaymentRef)
	}

	other, err := repo.Get(ctx, "o-2")
	require.NoError(t, err)
	other.PaymentRef = "first"
	assert.ErrorIs(t, repo.Update(ctx, other), order.ErrConflict)

	_, err = repo.FindByPaymentRef(ctx, "never-issued")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestListByUserIsNewestFirst(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repo := store.Repositories().Orders

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{0, 100 * time.Millisecond, 120 * time.Millisecond} {
		o := newOrder(t, fmt.Sprintf("o-%d", i))
		o.CreatedAt = base.Add(offset)
		o.UpdatedAt = o.CreatedAt
		require.NoError(t, repo.Insert(ctx, o))
	}

	list, err := repo.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, o := range list {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"o-2", "o-1", "o-0"}, ids)
	assert.True(t, list[2].CreatedAt.Equal(base))
}

func TestLotSaveIsCompareAndSwap(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	lot, err := store.Lots().Create(ctx, "p-1", 5, "seed")
	require.NoError(t, err)

	a, err := store.Lots().Get(ctx, lot.ID)
	require.NoError(t, err)
	b, err := store.Lots().Get(ctx, lot.ID)
	require.NoError(t, err)

	require.NoError(t, a.Deduct(3))
	require.NoError(t, store.Lots().Save(ctx, a))

	require.NoError(t, b.Deduct(4))
	assert.ErrorIs(t, store.Lots().Save(ctx, b), inventory.ErrConflict)

	got, err := store.Lots().Get(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)

	_, err = store.Lots().Get(ctx, 999)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestPaymentsAreUniquePerOrder(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	repos := store.Repositories()
	require.NoError(t, repos.Orders.Insert(ctx, newOrder(t, "o-1")))

	rec := payment.NewRecord("o-1", payment.MethodVNPay, decimal.NewFromInt(25))
	require.NoError(t, repos.Payments.Append(ctx, &rec))
	assert.Greater(t, rec.ID, int64(0))

	dup := payment.NewRecord("o-1", payment.MethodVNPay, decimal.NewFromInt(25))
	assert.ErrorIs(t, repos.Payments.Append(ctx, &dup), payment.ErrDuplicateRecord)

	list, err := repos.Payments.ListByOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	lot, err := store.Lots().Create(ctx, "p-1", 5, "seed")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.WithTx(ctx, func(ctx context.Context, repos application.Repositories) error {
		l, err := repos.Lots.Get(ctx, lot.ID)
		if err != nil {
			return err
		}
		if err := l.Deduct(5); err != nil {
			return err
		}
		if err := repos.Lots.Save(ctx, l); err != nil {
			return err
		}
		if err := repos.Orders.Insert(ctx, newOrder(t, "o-1")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Lots().Get(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)

	_, err = store.Repositories().Orders.Get(ctx, "o-1")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestCatalogLookups(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	p, err := store.Catalog().Product(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "Tea", p.Name)

	_, err = store.Catalog().Product(ctx, "nope")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)

	u, err := store.Catalog().User(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, catalog.RoleCustomer, u.Role)

	_, err = store.Catalog().User(ctx, "nope")
	assert.ErrorIs(t, err, catalog.ErrUserNotFound)
}

func TestSeedDemoIsRepeatable(t *testing.T) {
	store, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SeedDemo(ctx))
	require.NoError(t, store.SeedDemo(ctx))

	lots, err := store.Lots().LotsForProduct(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, 8, inventory.Available(lots))

	admin, err := store.Catalog().User(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
}
