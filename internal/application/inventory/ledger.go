package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/application"
	dominv "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/storefront-reconciler/internal/domain/outbox"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	inventoryService = "inventory-service"
	useCaseRestock   = "inventory.restock"
)

// Result describes a committed-or-pending stock mutation for one product.
type Result struct {
	ProductID  string
	Quantity   int
	Deductions []dominv.Deduction
	// Remaining is the product's total stock after the mutation.
	Remaining int
}

// Ledger owns per-product stock lots. Deduct and Restore run inside the caller's transaction;
// Restock and Stock open their own.
type Ledger struct {
	tx        application.TxRunner
	reader    dominv.Repository
	publisher domoutbox.Publisher
	inst      application.Instrument
}

func NewLedger(tx application.TxRunner, reader dominv.Repository, publisher domoutbox.Publisher, tel observability.Observability) *Ledger {
	return &Ledger{
		tx:        tx,
		reader:    reader,
		publisher: publisher,
		inst:      application.NewInstrument(tel, inventoryService),
	}
}

// Deduct takes quantity units of a product across its lots in ascending id order. The plan is computed
// against the lots as read inside the transaction, so a failure leaves every lot untouched.
func (l *Ledger) Deduct(ctx context.Context, lots dominv.Repository, productID string, quantity int, actor string) (*Result, error) {
	current, err := lots.LotsForProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: load lots: %w", err)
	}
	plan, err := dominv.PlanDeduction(productID, current, quantity)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*dominv.Lot, len(current))
	for i := range current {
		byID[current[i].ID] = &current[i]
	}
	for _, d := range plan {
		lot := byID[d.LotID]
		if err := lot.Deduct(d.Quantity); err != nil {
			return nil, err
		}
		lot.LastModifiedBy = actor
		if err := lots.Save(ctx, lot); err != nil {
			return nil, fmt.Errorf("inventory: deduct from lot %d: %w", lot.ID, err)
		}
	}

	return &Result{
		ProductID:  productID,
		Quantity:   quantity,
		Deductions: plan,
		Remaining:  dominv.Available(current),
	}, nil
}

// Restore credits quantity back to the product's canonical (lowest id) lot.
func (l *Ledger) Restore(ctx context.Context, lots dominv.Repository, productID string, quantity int, actor string) (*Result, error) {
	current, err := lots.LotsForProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: load lots: %w", err)
	}
	canonical, ok := dominv.CanonicalLot(current)
	if !ok {
		return nil, fmt.Errorf("inventory: restore %s: %w", productID, dominv.ErrNotFound)
	}
	if err := canonical.Add(quantity); err != nil {
		return nil, err
	}
	canonical.LastModifiedBy = actor
	if err := lots.Save(ctx, &canonical); err != nil {
		return nil, fmt.Errorf("inventory: restore to lot %d: %w", canonical.ID, err)
	}

	return &Result{
		ProductID: productID,
		Quantity:  quantity,
		Remaining: dominv.Available(current) + quantity,
	}, nil
}

// Stock returns a product's lots and their total.
func (l *Ledger) Stock(ctx context.Context, productID string) ([]dominv.Lot, int, error) {
	lots, err := l.reader.LotsForProduct(ctx, productID)
	if err != nil {
		return nil, 0, err
	}
	return lots, dominv.Available(lots), nil
}

type RestockCommand struct {
	LotID    int64
	NewStock int
	Actor    string
	Reason   string
}

// Restock sets a lot's stock to an absolute value. It is the administrative adjustment path.
func (l *Ledger) Restock(ctx context.Context, cmd RestockCommand) (_ *dominv.Lot, err error) {
	ctx, call := l.inst.Begin(ctx, useCaseRestock, "Restock",
		attribute.Int64("inventory.lot_id", cmd.LotID),
		attribute.Int("inventory.new_stock", cmd.NewStock),
	)
	defer func() { call.End(err) }()

	if cmd.NewStock < 0 {
		call.Fail("STOCK_INVALID")
		return nil, dominv.ErrInvalidQuantity
	}
	if cmd.Actor == "" {
		call.Fail("ACTOR_REQUIRED")
		return nil, errors.New("inventory: restock actor is required")
	}

	var (
		lot   *dominv.Lot
		delta int
		total int
	)
	err = l.tx.WithTx(ctx, func(ctx context.Context, repos application.Repositories) error {
		var err error
		if lot, err = repos.Lots.Get(ctx, cmd.LotID); err != nil {
			return err
		}
		if delta, err = lot.Adjust(cmd.NewStock, cmd.Actor); err != nil {
			return err
		}
		if err := repos.Lots.Save(ctx, lot); err != nil {
			return err
		}
		siblings, err := repos.Lots.LotsForProduct(ctx, lot.ProductID)
		if err != nil {
			return err
		}
		total = dominv.Available(siblings)
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, dominv.ErrNotFound):
			call.Fail("LOT_NOT_FOUND")
		case errors.Is(err, dominv.ErrConflict):
			call.Fail("LOT_CONFLICT")
		default:
			call.Fail("RESTOCK_FAILED")
		}
		return nil, err
	}

	call.Field("product_id", lot.ProductID)
	call.Field("delta", delta)
	if delta != 0 {
		reason := cmd.Reason
		if reason == "" {
			reason = dominv.ReasonRestock
		}
		application.Publish(ctx, l.publisher, call, dominv.NewStockChangedEvent(lot.ProductID, delta, total, reason, ""))
	}
	return lot, nil
}
