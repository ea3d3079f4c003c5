package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/inventory"
)

type LotRepository struct {
	q querier
}

var _ inventory.Repository = (*LotRepository)(nil)

const lotColumns = `id, product_id, stock, version, last_modified_by, updated_at`

func (r *LotRepository) LotsForProduct(ctx context.Context, productID string) ([]inventory.Lot, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+lotColumns+` FROM inventory_lots WHERE product_id = ? ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list lots of %s: %w", productID, err)
	}
	defer rows.Close()

	var lots []inventory.Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *l)
	}
	return lots, rows.Err()
}

func (r *LotRepository) Get(ctx context.Context, lotID int64) (*inventory.Lot, error) {
	l, err := scanLot(r.q.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM inventory_lots WHERE id = ?`, lotID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, inventory.ErrNotFound
	}
	return l, err
}

// Save is a compare-and-swap on the version column.
func (r *LotRepository) Save(ctx context.Context, lot *inventory.Lot) error {
	if lot.Stock < 0 {
		return fmt.Errorf("inventory: lot %d: %w", lot.ID, inventory.ErrInsufficientStock)
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE inventory_lots SET stock = ?, last_modified_by = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		lot.Stock, lot.LastModifiedBy, formatTime(lot.UpdatedAt), lot.ID, lot.Version,
	)
	if err != nil {
		return fmt.Errorf("inventory: save lot %d: %w", lot.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, lot.ID); err != nil {
			return err
		}
		return inventory.ErrConflict
	}
	lot.Version++
	return nil
}

// Create adds a new lot for a product and returns it with its assigned id.
func (r *LotRepository) Create(ctx context.Context, productID string, stock int, actor string) (*inventory.Lot, error) {
	if stock < 0 {
		return nil, inventory.ErrInvalidQuantity
	}
	now := time.Now().UTC()
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO inventory_lots (product_id, stock, version, last_modified_by, updated_at)
		VALUES (?, ?, 0, ?, ?)`, productID, stock, actor, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("inventory: create lot for %s: %w", productID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &inventory.Lot{ID: id, ProductID: productID, Stock: stock, LastModifiedBy: actor, UpdatedAt: now}, nil
}

func scanLot(s scanner) (*inventory.Lot, error) {
	var (
		l         inventory.Lot
		updatedAt string
	)
	if err := s.Scan(&l.ID, &l.ProductID, &l.Stock, &l.Version, &l.LastModifiedBy, &updatedAt); err != nil {
		return nil, err
	}
	t, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}
	l.UpdatedAt = t
	return &l, nil
}
