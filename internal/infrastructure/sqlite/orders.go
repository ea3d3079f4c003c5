package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/order"
	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
)

type OrderRepository struct {
	q querier
}

var _ order.Repository = (*OrderRepository)(nil)

const orderColumns = `id, user_id, status, payment_status, payment_method, payment_ref, transaction_id, paid_at,
	ship_full_name, ship_phone, ship_address, ship_ward, ship_district, ship_city, ship_note,
	version, created_at, updated_at`

func (r *OrderRepository) Insert(ctx context.Context, o *order.Order) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod),
		nullString(o.PaymentRef), nullString(o.TransactionID), nullTime(o.PaidAt),
		o.Shipping.FullName, o.Shipping.Phone, o.Shipping.Address, o.Shipping.Ward,
		o.Shipping.District, o.Shipping.City, o.Shipping.Note,
		o.Version, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order: insert %s: %w", o.ID, order.ErrConflict)
		}
		return fmt.Errorf("order: insert %s: %w", o.ID, err)
	}
	if err := r.registerRef(ctx, o.ID, o.PaymentRef, o.UpdatedAt); err != nil {
		return err
	}

	for i, it := range o.Items {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line, product_id, quantity, unit_price, product_name, product_image_url)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.ID, i, it.ProductID, it.Quantity, it.UnitPrice.String(), it.ProductName, it.ProductImageURL,
		)
		if err != nil {
			return fmt.Errorf("order: insert item %d of %s: %w", i, o.ID, err)
		}
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *OrderRepository) FindByPaymentRef(ctx context.Context, ref string) (*order.Order, error) {
	if ref == "" {
		return nil, order.ErrNotFound
	}
	return r.findOne(ctx, "id = (SELECT order_id FROM payment_refs WHERE ref = ?)", ref)
}

// registerRef binds ref to orderID. A reference is never moved to another order.
func (r *OrderRepository) registerRef(ctx context.Context, orderID, ref string, at time.Time) error {
	if ref == "" {
		return nil
	}
	var owner string
	err := r.q.QueryRowContext(ctx, `SELECT order_id FROM payment_refs WHERE ref = ?`, ref).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := r.q.ExecContext(ctx,
			`INSERT INTO payment_refs (ref, order_id, created_at) VALUES (?, ?, ?)`,
			ref, orderID, formatTime(at),
		); err != nil {
			return fmt.Errorf("order: register reference of %s: %w", orderID, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("order: look up reference: %w", err)
	case owner != orderID:
		return fmt.Errorf("order: reference issued to %s: %w", owner, order.ErrConflict)
	}
	return nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("order: list by user: %w", err)
	}

	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for _, o := range out {
		if o.Items, err = r.items(ctx, o.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Update writes the mutable order fields guarded by the version column.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE orders SET
			status = ?, payment_status = ?, payment_method = ?, payment_ref = ?, transaction_id = ?, paid_at = ?,
			updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod),
		nullString(o.PaymentRef), nullString(o.TransactionID), nullTime(o.PaidAt),
		formatTime(o.UpdatedAt), o.ID, o.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order: update %s: %w", o.ID, order.ErrConflict)
		}
		return fmt.Errorf("order: update %s: %w", o.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.findOne(ctx, "id = ?", o.ID); err != nil {
			return err
		}
		return order.ErrConflict
	}
	o.Version++
	return r.registerRef(ctx, o.ID, o.PaymentRef, o.UpdatedAt)
}

func (r *OrderRepository) findOne(ctx context.Context, where string, arg any) (*order.Order, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) items(ctx context.Context, orderID string) ([]order.Item, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price, product_name, product_image_url
		FROM order_items WHERE order_id = ? ORDER BY line`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order: load items of %s: %w", orderID, err)
	}
	defer rows.Close()

	var items []order.Item
	for rows.Next() {
		var it order.Item
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice, &it.ProductName, &it.ProductImageURL); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*order.Order, error) {
	var (
		o                    order.Order
		status, payStatus    string
		method               string
		ref, txn, paidAt     sql.NullString
		createdAt, updatedAt string
	)
	err := s.Scan(
		&o.ID, &o.UserID, &status, &payStatus, &method, &ref, &txn, &paidAt,
		&o.Shipping.FullName, &o.Shipping.Phone, &o.Shipping.Address, &o.Shipping.Ward,
		&o.Shipping.District, &o.Shipping.City, &o.Shipping.Note,
		&o.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(payStatus)
	o.PaymentMethod = payment.Method(method)
	o.PaymentRef = ref.String
	o.TransactionID = txn.String
	if paidAt.Valid {
		t, err := parseTime(paidAt.String)
		if err != nil {
			return nil, err
		}
		o.PaidAt = &t
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}
