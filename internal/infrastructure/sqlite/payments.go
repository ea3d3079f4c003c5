package sqlite

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/payment"
)

type PaymentRepository struct {
	q querier
}

var _ payment.Repository = (*PaymentRepository)(nil)

func (r *PaymentRepository) Append(ctx context.Context, rec *payment.Record) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (order_id, method, amount, created_at) VALUES (?, ?, ?, ?)`,
		rec.OrderID, string(rec.Method), rec.Amount.String(), formatTime(rec.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment: append for %s: %w", rec.OrderID, payment.ErrDuplicateRecord)
		}
		return fmt.Errorf("payment: append for %s: %w", rec.OrderID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]payment.Record, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, method, amount, created_at FROM payments WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("payment: list for %s: %w", orderID, err)
	}
	defer rows.Close()

	var out []payment.Record
	for rows.Next() {
		var (
			rec       payment.Record
			method    string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.OrderID, &method, &rec.Amount, &createdAt); err != nil {
			return nil, err
		}
		rec.Method = payment.Method(method)
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
