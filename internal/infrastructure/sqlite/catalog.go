package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/domain/catalog"
)

// CatalogRepository reads products and users. Writes exist for seeding and tests only;
// catalog management belongs to another service.
type CatalogRepository struct {
	q querier
}

var _ catalog.Reader = (*CatalogRepository)(nil)

func (r *CatalogRepository) Product(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := r.q.QueryRowContext(ctx, `SELECT id, name, price, image_url FROM products WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.ImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", catalog.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: product %s: %w", id, err)
	}
	return &p, nil
}

func (r *CatalogRepository) User(ctx context.Context, id string) (*catalog.User, error) {
	var (
		u    catalog.User
		role string
	)
	err := r.q.QueryRowContext(ctx, `SELECT id, email, full_name, role FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.FullName, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: user %s: %w", id, err)
	}
	u.Role = catalog.Role(role)
	return &u, nil
}

func (r *CatalogRepository) UpsertProduct(ctx context.Context, p catalog.Product) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (id, name, price, image_url) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, price = excluded.price, image_url = excluded.image_url`,
		p.ID, p.Name, p.Price.String(), p.ImageURL)
	if err != nil {
		return fmt.Errorf("catalog: upsert product %s: %w", p.ID, err)
	}
	return nil
}

func (r *CatalogRepository) UpsertUser(ctx context.Context, u catalog.User) error {
	role := u.Role
	if role == "" {
		role = catalog.RoleCustomer
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, email, full_name, role) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, full_name = excluded.full_name, role = excluded.role`,
		u.ID, u.Email, u.FullName, string(role))
	if err != nil {
		return fmt.Errorf("catalog: upsert user %s: %w", u.ID, err)
	}
	return nil
}
