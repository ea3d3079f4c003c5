// Package catalog holds the read-only view of products and users the order flow depends on.
// Catalog and user management live elsewhere; this package only describes what is read.
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("catalog: product not found")
	ErrUserNotFound    = errors.New("catalog: user not found")
)

type Product struct {
	ID       string
	Name     string
	Price    decimal.Decimal
	ImageURL string
}

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

type User struct {
	ID       string
	Email    string
	FullName string
	Role     Role
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// Reader resolves catalog entries. Implementations return ErrProductNotFound / ErrUserNotFound.
type Reader interface {
	Product(ctx context.Context, id string) (*Product, error)
	User(ctx context.Context, id string) (*User, error)
}
