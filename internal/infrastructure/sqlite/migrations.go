package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const CurrentSchemaVersion = "1.2.0"

type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all schema migrations in order.
var AllMigrations = []Migration{
	{Version: "1.0.0", Up: migrationV1Up, Down: migrationV1Down},
	{Version: "1.1.0", Up: migrationV11Up, Down: migrationV11Down},
	{Version: "1.2.0", Up: migrationV12Up, Down: migrationV12Down},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    full_name TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT 'CUSTOMER'
);

CREATE TABLE IF NOT EXISTS products (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    price TEXT NOT NULL,
    image_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS inventory_lots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    product_id TEXT NOT NULL,
    stock INTEGER NOT NULL CHECK (stock >= 0),
    version INTEGER NOT NULL DEFAULT 0,
    last_modified_by TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL,
    FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_inventory_lots_product ON inventory_lots(product_id, id);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    status TEXT NOT NULL,
    payment_status TEXT NOT NULL,
    payment_method TEXT NOT NULL,
    transaction_id TEXT,
    paid_at TEXT,
    ship_full_name TEXT NOT NULL DEFAULT '',
    ship_phone TEXT NOT NULL DEFAULT '',
    ship_address TEXT NOT NULL DEFAULT '',
    ship_ward TEXT NOT NULL DEFAULT '',
    ship_district TEXT NOT NULL DEFAULT '',
    ship_city TEXT NOT NULL DEFAULT '',
    ship_note TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_orders_transaction ON orders(transaction_id);

CREATE TABLE IF NOT EXISTS order_items (
    order_id TEXT NOT NULL,
    line INTEGER NOT NULL,
    product_id TEXT NOT NULL,
    quantity INTEGER NOT NULL CHECK (quantity > 0),
    unit_price TEXT NOT NULL,
    product_name TEXT NOT NULL DEFAULT '',
    product_image_url TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (order_id, line),
    FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS payments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id TEXT NOT NULL,
    method TEXT NOT NULL,
    amount TEXT NOT NULL,
    created_at TEXT NOT NULL,
    FOREIGN KEY (order_id) REFERENCES orders(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id);
`

const migrationV1Down = `
DROP TABLE IF EXISTS payments;
DROP TABLE IF EXISTS order_items;
DROP TABLE IF EXISTS orders;
DROP TABLE IF EXISTS inventory_lots;
DROP TABLE IF EXISTS products;
DROP TABLE IF EXISTS users;
DROP TABLE IF EXISTS schema_version;
`

// 1.1.0 adds the opaque gateway correlation reference.
const migrationV11Up = `
ALTER TABLE orders ADD COLUMN payment_ref TEXT;
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_payment_ref ON orders(payment_ref);
`

const migrationV11Down = `
DROP INDEX IF EXISTS idx_orders_payment_ref;
ALTER TABLE orders DROP COLUMN payment_ref;
`

// 1.2.0 keeps every reference issued for an order resolvable, and pads order timestamps to a
// fixed width so they sort as text.
const migrationV12Up = `
CREATE TABLE IF NOT EXISTS payment_refs (
    ref TEXT PRIMARY KEY,
    order_id TEXT NOT NULL,
    created_at TEXT NOT NULL,
    FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_payment_refs_order ON payment_refs(order_id);

INSERT OR IGNORE INTO payment_refs (ref, order_id, created_at)
    SELECT payment_ref, id, updated_at FROM orders WHERE payment_ref IS NOT NULL;

UPDATE orders SET
    created_at = substr(created_at, 1, 19) || '.' ||
        substr(CASE WHEN substr(created_at, 20, 1) = '.' THEN substr(created_at, 21, length(created_at) - 21) ELSE '' END || '000000000', 1, 9) || 'Z',
    updated_at = substr(updated_at, 1, 19) || '.' ||
        substr(CASE WHEN substr(updated_at, 20, 1) = '.' THEN substr(updated_at, 21, length(updated_at) - 21) ELSE '' END || '000000000', 1, 9) || 'Z';
`

const migrationV12Down = `
DROP INDEX IF EXISTS idx_payment_refs_order;
DROP TABLE IF EXISTS payment_refs;
`

// ApplyMigrations runs all pending migrations.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range AllMigrations {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		if !current.LessThan(v) {
			continue
		}

		if _, err := db.ExecContext(ctx, m.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}
		current = v
	}
	return nil
}

// RollbackMigration rolls back the most recent migration.
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for i := len(AllMigrations) - 1; i >= 0; i-- {
		m := AllMigrations[i]
		v := semver.MustParse(m.Version)
		if !v.Equal(current) {
			continue
		}
		if _, err := db.ExecContext(ctx, m.Down); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", m.Version, err)
		}
		// the first migration drops schema_version itself
		if i == 0 {
			return nil
		}
		if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", m.Version); err != nil {
			return fmt.Errorf("failed to remove migration record %s: %w", m.Version, err)
		}
		return nil
	}
	return fmt.Errorf("migration %s not found", current)
}

// SchemaVersion reports the highest applied migration, or 0.0.0 for an empty database.
func SchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	return currentVersion(ctx, db)
}

func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	zero := semver.MustParse("0.0.0")

	var name string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer rows.Close()

	current := zero
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", raw, err)
		}
		if v.GreaterThan(current) {
			current = v
		}
	}
	return current, rows.Err()
}
