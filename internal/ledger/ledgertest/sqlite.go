package ledgertest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
)

// sqliteSchema mirrors the goose migrations with SQLite column types.
var sqliteSchema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'customer',
		last_login_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		description TEXT,
		price_cents INTEGER NOT NULL CHECK (price_cents >= 0),
		available_qty INTEGER NOT NULL DEFAULT 0 CHECK (available_qty >= 0),
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE carts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		version INTEGER NOT NULL DEFAULT 1,
		checked_out_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE cart_items (
		id TEXT PRIMARY KEY,
		cart_id TEXT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price_cents INTEGER NOT NULL,
		position INTEGER NOT NULL,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (cart_id, product_id)
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		cart_id TEXT NOT NULL UNIQUE,
		idempotency_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending_payment',
		subtotal_cents INTEGER NOT NULL,
		total_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'usd',
		item_count INTEGER NOT NULL,
		inventory_reserved INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		paid_at DATETIME,
		cancelled_at DATETIME,
		fulfilled_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (user_id, idempotency_key)
	)`,
	`CREATE TABLE order_line_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price_cents INTEGER NOT NULL,
		line_total_cents INTEGER NOT NULL,
		position INTEGER NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE payments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_ref TEXT,
		provider_tx_id TEXT UNIQUE,
		amount_cents INTEGER NOT NULL,
		currency TEXT NOT NULL DEFAULT 'usd',
		status TEXT NOT NULL,
		received_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE idempotency_records (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		order_id TEXT,
		result TEXT NOT NULL,
		created_at DATETIME,
		PRIMARY KEY (scope, key)
	)`,
	`CREATE TABLE payment_event_logs (
		id TEXT PRIMARY KEY,
		provider_tx_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		source TEXT NOT NULL,
		disposition TEXT NOT NULL,
		reason TEXT,
		error_code TEXT,
		received_at DATETIME NOT NULL
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
}

// OpenSQLite returns an isolated in-memory database with the full schema.
func OpenSQLite(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), db.GormConfig())
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, ddl := range sqliteSchema {
		require.NoError(t, conn.Exec(ddl).Error)
	}
	return conn
}
