package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestEmbeddedSchemaIsValid(t *testing.T) {
	files, err := migrate.Files("")
	if err != nil {
		t.Fatalf("embedded files: %v", err)
	}
	if err := migrate.Validate(files); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
	onDisk, err := migrate.Files("migrations")
	if err != nil {
		t.Fatalf("disk files: %v", err)
	}
	embedded, _ := fs.Glob(files, "*.sql")
	disk, _ := fs.Glob(onDisk, "*.sql")
	if len(embedded) != len(disk) || len(embedded) == 0 {
		t.Fatalf("embedded schema out of sync: %d embedded vs %d on disk", len(embedded), len(disk))
	}
}

func TestRunnerListsStorefrontVersionsInOrder(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	files, err := migrate.Files("")
	if err != nil {
		t.Fatalf("embedded files: %v", err)
	}
	runner, err := migrate.NewRunner(sqlDB, files, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	versions := runner.Versions()
	if len(versions) != 7 {
		t.Fatalf("expected 7 storefront migrations, got %v", versions)
	}
	if versions[0] != 20260105120000 {
		t.Fatalf("users table must come first, got %d", versions[0])
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("versions out of order: %v", versions)
		}
	}
}

func TestRunnerRejectsMissingInputs(t *testing.T) {
	if _, err := migrate.NewRunner(nil, fstest.MapFS{}, nil); err == nil {
		t.Fatal("expected error without db")
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := migrate.ParseVersion(" 20260105120300 "); err != nil || v != 20260105120300 {
		t.Fatalf("unexpected %d err=%v", v, err)
	}
	for _, raw := range []string{"", "2026", "2026010512030x", "202601051203000"} {
		if _, err := migrate.ParseVersion(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestValidateRejectsBrokenMigrations(t *testing.T) {
	good := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose StatementEnd\n-- +goose Down\nSELECT 1;\n"
	cases := map[string]fstest.MapFS{
		"bad name": {"20260101000000_Add-Thing.sql": {Data: []byte(good)}},
		"duplicate version": {
			"20260101000000_a.sql": {Data: []byte(good)},
			"20260101000000_b.sql": {Data: []byte(good)},
		},
		"missing down":   {"20260101000000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")}},
		"down before up": {"20260101000000_a.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")}},
		"unterminated":   {"20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n")}},
		"stray end":      {"20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose StatementEnd\n-- +goose Down\n")}},
		"empty":          {},
	}
	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			if err := migrate.Validate(files); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := migrate.Validate(fstest.MapFS{"20260101000000_a.sql": {Data: []byte(good)}}); err != nil {
		t.Fatalf("valid migration rejected: %v", err)
	}
}

func TestOrdersMigrationEnforcesExactlyOnce(t *testing.T) {
	assertContains(t, readMigration(t, "create_orders"), []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"CONSTRAINT ux_orders_cart UNIQUE (cart_id)",
		"CONSTRAINT ux_orders_user_idempotency_key UNIQUE (user_id, idempotency_key)",
		"CHECK (status IN ('pending_payment', 'paid', 'payment_failed', 'cancelled', 'fulfilled'))",
		"FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS orders",
	})
}

func TestCartsMigrationContainsConstraints(t *testing.T) {
	assertContains(t, readMigration(t, "create_carts"), []string{
		"CHECK (status IN ('open', 'checked_out'))",
		"CONSTRAINT ux_cart_items_cart_product UNIQUE (cart_id, product_id)",
		"CHECK (quantity > 0)",
		"DROP TABLE IF EXISTS cart_items",
	})
}

func TestPaymentsMigrationDedupesProviderTransactions(t *testing.T) {
	assertContains(t, readMigration(t, "create_payments"), []string{
		"CONSTRAINT ux_payments_provider_tx_id UNIQUE (provider_tx_id)",
		"CHECK (status IN ('initiated', 'succeeded', 'failed', 'refunded'))",
		"CHECK (disposition IN ('applied', 'duplicate', 'rejected'))",
		"DROP TABLE IF EXISTS payment_event_logs",
	})
}

func TestIdempotencyMigrationUsesCompositeKey(t *testing.T) {
	assertContains(t, readMigration(t, "create_idempotency_records"), []string{
		"PRIMARY KEY (scope, key)",
		"result JSONB NOT NULL",
	})
}

func TestProductsMigrationGuardsStock(t *testing.T) {
	assertContains(t, readMigration(t, "create_products"), []string{
		"CHECK (available_qty >= 0)",
		"CHECK (price_cents >= 0)",
		"CONSTRAINT ux_products_sku UNIQUE (sku)",
	})
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)
	path, err := migrate.CreateSQLMigration(dir, "Add Refund Reason!", now)
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if filepath.Base(path) != "20260701093000_add_refund_reason.sql" {
		t.Fatalf("unexpected path %q", path)
	}
	files, _ := migrate.Files(dir)
	if err := migrate.Validate(files); err != nil {
		t.Fatalf("created migration failed validation: %v", err)
	}
}

func TestCreateSQLMigrationOrdersAfterNewestVersion(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "20260701093000_add_refund_reason.sql")
	if err := os.WriteFile(existing, []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	skewed := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	path, err := migrate.CreateSQLMigration(dir, "index orders by status", skewed)
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if filepath.Base(path) != "20260701093001_index_orders_by_status.sql" {
		t.Fatalf("expected version bumped past newest, got %q", path)
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!", skewed); err == nil {
		t.Fatal("expected error for empty sanitized name")
	}
}
