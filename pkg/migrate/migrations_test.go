package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := ValidateEmbedded(); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
}

func TestStockLedgerMigrationEnforcesInvariant(t *testing.T) {
	content := readMigration(t, "*_create_stock_ledger.sql")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS game_stock",
		"CREATE TABLE IF NOT EXISTS merch_stock",
		"PRIMARY KEY (merch_item_id, size)",
		"CHECK (reserved >= 0 AND reserved <= quantity)",
		"DROP TABLE IF EXISTS merch_stock",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestOrdersMigrationContainsHistoryAndStatuses(t *testing.T) {
	content := readMigration(t, "*_create_orders.sql")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"CREATE TABLE IF NOT EXISTS order_line_items",
		"CREATE TABLE IF NOT EXISTS order_status_events",
		"'partially_refunded'",
		"reservation_state TEXT NOT NULL DEFAULT 'held'",
		"idx_orders_payment_reference",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestSizeStockMigrationAddsColumn(t *testing.T) {
	content := readMigration(t, "*_add_merch_size_stock.sql")
	for _, sub := range []string{"ADD COLUMN IF NOT EXISTS size_stock JSONB", "DROP COLUMN IF EXISTS size_stock"} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestValidateRejectsMissingDown(t *testing.T) {
	fsys := fstest.MapFS{
		"m/20260101000000_bad.sql": {Data: []byte("-- +goose Up\nSELECT 1;")},
	}
	if err := Validate(fsys, "m"); err == nil {
		t.Fatal("expected missing Down annotation to fail")
	}
}

func TestValidateRejectsBadFilename(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_init.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
	}
	if err := Validate(fsys, "m"); err == nil {
		t.Fatal("expected bad filename to fail")
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	path, err := CreateSQLMigration(dir, "Add Refund Notes!", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Base(path) != "20260302100000_add_refund_notes.sql" {
		t.Fatalf("unexpected filename %s", filepath.Base(path))
	}
	if err := Validate(os.DirFS(dir), "."); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
	if _, err := CreateSQLMigration(dir, "Add Refund Notes!", now); err == nil {
		t.Fatal("expected duplicate create to fail")
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := fs.Glob(FS, embeddedDir+"/"+pattern)
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := fs.ReadFile(FS, matches[0])
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	return string(data)
}
