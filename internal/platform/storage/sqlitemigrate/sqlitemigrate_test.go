package sqlitemigrate

import (
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func countMigrations(t *testing.T, db *sql.DB) int64 {
	t.Helper()
	var count int64
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	return count
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var found int
	err := db.QueryRow("SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&found)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return true
}

func TestApplyMigrationsRecordsApplied(t *testing.T) {
	db := openInMemoryDB(t)
	migrations := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);")},
	}

	if err := ApplyMigrations(db, migrations, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if got := countMigrations(t, db); got != 1 {
		t.Fatalf("ledger rows = %d, want 1", got)
	}
	if !tableExists(t, db, "items") {
		t.Fatal("expected items table")
	}
}

func TestApplyMigrationsIsRerunSafe(t *testing.T) {
	db := openInMemoryDB(t)
	migrations := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);")},
	}

	for range 3 {
		if err := ApplyMigrations(db, migrations, ""); err != nil {
			t.Fatalf("apply migrations: %v", err)
		}
	}
	if got := countMigrations(t, db); got != 1 {
		t.Fatalf("ledger rows = %d, want 1", got)
	}
}

func TestApplyMigrationsRunsInFilenameOrder(t *testing.T) {
	db := openInMemoryDB(t)
	migrations := fstest.MapFS{
		"002_index.sql":  &fstest.MapFile{Data: []byte("CREATE INDEX idx_items_id ON items (id);")},
		"001_create.sql": &fstest.MapFile{Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);")},
	}

	if err := ApplyMigrations(db, migrations, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if got := countMigrations(t, db); got != 2 {
		t.Fatalf("ledger rows = %d, want 2", got)
	}
}

func TestApplyMigrationsPicksUpNewFiles(t *testing.T) {
	db := openInMemoryDB(t)
	first := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);")},
	}
	if err := ApplyMigrations(db, first, ""); err != nil {
		t.Fatalf("apply first: %v", err)
	}

	second := fstest.MapFS{
		"001_create.sql": first["001_create.sql"],
		"002_extend.sql": &fstest.MapFile{Data: []byte("ALTER TABLE items ADD COLUMN label TEXT NOT NULL DEFAULT '';")},
	}
	if err := ApplyMigrations(db, second, ""); err != nil {
		t.Fatalf("apply second: %v", err)
	}
	if got := countMigrations(t, db); got != 2 {
		t.Fatalf("ledger rows = %d, want 2", got)
	}
}

func TestApplyMigrationsFailsMidway(t *testing.T) {
	db := openInMemoryDB(t)
	migrations := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);")},
		"002_broken.sql": &fstest.MapFile{Data: []byte("THIS IS NOT SQL;")},
	}

	if err := ApplyMigrations(db, migrations, ""); err == nil {
		t.Fatal("expected broken migration error")
	}
	if got := countMigrations(t, db); got != 1 {
		t.Fatalf("ledger rows = %d, want 1", got)
	}
}

func TestApplyMigrationsRequiresDB(t *testing.T) {
	if err := ApplyMigrations(nil, fstest.MapFS{}, ""); err == nil {
		t.Fatal("expected missing db error")
	}
}
