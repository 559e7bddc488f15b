package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='cache_entries'").Scan(&name)
	if err != nil {
		t.Fatalf("cache_entries was not created: %v", err)
	}
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_cache_entries_filename'").Scan(&name)
	if err != nil {
		t.Errorf("filename index was not created: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("first MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("second MigrateUp() failed: %v", err)
	}
}

func TestCheckStatus(t *testing.T) {
	db := openTestDB(t)

	if err := CheckStatus(db); err == nil {
		t.Error("CheckStatus() expected error for fresh database")
	}

	if err := MigrateTo(db, 1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}
	if err := CheckStatus(db); err == nil {
		t.Error("CheckStatus() expected error for outdated schema")
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}
	if err := CheckStatus(db); err != nil {
		t.Errorf("CheckStatus() after migration: %v", err)
	}
}

func TestMigrateUp_KeepsRowsFromOlderSchema(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateTo(db, 1); err != nil {
		t.Fatalf("MigrateTo(1) failed: %v", err)
	}
	_, err := db.Exec(`INSERT INTO cache_entries (folder_id, file_id, filename, change_token, content)
		VALUES ('f', '1', 'a.md', 'v1', 'body')`)
	if err != nil {
		t.Fatalf("insert at version 1: %v", err)
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	var hash string
	if err := db.QueryRow("SELECT content_hash FROM cache_entries WHERE file_id = '1'").Scan(&hash); err != nil {
		t.Fatalf("reading migrated row: %v", err)
	}
	if hash != "" {
		t.Errorf("content_hash = %q, want default empty", hash)
	}
}

func TestLatestVersion(t *testing.T) {
	v, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if v != 2 {
		t.Errorf("LatestVersion() = %d, want 2", v)
	}
}
