// Package cache is the local cache of remote file state. Entries are keyed
// by (folder id, file id) and survive restarts until explicitly cleared.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"shelf-go/internal/cache/migrations"
	"shelf-go/internal/document"
	"shelf-go/internal/model"
	"shelf-go/internal/shelf"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// MemoryPath opens a cache that lives only as long as the process.
const MemoryPath = ":memory:"

// SQLiteStore implements shelf.CacheStore on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	lock   *fileLock
	logger shelf.Logger
	clock  shelf.Clock
}

var _ shelf.CacheStore = (*SQLiteStore)(nil)

// Open opens or creates the cache at path and migrates it to the latest
// schema. File-backed caches hold an exclusive lock on <path>.lock until
// Close; a second opener fails instead of waiting.
func Open(ctx context.Context, path string, logger shelf.Logger, clock shelf.Clock) (*SQLiteStore, error) {
	var lock *fileLock
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		l, err := acquireLock(ctx, path+".lock")
		if err != nil {
			return nil, err
		}
		lock = l
	}

	db, err := openConnection(path)
	if err != nil {
		lock.release()
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		lock.release()
		return nil, err
	}

	logger.Debug("cache opened", "path", path)
	return &SQLiteStore{db: db, path: path, lock: lock, logger: logger, clock: clock}, nil
}

// openConnection opens SQLite with a single connection so an in-memory
// database is shared by every query.
func openConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if path != MemoryPath {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL: %w", err)
		}
	}
	return db, nil
}

// Path returns the database path, or ":memory:".
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Get(ctx context.Context, folderID, fileID string) (*shelf.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT folder_id, file_id, filename, change_token, content_hash, content, item_json, updated_at
		FROM cache_entries WHERE folder_id = ? AND file_id = ?`, folderID, fileID)

	entry, err := s.scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache entry %s: %w", fileID, err)
	}
	return entry, nil
}

func (s *SQLiteStore) Put(ctx context.Context, entry *shelf.CacheEntry) error {
	hash := entry.ContentHash
	if hash == "" {
		hash = contentHash(entry.Content)
	}
	updated := entry.UpdatedAt
	if updated.IsZero() {
		updated = s.clock.Now()
	}

	var itemJSON sql.NullString
	if entry.Item != nil {
		data, err := json.Marshal(entry.Item)
		if err != nil {
			return fmt.Errorf("encoding cached item %s: %w", entry.Filename, err)
		}
		itemJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (folder_id, file_id, filename, change_token, content_hash, content, item_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (folder_id, file_id) DO UPDATE SET
			filename = excluded.filename,
			change_token = excluded.change_token,
			content_hash = excluded.content_hash,
			content = excluded.content,
			item_json = excluded.item_json,
			updated_at = excluded.updated_at`,
		entry.FolderID, entry.FileID, entry.Filename, entry.ChangeToken, hash,
		entry.Content, itemJSON, updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("writing cache entry %s: %w", entry.Filename, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, folderID, fileID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE folder_id = ? AND file_id = ?", folderID, fileID)
	if err != nil {
		return fmt.Errorf("deleting cache entry %s: %w", fileID, err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, folderID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE folder_id = ?", folderID)
	if err != nil {
		return fmt.Errorf("clearing cache for folder %s: %w", folderID, err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("cache cleared", "folder_id", folderID, "entries", n)
	return nil
}

// ClearAll drops every cached entry regardless of folder.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	s.logger.Info("cache cleared")
	return nil
}

func (s *SQLiteStore) Iterate(ctx context.Context, folderID string) ([]*shelf.CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT folder_id, file_id, filename, change_token, content_hash, content, item_json, updated_at
		FROM cache_entries WHERE folder_id = ? ORDER BY filename`, folderID)
	if err != nil {
		return nil, fmt.Errorf("listing cache entries: %w", err)
	}
	defer rows.Close()

	var entries []*shelf.CacheEntry
	for rows.Next() {
		entry, err := s.scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("reading cache entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing cache entries: %w", err)
	}
	return entries, nil
}

// Stats returns the entry count and total cached bytes for a folder.
func (s *SQLiteStore) Stats(ctx context.Context, folderID string) (entries int, bytes int64, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(LENGTH(content)), 0) FROM cache_entries WHERE folder_id = ?",
		folderID).Scan(&entries, &bytes)
	if err != nil {
		return 0, 0, fmt.Errorf("reading cache stats: %w", err)
	}
	return entries, bytes, nil
}

func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if lerr := s.lock.release(); lerr != nil && err == nil {
		err = lerr
	}
	if err != nil {
		return fmt.Errorf("closing cache: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one row. Columns written by older schemas or older
// builds degrade to defaults: a missing hash is recomputed, and an
// unreadable item is decoded again from the cached content.
func (s *SQLiteStore) scanEntry(sc scanner) (*shelf.CacheEntry, error) {
	var (
		e        shelf.CacheEntry
		itemJSON sql.NullString
		updated  int64
	)
	if err := sc.Scan(&e.FolderID, &e.FileID, &e.Filename, &e.ChangeToken,
		&e.ContentHash, &e.Content, &itemJSON, &updated); err != nil {
		return nil, err
	}
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	if e.ContentHash == "" {
		e.ContentHash = contentHash(e.Content)
	}

	if itemJSON.Valid {
		var item model.Item
		if err := json.Unmarshal([]byte(itemJSON.String), &item); err == nil {
			e.Item = &item
		} else {
			s.logger.Debug("cached item unreadable, decoding content", "filename", e.Filename, "error", err)
		}
	}
	if e.Item == nil && e.Content != nil {
		e.Item = document.DecodeItem(e.Filename, string(e.Content))
	}
	return &e, nil
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
