package shelf

import (
	"context"
	"time"

	"shelf-go/internal/model"
)

// CacheEntry is the last known state of one remote file.
type CacheEntry struct {
	FolderID    string
	FileID      string
	Filename    string
	ChangeToken string
	ContentHash string // SHA-256 of Content, hex encoded
	Content     []byte
	Item        *model.Item
	UpdatedAt   time.Time
}

// CacheStore persists remote file state between sessions so loads only
// fetch files whose change token moved. Only the remote adapter writes it.
type CacheStore interface {
	// Get returns the entry, or nil if none is cached.
	Get(ctx context.Context, folderID, fileID string) (*CacheEntry, error)

	Put(ctx context.Context, entry *CacheEntry) error

	Delete(ctx context.Context, folderID, fileID string) error

	// Clear drops every entry for a folder.
	Clear(ctx context.Context, folderID string) error

	// Iterate returns every entry cached for a folder.
	Iterate(ctx context.Context, folderID string) ([]*CacheEntry, error)

	Close() error
}
