package testutil

import (
	"context"
	"testing"

	"shelf-go/internal/cache"
	"shelf-go/internal/shelf"
)

// NewTestCache opens an in-memory cache with the schema applied.
// The cache is closed when the test completes.
func NewTestCache(t *testing.T) *cache.SQLiteStore {
	t.Helper()

	store, err := cache.Open(context.Background(), cache.MemoryPath, shelf.NewNopLogger(), FixedClock())
	if err != nil {
		t.Fatalf("failed to open cache: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
