package watch_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelf-go/internal/shelf"
	"shelf-go/internal/watch"
)

func startWatcher(t *testing.T, dir string) <-chan []string {
	t.Helper()
	changes := make(chan []string, 10)
	w, err := watch.New(dir, func(names []string) { changes <- names }, shelf.NewNopLogger())
	require.NoError(t, err)
	w.SetDebounce(50 * time.Millisecond)
	require.NoError(t, w.Start())
	t.Cleanup(w.Close)
	return changes
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "dune-1.md"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "arrival-2.md"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dune-1.md"), []byte("c"), 0644))

	select {
	case names := <-changes:
		assert.Equal(t, []string{"arrival-2.md", "dune-1.md"}, names)
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}

	select {
	case names := <-changes:
		t.Fatalf("unexpected second report: %v", names)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_ReportsSettingsAndRemoval(t *testing.T) {
	dir := t.TempDir()
	doc := filepath.Join(dir, "dune-1.md")
	require.NoError(t, os.WriteFile(doc, []byte("a"), 0644))
	changes := startWatcher(t, dir)

	require.NoError(t, os.Remove(doc))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{}"), 0644))

	select {
	case names := <-changes:
		assert.Equal(t, []string{"dune-1.md", "settings.json"}, names)
	case <-time.After(2 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatcher_IgnoresHiddenAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, dir)

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".trash"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".trash", "dune-1.md"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("a"), 0644))

	select {
	case names := <-changes:
		t.Fatalf("unexpected report: %v", names)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_StartFailsForMissingDir(t *testing.T) {
	w, err := watch.New(filepath.Join(t.TempDir(), "missing"), func([]string) {}, shelf.NewNopLogger())
	require.NoError(t, err)
	assert.Error(t, w.Start())
	w.Close()
}
