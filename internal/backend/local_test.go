package backend

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shelf-go/internal/document"
	"shelf-go/internal/model"
	"shelf-go/internal/shelf"
	"shelf-go/internal/testutil"
)

type stubPicker struct {
	dir string
	err error
}

func (p stubPicker) PickDirectory(context.Context) (string, error) {
	return p.dir, p.err
}

func newLocal(t *testing.T) (*LocalAdapter, string) {
	t.Helper()
	dir := t.TempDir()
	a := NewLocalAdapter("", stubPicker{dir: dir}, shelf.NewNopLogger(), testutil.FixedClock())
	if err := a.Select(context.Background()); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	return a, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func duneItem() *model.Item {
	return &model.Item{
		Filename:  "dune-1704067200000.md",
		Title:     "Dune",
		Type:      model.TypeBook,
		Author:    "Frank Herbert",
		Rating:    model.Rating(4.5),
		Tags:      []string{"sci-fi", "classic"},
		DateAdded: "2024-01-01T00:00:00Z",
		Review:    "Spice must flow.",
	}
}

func TestLocalAdapter_Select(t *testing.T) {
	t.Run("grants picked directory", func(t *testing.T) {
		a, dir := newLocal(t)
		if !a.IsConnected() {
			t.Fatal("IsConnected() = false after Select")
		}
		info := a.Info()
		if info.Kind != shelf.BackendLocal || info.Location != dir || !info.Connected {
			t.Errorf("Info() = %+v", info)
		}
	})

	t.Run("cancel leaves adapter disconnected", func(t *testing.T) {
		a := NewLocalAdapter("", stubPicker{err: shelf.ErrCancelled}, shelf.NewNopLogger(), testutil.FixedClock())
		err := a.Select(context.Background())
		if !errors.Is(err, shelf.ErrCancelled) {
			t.Fatalf("Select() error = %v, want ErrCancelled", err)
		}
		if a.IsConnected() {
			t.Error("IsConnected() = true after cancel")
		}
	})

	t.Run("rejects missing directory", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "nope")
		a := NewLocalAdapter("", stubPicker{dir: missing}, shelf.NewNopLogger(), testutil.FixedClock())
		if err := a.Select(context.Background()); err == nil {
			t.Fatal("Select() expected error for missing directory")
		}
	})

	t.Run("rejects file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file.md")
		writeFile(t, path, "x")
		a := NewLocalAdapter("", stubPicker{dir: path}, shelf.NewNopLogger(), testutil.FixedClock())
		if err := a.Select(context.Background()); err == nil {
			t.Fatal("Select() expected error for non-directory")
		}
	})
}

func TestLocalAdapter_Reconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing remembered", func(t *testing.T) {
		a := NewLocalAdapter("", nil, shelf.NewNopLogger(), testutil.FixedClock())
		if err := a.Reconnect(ctx); !errors.Is(err, shelf.ErrNotConnected) {
			t.Errorf("Reconnect() error = %v, want ErrNotConnected", err)
		}
	})

	t.Run("remembered directory", func(t *testing.T) {
		dir := t.TempDir()
		a := NewLocalAdapter(dir, nil, shelf.NewNopLogger(), testutil.FixedClock())
		if err := a.Reconnect(ctx); err != nil {
			t.Fatalf("Reconnect() error = %v", err)
		}
		if a.Dir() != dir {
			t.Errorf("Dir() = %q, want %q", a.Dir(), dir)
		}
	})

	t.Run("remembered directory gone", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "gone")
		a := NewLocalAdapter(dir, nil, shelf.NewNopLogger(), testutil.FixedClock())
		if err := a.Reconnect(ctx); !errors.Is(err, shelf.ErrNotConnected) {
			t.Errorf("Reconnect() error = %v, want ErrNotConnected", err)
		}
		if a.IsConnected() {
			t.Error("IsConnected() = true")
		}
	})
}

func TestLocalAdapter_Disconnected(t *testing.T) {
	ctx := context.Background()
	a := NewLocalAdapter("", nil, shelf.NewNopLogger(), testutil.FixedClock())

	if _, err := a.LoadItems(ctx, nil); !errors.Is(err, shelf.ErrNotConnected) {
		t.Errorf("LoadItems() error = %v", err)
	}
	if err := a.SaveItem(ctx, duneItem()); !errors.Is(err, shelf.ErrNotConnected) {
		t.Errorf("SaveItem() error = %v", err)
	}
	if _, err := a.DeleteItem(ctx, "dune.md"); !errors.Is(err, shelf.ErrNotConnected) {
		t.Errorf("DeleteItem() error = %v", err)
	}
	if _, err := a.ReadFile(ctx, "settings.json"); !errors.Is(err, shelf.ErrNotConnected) {
		t.Errorf("ReadFile() error = %v", err)
	}
}

func TestLocalAdapter_LostDirectory(t *testing.T) {
	a, dir := newLocal(t)
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if a.IsConnected() {
		t.Error("IsConnected() = true after directory was removed")
	}
}

func TestLocalAdapter_LoadItems(t *testing.T) {
	a, dir := newLocal(t)
	writeFile(t, filepath.Join(dir, "old-1.md"), "---\ntitle: \"Old\"\ntype: book\ndateAdded: \"2023-01-01T00:00:00Z\"\n---\n")
	writeFile(t, filepath.Join(dir, "new-2.md"), "---\ntitle: \"New\"\ntype: movie\ndateAdded: \"2024-01-01T00:00:00Z\"\n---\n")
	writeFile(t, filepath.Join(dir, "plain.md"), "no header at all")
	writeFile(t, filepath.Join(dir, "settings.json"), "{}")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, ".hidden.md"), "ignored")
	writeFile(t, filepath.Join(dir, ".trash", "gone-3.md"), "---\ntitle: \"Gone\"\n---\n")

	var last shelf.Progress
	res, err := a.LoadItems(context.Background(), func(p shelf.Progress) { last = p })
	if err != nil {
		t.Fatalf("LoadItems() error = %v", err)
	}
	if len(res.Failures) != 0 {
		t.Errorf("Failures = %v", res.Failures)
	}

	var names []string
	for _, it := range res.Items {
		names = append(names, it.Filename)
	}
	want := []string{"new-2.md", "old-1.md", "plain.md"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("items = %v, want %v", names, want)
	}
	if res.Items[2].Review != "no header at all" {
		t.Errorf("headerless document Review = %q", res.Items[2].Review)
	}
	if last.Processed != 3 || last.Total != 3 {
		t.Errorf("last progress = %+v", last)
	}
}

func TestLocalAdapter_SaveItem(t *testing.T) {
	a, dir := newLocal(t)
	ctx := context.Background()
	item := duneItem()

	for i := 0; i < 2; i++ {
		if err := a.SaveItem(ctx, item); err != nil {
			t.Fatalf("SaveItem() #%d error = %v", i+1, err)
		}
	}

	got, err := os.ReadFile(filepath.Join(dir, item.Filename))
	if err != nil {
		t.Fatalf("reading saved document: %v", err)
	}
	if string(got) != document.Encode(item) {
		t.Errorf("saved content = %q, want %q", got, document.Encode(item))
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries after two saves, want 1", len(entries))
	}
}

func TestLocalAdapter_DeleteAndRestore(t *testing.T) {
	a, dir := newLocal(t)
	ctx := context.Background()
	item := duneItem()
	if err := a.SaveItem(ctx, item); err != nil {
		t.Fatal(err)
	}
	original, _ := os.ReadFile(filepath.Join(dir, item.Filename))

	rec, err := a.DeleteItem(ctx, item.Filename)
	if err != nil {
		t.Fatalf("DeleteItem() error = %v", err)
	}
	if rec.SourceName != item.Filename || rec.TrashName != item.Filename {
		t.Errorf("record = %+v", rec)
	}
	if _, err := os.Stat(filepath.Join(dir, item.Filename)); !os.IsNotExist(err) {
		t.Error("source still present after delete")
	}
	trashed, err := os.ReadFile(filepath.Join(dir, ".trash", rec.TrashName))
	if err != nil {
		t.Fatalf("trash copy missing: %v", err)
	}
	if !bytes.Equal(trashed, original) {
		t.Error("trash copy differs from original")
	}

	res, err := a.LoadItems(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 0 {
		t.Errorf("deleted item still listed: %d items", len(res.Items))
	}

	name, err := a.RestoreItem(ctx, rec)
	if err != nil {
		t.Fatalf("RestoreItem() error = %v", err)
	}
	if name != item.Filename {
		t.Errorf("restored name = %q, want %q", name, item.Filename)
	}
	restored, _ := os.ReadFile(filepath.Join(dir, name))
	if !bytes.Equal(restored, original) {
		t.Error("restored content differs from original")
	}
	trash, err := a.ListTrash(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(trash) != 0 {
		t.Errorf("trash = %v after restore", trash)
	}
}

func TestLocalAdapter_DeleteNameCollision(t *testing.T) {
	a, dir := newLocal(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(dir, ".trash", "dune.md"), "older copy")
	writeFile(t, filepath.Join(dir, "dune.md"), "current")

	rec, err := a.DeleteItem(ctx, "dune.md")
	if err != nil {
		t.Fatalf("DeleteItem() error = %v", err)
	}
	if rec.TrashName != "dune-1705314600000.md" {
		t.Errorf("TrashName = %q", rec.TrashName)
	}
	older, _ := os.ReadFile(filepath.Join(dir, ".trash", "dune.md"))
	if string(older) != "older copy" {
		t.Error("existing trash entry was overwritten")
	}
}

func TestLocalAdapter_RestoreNameCollision(t *testing.T) {
	a, dir := newLocal(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(dir, "dune.md"), "first")

	rec, err := a.DeleteItem(ctx, "dune.md")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "dune.md"), "recreated")

	name, err := a.RestoreItem(ctx, rec)
	if err != nil {
		t.Fatalf("RestoreItem() error = %v", err)
	}
	if name != "dune-restored-1705314600000.md" {
		t.Errorf("restored name = %q", name)
	}
	current, _ := os.ReadFile(filepath.Join(dir, "dune.md"))
	if string(current) != "recreated" {
		t.Error("restore overwrote the live document")
	}
}

func TestLocalAdapter_DeleteMissing(t *testing.T) {
	a, _ := newLocal(t)
	_, err := a.DeleteItem(context.Background(), "missing.md")
	if !errors.Is(err, shelf.ErrNotFound) {
		t.Errorf("DeleteItem() error = %v, want ErrNotFound", err)
	}
}

func TestLocalAdapter_RestoreMissing(t *testing.T) {
	a, _ := newLocal(t)
	_, err := a.RestoreItem(context.Background(), shelf.UndoRecord{SourceName: "a.md", TrashName: "a.md"})
	if !errors.Is(err, shelf.ErrNotFound) {
		t.Errorf("RestoreItem() error = %v, want ErrNotFound", err)
	}
}

func TestLocalAdapter_Files(t *testing.T) {
	a, _ := newLocal(t)
	ctx := context.Background()

	ok, err := a.FileExists(ctx, "settings.json")
	if err != nil || ok {
		t.Fatalf("FileExists() = %v, %v; want false", ok, err)
	}
	if _, err := a.ReadFile(ctx, "settings.json"); !errors.Is(err, shelf.ErrNotFound) {
		t.Errorf("ReadFile() error = %v, want ErrNotFound", err)
	}
	if err := a.WriteFile(ctx, "settings.json", []byte(`{"theme":"dark"}`)); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	ok, err = a.FileExists(ctx, "settings.json")
	if err != nil || !ok {
		t.Fatalf("FileExists() = %v, %v; want true", ok, err)
	}
	got, err := a.ReadFile(ctx, "settings.json")
	if err != nil || string(got) != `{"theme":"dark"}` {
		t.Errorf("ReadFile() = %q, %v", got, err)
	}
}
