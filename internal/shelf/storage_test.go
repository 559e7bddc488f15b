package shelf_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"shelf-go/internal/document"
	"shelf-go/internal/model"
	"shelf-go/internal/settings"
	"shelf-go/internal/shelf"
	"shelf-go/internal/testutil"
)

func newConnectedStorage(t *testing.T) (*shelf.Storage, *testutil.MockAdapter, *testutil.StubClock) {
	t.Helper()
	clock := testutil.FixedClock()
	adapter := testutil.NewMockAdapter(shelf.BackendLocal, clock)
	s := shelf.NewStorage(testutil.NewMockFactory(adapter), nil, shelf.NewNopLogger(), clock)

	ok, err := s.SelectStorage(context.Background(), shelf.BackendLocal)
	if err != nil || !ok {
		t.Fatalf("SelectStorage() = %v, %v", ok, err)
	}
	return s, adapter, clock
}

func dune() *model.Item {
	return &model.Item{
		Title:  "Dune",
		Type:   model.TypeBook,
		Author: "Frank Herbert",
		Rating: model.Rating(4.5),
	}
}

func TestStorage_NotConnected(t *testing.T) {
	clock := testutil.FixedClock()
	adapter := testutil.NewMockAdapter(shelf.BackendLocal, clock)
	s := shelf.NewStorage(testutil.NewMockFactory(adapter), nil, shelf.NewNopLogger(), clock)
	ctx := context.Background()

	if s.IsConnected() {
		t.Fatal("IsConnected() = true before selection")
	}

	checks := map[string]func() error{
		"LoadItems": func() error { _, err := s.LoadItems(ctx, nil); return err },
		"SaveItem":  func() error { _, err := s.SaveItem(ctx, dune()); return err },
		"DeleteItem": func() error {
			_, err := s.DeleteItem(ctx, &model.Item{Filename: "a.md"})
			return err
		},
		"RestoreItem": func() error {
			_, err := s.RestoreItem(ctx, shelf.UndoRecord{SourceName: "a.md", TrashName: "a.md"})
			return err
		},
		"Undo":       func() error { _, err := s.Undo(ctx); return err },
		"ReadFile":   func() error { _, err := s.ReadFile(ctx, "a.md"); return err },
		"WriteFile":  func() error { return s.WriteFile(ctx, "a.md", []byte("x")) },
		"FileExists": func() error { _, err := s.FileExists(ctx, "a.md"); return err },
		"ListTrash":  func() error { _, err := s.ListTrash(ctx); return err },
	}
	for name, call := range checks {
		t.Run(name, func(t *testing.T) {
			if err := call(); !errors.Is(err, shelf.ErrNotConnected) {
				t.Errorf("%s() error = %v, want ErrNotConnected", name, err)
			}
		})
	}

	if adapter.Saves != 0 {
		t.Errorf("adapter saw %d saves while disconnected", adapter.Saves)
	}
}

func TestStorage_RevokedGrantFailsFast(t *testing.T) {
	s, adapter, _ := newConnectedStorage(t)
	adapter.Revoke()

	_, err := s.SaveItem(context.Background(), dune())
	if !errors.Is(err, shelf.ErrNotConnected) {
		t.Errorf("SaveItem() error = %v, want ErrNotConnected", err)
	}
	if adapter.Saves != 0 {
		t.Error("adapter was called after losing its grant")
	}
}

func TestStorage_SelectStorage(t *testing.T) {
	t.Run("cancel is not an error", func(t *testing.T) {
		clock := testutil.FixedClock()
		adapter := testutil.NewMockAdapter(shelf.BackendLocal, clock)
		adapter.SelectErr = shelf.ErrCancelled
		s := shelf.NewStorage(testutil.NewMockFactory(adapter), nil, shelf.NewNopLogger(), clock)

		ok, err := s.SelectStorage(context.Background(), shelf.BackendLocal)
		if err != nil {
			t.Fatalf("SelectStorage() error = %v", err)
		}
		if ok || s.IsConnected() {
			t.Error("cancelled selection should leave storage disconnected")
		}
	})

	t.Run("real failures propagate", func(t *testing.T) {
		clock := testutil.FixedClock()
		adapter := testutil.NewMockAdapter(shelf.BackendLocal, clock)
		adapter.SelectErr = errors.New("permission denied")
		s := shelf.NewStorage(testutil.NewMockFactory(adapter), nil, shelf.NewNopLogger(), clock)

		if _, err := s.SelectStorage(context.Background(), shelf.BackendLocal); err == nil {
			t.Error("SelectStorage() expected error")
		}
	})

	t.Run("switching tears down the old adapter", func(t *testing.T) {
		clock := testutil.FixedClock()
		local := testutil.NewMockAdapter(shelf.BackendLocal, clock)
		memory := testutil.NewMockAdapter(shelf.BackendMemory, clock)
		s := shelf.NewStorage(testutil.NewMockFactory(local, memory), nil, shelf.NewNopLogger(), clock)
		ctx := context.Background()

		if _, err := s.SelectStorage(ctx, shelf.BackendLocal); err != nil {
			t.Fatalf("SelectStorage(local) error = %v", err)
		}
		if _, err := s.SelectStorage(ctx, shelf.BackendMemory); err != nil {
			t.Fatalf("SelectStorage(memory) error = %v", err)
		}
		if local.Disconnects != 1 || local.IsConnected() {
			t.Errorf("old adapter disconnects = %d, connected = %v", local.Disconnects, local.IsConnected())
		}
		if got := s.StorageInfo().Kind; got != shelf.BackendMemory {
			t.Errorf("StorageInfo().Kind = %q", got)
		}
	})
}

func TestStorage_Initialize(t *testing.T) {
	t.Run("restores granted storage", func(t *testing.T) {
		clock := testutil.FixedClock()
		adapter := testutil.NewMockAdapter(shelf.BackendLocal, clock)
		adapter.Granted = true
		s := shelf.NewStorage(testutil.NewMockFactory(adapter), nil, shelf.NewNopLogger(), clock)

		if err := s.Initialize(context.Background(), shelf.BackendLocal); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if !s.IsConnected() {
			t.Error("Initialize() did not reconnect")
		}
	})

	t.Run("nothing to restore stays disconnected", func(t *testing.T) {
		clock := testutil.FixedClock()
		adapter := testutil.NewMockAdapter(shelf.BackendLocal, clock)
		s := shelf.NewStorage(testutil.NewMockFactory(adapter), nil, shelf.NewNopLogger(), clock)

		if err := s.Initialize(context.Background(), shelf.BackendLocal); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if s.IsConnected() {
			t.Error("Initialize() connected without a grant")
		}
	})
}

func TestStorage_SaveItem(t *testing.T) {
	t.Run("generates filename and dateAdded", func(t *testing.T) {
		s, adapter, clock := newConnectedStorage(t)

		saved, err := s.SaveItem(context.Background(), dune())
		if err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}
		wantName := model.NewFilename("Dune", clock.Now())
		if saved.Filename != wantName {
			t.Errorf("Filename = %q, want %q", saved.Filename, wantName)
		}
		if saved.ID != strings.TrimSuffix(wantName, ".md") {
			t.Errorf("ID = %q", saved.ID)
		}
		if saved.DateAdded != "2024-01-15T10:30:00Z" {
			t.Errorf("DateAdded = %q", saved.DateAdded)
		}
		if _, ok := adapter.File(wantName); !ok {
			t.Error("document not written")
		}
	})

	t.Run("is idempotent on filename", func(t *testing.T) {
		s, _, _ := newConnectedStorage(t)
		ctx := context.Background()

		first, err := s.SaveItem(ctx, dune())
		if err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}
		update := first.Clone()
		update.Review = "Still great."
		if _, err := s.SaveItem(ctx, update); err != nil {
			t.Fatalf("second SaveItem() error = %v", err)
		}

		res, err := s.LoadItems(ctx, nil)
		if err != nil {
			t.Fatalf("LoadItems() error = %v", err)
		}
		if len(res.Items) != 1 {
			t.Fatalf("got %d items, want 1", len(res.Items))
		}
		if res.Items[0].Review != "Still great." || res.Items[0].ID != first.ID {
			t.Errorf("loaded item = %+v", res.Items[0])
		}
	})

	t.Run("keeps stored dateAdded on overwrite", func(t *testing.T) {
		s, adapter, clock := newConnectedStorage(t)
		ctx := context.Background()

		first, err := s.SaveItem(ctx, dune())
		if err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}
		clock.Advance(48 * time.Hour)

		update := first.Clone()
		update.DateAdded = "2030-01-01T00:00:00Z"
		saved, err := s.SaveItem(ctx, update)
		if err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}
		if saved.DateAdded != first.DateAdded {
			t.Errorf("DateAdded = %q, want %q", saved.DateAdded, first.DateAdded)
		}
		data, _ := adapter.File(first.Filename)
		if got := document.DecodeItem(first.Filename, string(data)).DateAdded; got != first.DateAdded {
			t.Errorf("stored DateAdded = %q", got)
		}
	})

	t.Run("rejects invalid items", func(t *testing.T) {
		s, adapter, _ := newConnectedStorage(t)

		_, err := s.SaveItem(context.Background(), &model.Item{Type: model.TypeBook})
		if !errors.Is(err, shelf.ErrInvalidItem) {
			t.Errorf("SaveItem() error = %v, want ErrInvalidItem", err)
		}
		if adapter.Saves != 0 {
			t.Error("invalid item reached the adapter")
		}
	})

	t.Run("adapter failures carry the filename", func(t *testing.T) {
		s, adapter, _ := newConnectedStorage(t)
		adapter.SaveErr = errors.New("disk full")

		item := dune()
		item.Filename = "dune.md"
		_, err := s.SaveItem(context.Background(), item)
		var ie *shelf.ItemError
		if !errors.As(err, &ie) || ie.Name != "dune.md" || ie.Op != "save" {
			t.Errorf("SaveItem() error = %v, want ItemError for dune.md", err)
		}
	})
}

func TestStorage_DeleteAndUndo(t *testing.T) {
	t.Run("undo is LIFO", func(t *testing.T) {
		s, _, _ := newConnectedStorage(t)
		ctx := context.Background()

		a := &model.Item{Filename: "a.md", Title: "A", Type: model.TypeBook}
		b := &model.Item{Filename: "b.md", Title: "B", Type: model.TypeMovie}
		for _, it := range []*model.Item{a, b} {
			if _, err := s.SaveItem(ctx, it); err != nil {
				t.Fatalf("SaveItem() error = %v", err)
			}
			if _, err := s.DeleteItem(ctx, it); err != nil {
				t.Fatalf("DeleteItem() error = %v", err)
			}
		}
		if s.UndoDepth() != 2 {
			t.Fatalf("UndoDepth() = %d", s.UndoDepth())
		}

		first, err := s.Undo(ctx)
		if err != nil {
			t.Fatalf("Undo() error = %v", err)
		}
		second, err := s.Undo(ctx)
		if err != nil {
			t.Fatalf("Undo() error = %v", err)
		}
		if first != "b.md" || second != "a.md" {
			t.Errorf("undo order = %s, %s; want b.md, a.md", first, second)
		}
		if _, err := s.Undo(ctx); !errors.Is(err, shelf.ErrUndoEmpty) {
			t.Errorf("Undo() on empty stack error = %v", err)
		}
	})

	t.Run("trash holds byte-identical copy", func(t *testing.T) {
		s, adapter, _ := newConnectedStorage(t)
		ctx := context.Background()

		saved, err := s.SaveItem(ctx, dune())
		if err != nil {
			t.Fatalf("SaveItem() error = %v", err)
		}
		original, _ := adapter.File(saved.Filename)

		rec, err := s.DeleteItem(ctx, saved)
		if err != nil {
			t.Fatalf("DeleteItem() error = %v", err)
		}
		res, _ := s.LoadItems(ctx, nil)
		if len(res.Items) != 0 {
			t.Errorf("deleted item still loaded")
		}
		trashed, ok := adapter.TrashFile(rec.TrashName)
		if !ok || string(trashed) != string(original) {
			t.Errorf("trash copy = %q, want %q", trashed, original)
		}

		name, err := s.RestoreItem(ctx, rec)
		if err != nil {
			t.Fatalf("RestoreItem() error = %v", err)
		}
		if name != saved.Filename {
			t.Errorf("restored as %q", name)
		}
		if s.CanUndo() {
			t.Error("RestoreItem() should drop the record from the undo stack")
		}
	})

	t.Run("failed restore keeps the record", func(t *testing.T) {
		s, adapter, _ := newConnectedStorage(t)
		ctx := context.Background()

		saved, _ := s.SaveItem(ctx, dune())
		if _, err := s.DeleteItem(ctx, saved); err != nil {
			t.Fatalf("DeleteItem() error = %v", err)
		}

		adapter.RestoreErr = errors.New("network down")
		if _, err := s.Undo(ctx); err == nil {
			t.Fatal("Undo() expected error")
		}
		if s.UndoDepth() != 1 {
			t.Fatalf("UndoDepth() = %d after failed undo, want 1", s.UndoDepth())
		}

		adapter.RestoreErr = nil
		if _, err := s.Undo(ctx); err != nil {
			t.Errorf("retry Undo() error = %v", err)
		}
	})

	t.Run("failed delete pushes nothing", func(t *testing.T) {
		s, adapter, _ := newConnectedStorage(t)
		adapter.DeleteErr = errors.New("copy failed")

		if _, err := s.DeleteItem(context.Background(), &model.Item{Filename: "a.md"}); err == nil {
			t.Fatal("DeleteItem() expected error")
		}
		if s.CanUndo() {
			t.Error("failed delete pushed an undo record")
		}
	})

	t.Run("disconnect clears undo history", func(t *testing.T) {
		s, _, _ := newConnectedStorage(t)
		ctx := context.Background()

		saved, _ := s.SaveItem(ctx, dune())
		if _, err := s.DeleteItem(ctx, saved); err != nil {
			t.Fatalf("DeleteItem() error = %v", err)
		}
		if err := s.Disconnect(ctx); err != nil {
			t.Fatalf("Disconnect() error = %v", err)
		}
		if s.CanUndo() {
			t.Error("undo history survived disconnect")
		}
	})
}

func TestStorage_LoadItemsDropsStaleResults(t *testing.T) {
	clock := testutil.FixedClock()
	local := testutil.NewMockAdapter(shelf.BackendLocal, clock)
	memory := testutil.NewMockAdapter(shelf.BackendMemory, clock)
	s := shelf.NewStorage(testutil.NewMockFactory(local, memory), nil, shelf.NewNopLogger(), clock)
	ctx := context.Background()

	if _, err := s.SelectStorage(ctx, shelf.BackendLocal); err != nil {
		t.Fatalf("SelectStorage() error = %v", err)
	}
	local.AddFile("a.md", []byte("---\ntitle: \"A\"\ntype: book\n---\n"))
	local.OnLoad = func() {
		if _, err := s.SelectStorage(ctx, shelf.BackendMemory); err != nil {
			t.Errorf("SelectStorage() during load error = %v", err)
		}
	}

	res, err := s.LoadItems(ctx, nil)
	if !errors.Is(err, shelf.ErrStale) {
		t.Errorf("LoadItems() = %v, %v; want ErrStale", res, err)
	}
}

func TestStorage_LoadItemsReportsProgress(t *testing.T) {
	s, adapter, _ := newConnectedStorage(t)
	adapter.AddFile("a.md", []byte("---\ntitle: \"A\"\ntype: book\n---\n"))
	adapter.AddFile("b.md", []byte("---\ntitle: \"B\"\ntype: movie\n---\n"))
	adapter.AddFile(shelf.SettingsName, []byte("{}"))

	var last shelf.Progress
	res, err := s.LoadItems(context.Background(), func(p shelf.Progress) { last = p })
	if err != nil {
		t.Fatalf("LoadItems() error = %v", err)
	}
	if len(res.Items) != 2 {
		t.Errorf("got %d items, want 2", len(res.Items))
	}
	if last.Processed != 2 || last.Total != 2 {
		t.Errorf("last progress = %+v", last)
	}
}

func TestStorage_Settings(t *testing.T) {
	s, adapter, _ := newConnectedStorage(t)
	ctx := context.Background()

	want := &settings.Settings{Theme: "dark", APIKeys: map[string]string{"tmdb": "k"}}
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}
	if _, ok := adapter.File(shelf.SettingsName); !ok {
		t.Fatal("settings.json not written")
	}

	got, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if got.Theme != "dark" || got.APIKeys["tmdb"] != "k" {
		t.Errorf("LoadSettings() = %+v", got)
	}
	if s.Settings().Theme != "dark" {
		t.Errorf("Settings().Theme = %q", s.Settings().Theme)
	}
}
