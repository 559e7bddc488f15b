package shelf_test

import (
	"errors"
	"testing"
	"time"

	"shelf-go/internal/model"
	"shelf-go/internal/shelf"
)

func TestIsItemDocument(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"dune-1704067200000.md", true},
		{"settings.json", false},
		{".trash", false},
		{".hidden.md", false},
		{"notes.txt", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shelf.IsItemDocument(tt.name); got != tt.want {
				t.Errorf("IsItemDocument(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a/b.md", `a\b.md`} {
		if err := shelf.ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) expected error", name)
		}
	}
	if err := shelf.ValidateName("dune.md"); err != nil {
		t.Errorf("ValidateName() error = %v", err)
	}
}

func takenIn(names ...string) shelf.ExistsFunc {
	set := make(map[string]bool)
	for _, n := range names {
		set[n] = true
	}
	return func(name string) (bool, error) { return set[name], nil }
}

func TestTrashFileName(t *testing.T) {
	now := time.UnixMilli(1704067200000)

	t.Run("keeps free name", func(t *testing.T) {
		got, err := shelf.TrashFileName("dune.md", now, takenIn())
		if err != nil {
			t.Fatalf("TrashFileName() error = %v", err)
		}
		if got != "dune.md" {
			t.Errorf("TrashFileName() = %q", got)
		}
	})

	t.Run("appends timestamp on collision", func(t *testing.T) {
		got, err := shelf.TrashFileName("dune.md", now, takenIn("dune.md"))
		if err != nil {
			t.Fatalf("TrashFileName() error = %v", err)
		}
		if got != "dune-1704067200000.md" {
			t.Errorf("TrashFileName() = %q", got)
		}
	})

	t.Run("adds counter when timestamp also taken", func(t *testing.T) {
		got, err := shelf.TrashFileName("dune.md", now, takenIn("dune.md", "dune-1704067200000.md"))
		if err != nil {
			t.Fatalf("TrashFileName() error = %v", err)
		}
		if got != "dune-1704067200000-1.md" {
			t.Errorf("TrashFileName() = %q", got)
		}
	})

	t.Run("propagates lookup errors", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := shelf.TrashFileName("dune.md", now, func(string) (bool, error) { return false, boom })
		if !errors.Is(err, boom) {
			t.Errorf("TrashFileName() error = %v, want boom", err)
		}
	})
}

func TestRestoredFileName(t *testing.T) {
	now := time.UnixMilli(1704067200000)
	got, err := shelf.RestoredFileName("dune.md", now, takenIn("dune.md"))
	if err != nil {
		t.Fatalf("RestoredFileName() error = %v", err)
	}
	if got != "dune-restored-1704067200000.md" {
		t.Errorf("RestoredFileName() = %q", got)
	}
}

func TestSortItems(t *testing.T) {
	items := []*model.Item{
		{Filename: "b.md", DateAdded: "2024-01-01T00:00:00Z"},
		{Filename: "none.md"},
		{Filename: "c.md", DateAdded: "2024-03-01"},
		{Filename: "a.md", DateAdded: "2024-01-01T00:00:00Z"},
		{Filename: "d.md", DateAdded: "2024-02-01T12:00:00+02:00"},
	}
	shelf.SortItems(items)

	want := []string{"c.md", "d.md", "a.md", "b.md", "none.md"}
	for i, w := range want {
		if items[i].Filename != w {
			got := make([]string, len(items))
			for j, it := range items {
				got[j] = it.Filename
			}
			t.Fatalf("SortItems() order = %v, want %v", got, want)
		}
	}
}

func TestUndoStack(t *testing.T) {
	u := shelf.NewUndoStack()
	a := shelf.UndoRecord{SourceName: "a.md", TrashName: "a.md"}
	b := shelf.UndoRecord{SourceName: "b.md", TrashName: "b.md"}
	u.Push(a)
	u.Push(b)

	if u.Len() != 2 {
		t.Fatalf("Len() = %d", u.Len())
	}
	if !u.Remove(a) {
		t.Fatal("Remove() did not find record")
	}
	rec, ok := u.Pop()
	if !ok || rec != b {
		t.Errorf("Pop() = %v, %v", rec, ok)
	}
	if _, ok := u.Pop(); ok {
		t.Error("Pop() on empty stack returned a record")
	}
}
