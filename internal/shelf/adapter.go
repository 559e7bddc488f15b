package shelf

import (
	"context"

	"shelf-go/internal/model"
)

// BackendKind names a storage backend.
type BackendKind string

const (
	BackendLocal  BackendKind = "local"
	BackendRemote BackendKind = "remote"
	BackendMemory BackendKind = "memory"
)

// StorageInfo describes the active storage location.
type StorageInfo struct {
	Kind      BackendKind
	Location  string // directory path, or bucket/prefix for remote backends
	FolderID  string // remote folder identity; empty for local storage
	Connected bool
}

// Progress is reported while items load. Total grows as remote listing
// pages are discovered. Err is set, with Failed incremented, when an item
// could not be loaded.
type Progress struct {
	Processed int
	Total     int
	Failed    int
	Err       error
}

// ProgressFunc receives load progress. It may be nil.
type ProgressFunc func(Progress)

// Report calls f if it is set.
func (f ProgressFunc) Report(p Progress) {
	if f != nil {
		f(p)
	}
}

// LoadResult is the outcome of a load. Failures lists items that could not
// be read; the rest of the library is still returned.
type LoadResult struct {
	Items    []*model.Item
	Failures []*ItemError
}

// UndoRecord identifies one soft-deleted document: where it lived and what
// it is called inside the trash container.
type UndoRecord struct {
	SourceName string
	TrashName  string
}

// Adapter is a storage backend. Exactly one is active at a time behind
// Storage. Adapter methods never touch the undo stack.
type Adapter interface {
	// Kind identifies the backend.
	Kind() BackendKind

	// Select negotiates access interactively: picks a directory or runs an
	// authorization flow. Returns ErrCancelled if the user backs out.
	Select(ctx context.Context) error

	// Reconnect restores access from a previously granted location without
	// prompting. Returns ErrNotConnected if there is nothing to restore.
	Reconnect(ctx context.Context) error

	// Disconnect releases the grant and any session state.
	Disconnect(ctx context.Context) error

	// IsConnected reports whether the adapter currently holds a grant.
	IsConnected() bool

	// Info describes the storage location.
	Info() StorageInfo

	// LoadItems reads every item document, sorted newest first.
	LoadItems(ctx context.Context, progress ProgressFunc) (*LoadResult, error)

	// SaveItem writes item under item.Filename, creating or overwriting it.
	SaveItem(ctx context.Context, item *model.Item) error

	// DeleteItem moves the named document into the trash container.
	DeleteItem(ctx context.Context, filename string) (UndoRecord, error)

	// RestoreItem moves a trashed document back and returns its active name.
	RestoreItem(ctx context.Context, rec UndoRecord) (string, error)

	// ListTrash returns the names of documents in the trash container.
	ListTrash(ctx context.Context) ([]string, error)

	ReadFile(ctx context.Context, name string) ([]byte, error)
	WriteFile(ctx context.Context, name string, content []byte) error
	FileExists(ctx context.Context, name string) (bool, error)
}

// AdapterFactory constructs adapters for Storage.
type AdapterFactory interface {
	// Available lists the backends this build and configuration support.
	Available() []BackendKind

	// New constructs a fresh, disconnected adapter of the given kind.
	New(kind BackendKind) (Adapter, error)
}

// DirectoryPicker asks the user for a library directory.
type DirectoryPicker interface {
	// PickDirectory returns the chosen directory, or ErrCancelled.
	PickDirectory(ctx context.Context) (string, error)
}
