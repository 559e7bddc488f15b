package shelf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shelf-go/internal/document"
	"shelf-go/internal/model"
	"shelf-go/internal/settings"
)

// Storage is the single entry point the application uses for persistence.
// It wraps exactly one active Adapter, owns the undo stack and the current
// settings, and serializes mutating calls.
type Storage struct {
	factory AdapterFactory
	codec   *settings.Codec
	logger  Logger
	clock   Clock
	undo    *UndoStack

	mu       sync.Mutex // guards adapter, gen and current
	adapter  Adapter
	gen      uint64 // bumped whenever the active adapter changes
	current  *settings.Settings
	mutating sync.Mutex
}

// NewStorage creates a Storage with no active adapter. codec may be nil, in
// which case settings are stored without sealing.
func NewStorage(factory AdapterFactory, codec *settings.Codec, logger Logger, clock Clock) *Storage {
	if codec == nil {
		codec = settings.NewCodec(nil)
	}
	return &Storage{
		factory: factory,
		codec:   codec,
		logger:  logger,
		clock:   clock,
		undo:    NewUndoStack(),
		current: &settings.Settings{},
	}
}

// AvailableBackends lists the backends the factory can build.
func (s *Storage) AvailableBackends() []BackendKind {
	return s.factory.Available()
}

// Initialize restores a previously granted backend without prompting. If
// there is nothing to restore, or the user cancels, Storage stays
// disconnected and Initialize returns nil.
func (s *Storage) Initialize(ctx context.Context, kind BackendKind) error {
	a, err := s.factory.New(kind)
	if err != nil {
		return fmt.Errorf("creating %s adapter: %w", kind, err)
	}
	if err := a.Reconnect(ctx); err != nil {
		if errors.Is(err, ErrNotConnected) || errors.Is(err, ErrCancelled) {
			s.logger.Info("no storage to restore", "backend", string(kind))
			return nil
		}
		return fmt.Errorf("reconnecting %s storage: %w", kind, err)
	}

	s.activate(ctx, a)
	s.logger.Info("storage restored", "backend", string(kind), "location", a.Info().Location)
	s.refreshSettings(ctx)
	return nil
}

// SelectStorage tears down the active adapter and interactively selects a
// new one. It returns false with a nil error if the user cancelled, leaving
// Storage disconnected.
func (s *Storage) SelectStorage(ctx context.Context, kind BackendKind) (bool, error) {
	if err := s.Disconnect(ctx); err != nil {
		s.logger.Warn("disconnecting previous storage", "error", err)
	}

	a, err := s.factory.New(kind)
	if err != nil {
		return false, fmt.Errorf("creating %s adapter: %w", kind, err)
	}
	if err := a.Select(ctx); err != nil {
		if errors.Is(err, ErrCancelled) {
			s.logger.Info("storage selection cancelled", "backend", string(kind))
			return false, nil
		}
		return false, fmt.Errorf("selecting %s storage: %w", kind, err)
	}

	s.activate(ctx, a)
	s.logger.Info("storage selected", "backend", string(kind), "location", a.Info().Location)
	s.refreshSettings(ctx)
	return true, nil
}

func (s *Storage) activate(ctx context.Context, a Adapter) {
	s.mu.Lock()
	old := s.adapter
	s.adapter = a
	s.gen++
	s.mu.Unlock()

	s.undo.Clear()
	if old != nil {
		if err := old.Disconnect(ctx); err != nil {
			s.logger.Warn("disconnecting replaced storage", "error", err)
		}
	}
}

// Disconnect releases the active adapter and clears undo history. It is a
// no-op when nothing is connected.
func (s *Storage) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	a := s.adapter
	s.adapter = nil
	s.gen++
	s.mu.Unlock()

	s.undo.Clear()
	if a == nil {
		return nil
	}
	if err := a.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnecting %s storage: %w", a.Kind(), err)
	}
	s.logger.Info("storage disconnected", "backend", string(a.Kind()))
	return nil
}

// IsConnected reports whether an adapter is active and holds its grant.
func (s *Storage) IsConnected() bool {
	_, _, err := s.active()
	return err == nil
}

// StorageInfo describes the active location. A disconnected Storage
// reports a zero value with Connected false.
func (s *Storage) StorageInfo() StorageInfo {
	s.mu.Lock()
	a := s.adapter
	s.mu.Unlock()
	if a == nil {
		return StorageInfo{}
	}
	return a.Info()
}

// active returns the connected adapter and its generation, or
// ErrNotConnected. Every operation calls it before doing any I/O.
func (s *Storage) active() (Adapter, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adapter == nil || !s.adapter.IsConnected() {
		return nil, 0, ErrNotConnected
	}
	return s.adapter, s.gen, nil
}

func (s *Storage) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// LoadItems reads the whole library, newest first. If the active adapter
// changes while the load is running its results are dropped and ErrStale
// is returned.
func (s *Storage) LoadItems(ctx context.Context, progress ProgressFunc) (*LoadResult, error) {
	a, gen, err := s.active()
	if err != nil {
		return nil, err
	}

	res, err := a.LoadItems(ctx, progress)
	if s.generation() != gen {
		s.logger.Debug("dropping load results from replaced storage", "backend", string(a.Kind()))
		return nil, ErrStale
	}
	if err != nil {
		return nil, fmt.Errorf("loading items: %w", err)
	}
	if len(res.Failures) > 0 {
		s.logger.Warn("some items failed to load", "failed", len(res.Failures), "loaded", len(res.Items))
	}
	return res, nil
}

// SaveItem creates or overwrites the item's document and returns the item
// as written. An empty Filename gets a generated <slug>-<epoch-ms>.md name.
// DateAdded is set on first write and never changed by later saves.
func (s *Storage) SaveItem(ctx context.Context, item *model.Item) (*model.Item, error) {
	a, _, err := s.active()
	if err != nil {
		return nil, err
	}

	it := item.Clone()
	now := s.clock.Now()
	if it.Filename == "" {
		it.Filename = model.NewFilename(it.Title, now)
	}
	if err := it.Validate(); err != nil {
		return nil, &ItemError{Op: "save", Name: it.Filename, Err: fmt.Errorf("%w: %v", ErrInvalidItem, err)}
	}

	s.mutating.Lock()
	defer s.mutating.Unlock()

	added, err := s.storedDateAdded(ctx, a, it.Filename)
	if err != nil {
		return nil, &ItemError{Op: "save", Name: it.Filename, Err: err}
	}
	if added != "" {
		it.DateAdded = added
	}
	if it.DateAdded == "" {
		it.DateAdded = now.UTC().Format(time.RFC3339)
	}
	it.ID = model.IDFromFilename(it.Filename)

	if err := a.SaveItem(ctx, it); err != nil {
		return nil, asItemError("save", it.Filename, err)
	}
	s.logger.Debug("item saved", "filename", it.Filename)
	return it, nil
}

// storedDateAdded returns the dateAdded of an existing document, or "" if
// there is none.
func (s *Storage) storedDateAdded(ctx context.Context, a Adapter, name string) (string, error) {
	exists, err := a.FileExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("checking existing document: %w", err)
	}
	if !exists {
		return "", nil
	}
	data, err := a.ReadFile(ctx, name)
	if err != nil {
		return "", fmt.Errorf("reading existing document: %w", err)
	}
	return document.DecodeItem(name, string(data)).DateAdded, nil
}

// DeleteItem moves the item's document into the trash and records it for
// undo.
func (s *Storage) DeleteItem(ctx context.Context, item *model.Item) (UndoRecord, error) {
	a, _, err := s.active()
	if err != nil {
		return UndoRecord{}, err
	}
	if err := ValidateName(item.Filename); err != nil {
		return UndoRecord{}, &ItemError{Op: "delete", Name: item.Filename, Err: err}
	}

	s.mutating.Lock()
	defer s.mutating.Unlock()

	rec, err := a.DeleteItem(ctx, item.Filename)
	if err != nil {
		return UndoRecord{}, asItemError("delete", item.Filename, err)
	}
	s.undo.Push(rec)
	s.logger.Info("item trashed", "filename", rec.SourceName, "trash_name", rec.TrashName)
	return rec, nil
}

// RestoreItem moves a trashed document back and returns the name it was
// restored under. The record is dropped from the undo stack if present.
func (s *Storage) RestoreItem(ctx context.Context, rec UndoRecord) (string, error) {
	a, _, err := s.active()
	if err != nil {
		return "", err
	}

	s.mutating.Lock()
	defer s.mutating.Unlock()

	name, err := s.restore(ctx, a, rec)
	if err != nil {
		return "", err
	}
	s.undo.Remove(rec)
	return name, nil
}

// Undo restores the most recent deletion. If the restore fails the record
// goes back on the stack.
func (s *Storage) Undo(ctx context.Context) (string, error) {
	a, _, err := s.active()
	if err != nil {
		return "", err
	}

	s.mutating.Lock()
	defer s.mutating.Unlock()

	rec, ok := s.undo.Pop()
	if !ok {
		return "", ErrUndoEmpty
	}
	name, err := s.restore(ctx, a, rec)
	if err != nil {
		s.undo.Push(rec)
		return "", err
	}
	return name, nil
}

func (s *Storage) restore(ctx context.Context, a Adapter, rec UndoRecord) (string, error) {
	if err := ValidateName(rec.TrashName); err != nil {
		return "", &ItemError{Op: "restore", Name: rec.TrashName, Err: err}
	}
	name, err := a.RestoreItem(ctx, rec)
	if err != nil {
		return "", asItemError("restore", rec.SourceName, err)
	}
	s.logger.Info("item restored", "filename", name, "trash_name", rec.TrashName)
	return name, nil
}

// CanUndo reports whether there is a deletion to undo.
func (s *Storage) CanUndo() bool {
	return s.undo.Len() > 0
}

func (s *Storage) UndoDepth() int {
	return s.undo.Len()
}

// ListTrash returns the names held in the trash container.
func (s *Storage) ListTrash(ctx context.Context) ([]string, error) {
	a, _, err := s.active()
	if err != nil {
		return nil, err
	}
	names, err := a.ListTrash(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing trash: %w", err)
	}
	return names, nil
}

func (s *Storage) ReadFile(ctx context.Context, name string) ([]byte, error) {
	a, _, err := s.active()
	if err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, &ItemError{Op: "read", Name: name, Err: err}
	}
	data, err := a.ReadFile(ctx, name)
	if err != nil {
		return nil, asItemError("read", name, err)
	}
	return data, nil
}

func (s *Storage) WriteFile(ctx context.Context, name string, content []byte) error {
	a, _, err := s.active()
	if err != nil {
		return err
	}
	if err := ValidateName(name); err != nil {
		return &ItemError{Op: "write", Name: name, Err: err}
	}

	s.mutating.Lock()
	defer s.mutating.Unlock()

	if err := a.WriteFile(ctx, name, content); err != nil {
		return asItemError("write", name, err)
	}
	return nil
}

func (s *Storage) FileExists(ctx context.Context, name string) (bool, error) {
	a, _, err := s.active()
	if err != nil {
		return false, err
	}
	if err := ValidateName(name); err != nil {
		return false, &ItemError{Op: "exists", Name: name, Err: err}
	}
	ok, err := a.FileExists(ctx, name)
	if err != nil {
		return false, asItemError("exists", name, err)
	}
	return ok, nil
}

// Settings returns a copy of the current settings.
func (s *Storage) Settings() *settings.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// LoadSettings reads settings.json from the active storage. A missing
// document leaves the current settings in place.
func (s *Storage) LoadSettings(ctx context.Context) (*settings.Settings, error) {
	exists, err := s.FileExists(ctx, SettingsName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return s.Settings(), nil
	}

	data, err := s.ReadFile(ctx, SettingsName)
	if err != nil {
		return nil, err
	}
	loaded, err := s.codec.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return loaded.Clone(), nil
}

// SaveSettings writes settings.json to the active storage and makes st the
// current settings.
func (s *Storage) SaveSettings(ctx context.Context, st *settings.Settings) error {
	data, err := s.codec.Marshal(st)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	if err := s.WriteFile(ctx, SettingsName, data); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = st.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Storage) refreshSettings(ctx context.Context) {
	if _, err := s.LoadSettings(ctx); err != nil {
		s.logger.Warn("settings not loaded", "error", err)
	}
}

// asItemError attaches operation context to err unless it already carries
// an ItemError.
func asItemError(op, name string, err error) error {
	var ie *ItemError
	if errors.As(err, &ie) {
		return err
	}
	return &ItemError{Op: op, Name: name, Err: err}
}
