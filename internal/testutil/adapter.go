package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"shelf-go/internal/document"
	"shelf-go/internal/model"
	"shelf-go/internal/shelf"
)

// MockAdapter is an in-memory shelf.Adapter. Files and trash are plain maps;
// the failure fields inject errors into the matching calls.
type MockAdapter struct {
	mu        sync.Mutex
	kind      shelf.BackendKind
	clock     shelf.Clock
	files     map[string][]byte
	trash     map[string][]byte
	connected bool

	// Granted makes Reconnect succeed, as if a grant had been persisted.
	Granted bool

	SelectErr  error
	SaveErr    error
	DeleteErr  error
	RestoreErr error

	// OnLoad runs inside LoadItems before it returns.
	OnLoad func()

	Disconnects int
	Saves       int
}

// NewMockAdapter creates a disconnected adapter of the given kind.
func NewMockAdapter(kind shelf.BackendKind, clock shelf.Clock) *MockAdapter {
	return &MockAdapter{
		kind:  kind,
		clock: clock,
		files: make(map[string][]byte),
		trash: make(map[string][]byte),
	}
}

// AddFile seeds a document in the active location.
func (m *MockAdapter) AddFile(name string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = content
}

// File returns an active document's content.
func (m *MockAdapter) File(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	return data, ok
}

// TrashFile returns a trashed document's content.
func (m *MockAdapter) TrashFile(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.trash[name]
	return data, ok
}

// Revoke drops the grant, as if the user withdrew access.
func (m *MockAdapter) Revoke() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockAdapter) Kind() shelf.BackendKind { return m.kind }

func (m *MockAdapter) Select(ctx context.Context) error {
	if m.SelectErr != nil {
		return m.SelectErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.Granted = true
	return nil
}

func (m *MockAdapter) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Granted {
		return shelf.ErrNotConnected
	}
	m.connected = true
	return nil
}

func (m *MockAdapter) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.Disconnects++
	return nil
}

func (m *MockAdapter) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockAdapter) Info() shelf.StorageInfo {
	return shelf.StorageInfo{Kind: m.kind, Location: "mock", Connected: m.IsConnected()}
}

func (m *MockAdapter) LoadItems(ctx context.Context, progress shelf.ProgressFunc) (*shelf.LoadResult, error) {
	m.mu.Lock()
	var names []string
	for name := range m.files {
		if shelf.IsItemDocument(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	res := &shelf.LoadResult{}
	for i, name := range names {
		res.Items = append(res.Items, document.DecodeItem(name, string(m.files[name])))
		progress.Report(shelf.Progress{Processed: i + 1, Total: len(names)})
	}
	m.mu.Unlock()

	if m.OnLoad != nil {
		m.OnLoad()
	}
	shelf.SortItems(res.Items)
	return res, nil
}

func (m *MockAdapter) SaveItem(ctx context.Context, item *model.Item) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[item.Filename] = []byte(document.Encode(item))
	m.Saves++
	return nil
}

func (m *MockAdapter) DeleteItem(ctx context.Context, filename string) (shelf.UndoRecord, error) {
	if m.DeleteErr != nil {
		return shelf.UndoRecord{}, m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[filename]
	if !ok {
		return shelf.UndoRecord{}, shelf.ErrNotFound
	}
	trashName, err := shelf.TrashFileName(filename, m.clock.Now(), m.exists(m.trash))
	if err != nil {
		return shelf.UndoRecord{}, err
	}
	m.trash[trashName] = data
	delete(m.files, filename)
	return shelf.UndoRecord{SourceName: filename, TrashName: trashName}, nil
}

func (m *MockAdapter) RestoreItem(ctx context.Context, rec shelf.UndoRecord) (string, error) {
	if m.RestoreErr != nil {
		return "", m.RestoreErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.trash[rec.TrashName]
	if !ok {
		return "", fmt.Errorf("trash entry %s: %w", rec.TrashName, shelf.ErrNotFound)
	}
	name, err := shelf.RestoredFileName(rec.SourceName, m.clock.Now(), m.exists(m.files))
	if err != nil {
		return "", err
	}
	m.files[name] = data
	delete(m.trash, rec.TrashName)
	return name, nil
}

func (m *MockAdapter) ListTrash(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.trash))
	for name := range m.trash {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MockAdapter) ReadFile(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, shelf.ErrNotFound
	}
	return data, nil
}

func (m *MockAdapter) WriteFile(ctx context.Context, name string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = content
	return nil
}

func (m *MockAdapter) FileExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[name]
	return ok, nil
}

// exists must be called with mu held.
func (m *MockAdapter) exists(set map[string][]byte) shelf.ExistsFunc {
	return func(name string) (bool, error) {
		_, ok := set[name]
		return ok, nil
	}
}

// MockFactory hands out pre-registered adapters by kind.
type MockFactory struct {
	Adapters map[shelf.BackendKind]*MockAdapter
}

func NewMockFactory(adapters ...*MockAdapter) *MockFactory {
	f := &MockFactory{Adapters: make(map[shelf.BackendKind]*MockAdapter)}
	for _, a := range adapters {
		f.Adapters[a.Kind()] = a
	}
	return f
}

func (f *MockFactory) Available() []shelf.BackendKind {
	kinds := make([]shelf.BackendKind, 0, len(f.Adapters))
	for k := range f.Adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (f *MockFactory) New(kind shelf.BackendKind) (shelf.Adapter, error) {
	a, ok := f.Adapters[kind]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
	return a, nil
}
