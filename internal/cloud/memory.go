package cloud

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"shelf-go/internal/shelf"
)

// ErrUnauthorized is returned by MemoryService when a call arrives without
// a valid token.
var ErrUnauthorized = errors.New("unauthorized: token missing or expired")

const defaultPageSize = 100

// MemoryService is an in-memory shelf.RemoteService. It backs the memory
// storage backend and stands in for S3 in tests: it paginates, issues
// change tokens, enforces token expiry and counts calls. Safe for
// concurrent use.
type MemoryService struct {
	mu       sync.Mutex
	pageSize int
	idgen    shelf.IDGenerator
	clock    shelf.Clock

	folders  map[string]*memFolder
	files    map[string]*memFile
	revision int64
	token    shelf.Token

	calls    map[string]int
	gets     map[string]int // file id -> GetFile calls
	failGets map[string]int // file id -> failures left to inject
	garble   map[string]bool // file name -> next PutFile stores altered bytes
	latency  time.Duration
}

type memFolder struct {
	id     string
	parent string
	name   string
}

type memFile struct {
	id       string
	folder   string
	name     string
	content  []byte
	token    string
	modified time.Time
}

var _ shelf.RemoteService = (*MemoryService)(nil)

// NewMemoryService creates an empty service. pageSize <= 0 uses the
// default of 100 files per listing page.
func NewMemoryService(pageSize int, idgen shelf.IDGenerator, clock shelf.Clock) *MemoryService {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &MemoryService{
		pageSize: pageSize,
		idgen:    idgen,
		clock:    clock,
		folders:  make(map[string]*memFolder),
		files:    make(map[string]*memFile),
		calls:    make(map[string]int),
		gets:     make(map[string]int),
		failGets: make(map[string]int),
		garble:   make(map[string]bool),
	}
}

// SetLatency delays every call by d, honoring context cancellation.
func (m *MemoryService) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// FailGet makes the next n GetFile calls for fileID fail.
func (m *MemoryService) FailGet(fileID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGets[fileID] = n
}

// GarblePut makes the next PutFile named name store content with its
// first byte changed. The reported size stays correct.
func (m *MemoryService) GarblePut(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.garble[name] = true
}

// Calls returns how many times the named method was called.
func (m *MemoryService) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// GetCalls returns how many times GetFile was called for fileID.
func (m *MemoryService) GetCalls(fileID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets[fileID]
}

// ResetCalls zeroes every call counter.
func (m *MemoryService) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
	m.gets = make(map[string]int)
}

// Files returns the names inside folderID, sorted.
func (m *MemoryService) Files(folderID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, f := range m.files {
		if f.folder == folderID {
			names = append(names, f.name)
		}
	}
	sort.Strings(names)
	return names
}

// Touch rewrites a file as if another device edited it, moving its change
// token.
func (m *MemoryService) Touch(fileID string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileID]
	if !ok {
		return shelf.ErrNotFound
	}
	f.content = append([]byte(nil), content...)
	f.token = m.nextToken()
	f.modified = m.clock.Now()
	return nil
}

func (m *MemoryService) Authorize(tok shelf.Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["Authorize"]++
	m.token = tok
}

// begin records the call, waits out the configured latency and checks the
// token. It must be called without mu held.
func (m *MemoryService) begin(ctx context.Context, method string) error {
	m.mu.Lock()
	m.calls[method]++
	latency := m.latency
	m.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token.Expired(m.clock.Now(), 0) {
		return ErrUnauthorized
	}
	return nil
}

func (m *MemoryService) nextToken() string {
	m.revision++
	return "r" + strconv.FormatInt(m.revision, 10)
}

func (m *MemoryService) FindFolder(ctx context.Context, parentID, name string) (string, bool, error) {
	if err := m.begin(ctx, "FindFolder"); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.folders {
		if f.parent == parentID && f.name == name {
			return f.id, true, nil
		}
	}
	return "", false, nil
}

func (m *MemoryService) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	if err := m.begin(ctx, "CreateFolder"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if parentID != "" {
		if _, ok := m.folders[parentID]; !ok {
			return "", fmt.Errorf("parent folder %s: %w", parentID, shelf.ErrNotFound)
		}
	}
	id := m.idgen.New()
	m.folders[id] = &memFolder{id: id, parent: parentID, name: name}
	return id, nil
}

// ListFiles pages through files sorted by name. The page token is the
// offset of the next page.
func (m *MemoryService) ListFiles(ctx context.Context, folderID, pageToken string) (*shelf.FilePage, error) {
	if err := m.begin(ctx, "ListFiles"); err != nil {
		return nil, err
	}
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
		offset = n
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*memFile
	for _, f := range m.files {
		if f.folder == folderID {
			all = append(all, f)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].name != all[j].name {
			return all[i].name < all[j].name
		}
		return all[i].id < all[j].id
	})

	page := &shelf.FilePage{}
	end := min(offset+m.pageSize, len(all))
	for _, f := range all[min(offset, len(all)):end] {
		page.Files = append(page.Files, f.remote())
	}
	if end < len(all) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (m *MemoryService) FindFile(ctx context.Context, folderID, name string) (*shelf.RemoteFile, error) {
	if err := m.begin(ctx, "FindFile"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if f := m.lookup(folderID, name); f != nil {
		rf := f.remote()
		return &rf, nil
	}
	return nil, shelf.ErrNotFound
}

func (m *MemoryService) GetFile(ctx context.Context, fileID string) ([]byte, error) {
	if err := m.begin(ctx, "GetFile"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets[fileID]++
	if m.failGets[fileID] > 0 {
		m.failGets[fileID]--
		return nil, fmt.Errorf("injected failure fetching %s", fileID)
	}
	f, ok := m.files[fileID]
	if !ok {
		return nil, shelf.ErrNotFound
	}
	return append([]byte(nil), f.content...), nil
}

// PutFile replaces the content of an existing file with the same name, or
// creates a new one.
func (m *MemoryService) PutFile(ctx context.Context, folderID, name string, content []byte) (*shelf.RemoteFile, error) {
	if err := m.begin(ctx, "PutFile"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.folders[folderID]; !ok {
		return nil, fmt.Errorf("folder %s: %w", folderID, shelf.ErrNotFound)
	}

	f := m.lookup(folderID, name)
	if f == nil {
		f = &memFile{id: m.idgen.New(), folder: folderID, name: name}
		m.files[f.id] = f
	}
	f.content = append([]byte(nil), content...)
	if m.garble[name] && len(f.content) > 0 {
		delete(m.garble, name)
		f.content[0] ^= 0xff
	}
	f.token = m.nextToken()
	f.modified = m.clock.Now()
	rf := f.remote()
	return &rf, nil
}

func (m *MemoryService) DeleteFile(ctx context.Context, fileID string) error {
	if err := m.begin(ctx, "DeleteFile"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[fileID]; !ok {
		return shelf.ErrNotFound
	}
	delete(m.files, fileID)
	return nil
}

// lookup must be called with mu held.
func (m *MemoryService) lookup(folderID, name string) *memFile {
	for _, f := range m.files {
		if f.folder == folderID && f.name == name {
			return f
		}
	}
	return nil
}

func (f *memFile) remote() shelf.RemoteFile {
	return shelf.RemoteFile{
		ID:          f.id,
		Name:        f.name,
		ChangeToken: f.token,
		Size:        int64(len(f.content)),
		ModifiedAt:  f.modified,
	}
}
