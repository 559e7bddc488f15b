package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shelf-go/internal/document"
	"shelf-go/internal/model"
	"shelf-go/internal/shelf"
)

const (
	DefaultFolder    = "shelf"
	DefaultBatchSize = 20
	DefaultTimeout   = 30 * time.Second
	DefaultTokenSkew = time.Minute
)

// RemoteOptions tunes a RemoteAdapter. Zero values take the defaults.
type RemoteOptions struct {
	Folder    string        // reserved folder holding the library
	BatchSize int           // concurrent content fetches per batch
	Timeout   time.Duration // per request
	TokenSkew time.Duration // refresh tokens this long before they expire
	Location  string        // human-readable location for StorageInfo
}

func (o RemoteOptions) withDefaults() RemoteOptions {
	if o.Folder == "" {
		o.Folder = DefaultFolder
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.TokenSkew <= 0 {
		o.TokenSkew = DefaultTokenSkew
	}
	return o
}

// RemoteAdapter stores the library in a folder of a remote file service.
// Loads are cache-first: a file is downloaded only when its change token
// differs from the cached one.
type RemoteAdapter struct {
	kind   shelf.BackendKind
	svc    shelf.RemoteService
	tokens shelf.TokenSource
	cache  shelf.CacheStore
	opts   RemoteOptions
	logger shelf.Logger
	clock  shelf.Clock

	tokenMu sync.Mutex
	token   shelf.Token

	mu       sync.RWMutex
	folderID string // looked up once per session
	trashID  string
}

var _ shelf.Adapter = (*RemoteAdapter)(nil)

func NewRemoteAdapter(kind shelf.BackendKind, svc shelf.RemoteService, tokens shelf.TokenSource, cache shelf.CacheStore, opts RemoteOptions, logger shelf.Logger, clock shelf.Clock) *RemoteAdapter {
	return &RemoteAdapter{
		kind:   kind,
		svc:    svc,
		tokens: tokens,
		cache:  cache,
		opts:   opts.withDefaults(),
		logger: logger,
		clock:  clock,
	}
}

func (a *RemoteAdapter) Kind() shelf.BackendKind { return a.kind }

// Select authorizes and locates (or creates) the library folder.
func (a *RemoteAdapter) Select(ctx context.Context) error {
	return a.openSession(ctx)
}

// Reconnect re-authorizes without interaction. Missing or rejected
// credentials read as ErrNotConnected.
func (a *RemoteAdapter) Reconnect(ctx context.Context) error {
	if _, err := a.refreshToken(ctx); err != nil {
		if errors.Is(err, shelf.ErrCancelled) || errors.Is(err, shelf.ErrNotConnected) {
			return err
		}
		return fmt.Errorf("%w: %v", shelf.ErrNotConnected, err)
	}
	return a.openSession(ctx)
}

func (a *RemoteAdapter) openSession(ctx context.Context) error {
	var (
		id    string
		found bool
	)
	err := a.call(ctx, "find folder", func(ctx context.Context) error {
		var err error
		id, found, err = a.svc.FindFolder(ctx, "", a.opts.Folder)
		return err
	})
	if err != nil {
		return err
	}
	if !found {
		err = a.call(ctx, "create folder", func(ctx context.Context) error {
			var err error
			id, err = a.svc.CreateFolder(ctx, "", a.opts.Folder)
			return err
		})
		if err != nil {
			return err
		}
		a.logger.Info("remote folder created", "folder", a.opts.Folder, "folder_id", id)
	}

	a.mu.Lock()
	a.folderID = id
	a.trashID = ""
	a.mu.Unlock()
	return nil
}

// Disconnect forgets the token and session folder ids. Cached entries stay
// for the next session.
func (a *RemoteAdapter) Disconnect(ctx context.Context) error {
	a.tokenMu.Lock()
	a.token = shelf.Token{}
	a.tokenMu.Unlock()

	a.mu.Lock()
	a.folderID = ""
	a.trashID = ""
	a.mu.Unlock()
	return nil
}

func (a *RemoteAdapter) IsConnected() bool {
	return a.folder() != ""
}

func (a *RemoteAdapter) Info() shelf.StorageInfo {
	folder := a.folder()
	return shelf.StorageInfo{
		Kind:      a.kind,
		Location:  a.opts.Location,
		FolderID:  folder,
		Connected: folder != "",
	}
}

// FolderID returns the session's library folder id, or "".
func (a *RemoteAdapter) FolderID() string {
	return a.folder()
}

func (a *RemoteAdapter) folder() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.folderID
}

func (a *RemoteAdapter) requireFolder() (string, error) {
	if id := a.folder(); id != "" {
		return id, nil
	}
	return "", shelf.ErrNotConnected
}

// refreshToken returns a token valid past the skew window, fetching and
// installing a new one if needed.
func (a *RemoteAdapter) refreshToken(ctx context.Context) (shelf.Token, error) {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	if !a.token.Expired(a.clock.Now(), a.opts.TokenSkew) {
		return a.token, nil
	}

	tok, err := a.tokens.Token(ctx)
	if err != nil {
		return shelf.Token{}, fmt.Errorf("refreshing token: %w", err)
	}
	a.svc.Authorize(tok)
	a.token = tok
	a.logger.Debug("token refreshed", "expires", tok.Expiry)
	return tok, nil
}

// call refreshes the token if needed, then runs fn under the request
// timeout. Failures other than not-found become NetworkErrors.
func (a *RemoteAdapter) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if _, err := a.refreshToken(ctx); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	err := fn(cctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, shelf.ErrNotFound), errors.Is(err, shelf.ErrNotConnected):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return &shelf.NetworkError{Op: op, Err: err}
}

func (a *RemoteAdapter) listAll(ctx context.Context, folderID string, onPage func(files []shelf.RemoteFile)) error {
	pageToken := ""
	for {
		var page *shelf.FilePage
		err := a.call(ctx, "list files", func(ctx context.Context) error {
			var err error
			page, err = a.svc.ListFiles(ctx, folderID, pageToken)
			return err
		})
		if err != nil {
			return err
		}
		onPage(page.Files)
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

type fetchResult struct {
	file    shelf.RemoteFile
	content []byte
	err     error
}

// LoadItems lists every page of the folder, serves unchanged files from the
// cache, fetches the rest in concurrent batches and evicts cache entries for
// files that no longer exist.
func (a *RemoteAdapter) LoadItems(ctx context.Context, progress shelf.ProgressFunc) (*shelf.LoadResult, error) {
	folderID, err := a.requireFolder()
	if err != nil {
		return nil, err
	}

	var p shelf.Progress
	report := func(update func(*shelf.Progress)) {
		update(&p)
		progress.Report(p)
		p.Err = nil
	}

	var files []shelf.RemoteFile
	err = a.listAll(ctx, folderID, func(page []shelf.RemoteFile) {
		for _, f := range page {
			if shelf.IsItemDocument(f.Name) {
				files = append(files, f)
			}
		}
		report(func(p *shelf.Progress) { p.Total = len(files) })
	})
	if err != nil {
		return nil, err
	}

	cached := make(map[string]*shelf.CacheEntry)
	entries, err := a.cache.Iterate(ctx, folderID)
	if err != nil {
		a.logger.Warn("cache unreadable, loading everything", "error", err)
	}
	for _, e := range entries {
		cached[e.FileID] = e
	}

	res := &shelf.LoadResult{}
	seen := make(map[string]bool, len(files))
	var stale []shelf.RemoteFile
	for _, f := range files {
		seen[f.ID] = true
		if e := cached[f.ID]; e != nil && e.ChangeToken == f.ChangeToken && e.Item != nil {
			item := e.Item.Clone()
			item.Filename = f.Name
			item.ID = model.IDFromFilename(f.Name)
			res.Items = append(res.Items, item)
			report(func(p *shelf.Progress) { p.Processed++ })
			continue
		}
		stale = append(stale, f)
	}

	var failed []fetchResult
	for start := 0; start < len(stale); start += a.opts.BatchSize {
		batch := stale[start:min(start+a.opts.BatchSize, len(stale))]
		for _, r := range a.fetchBatch(ctx, batch) {
			if r.err != nil {
				failed = append(failed, r)
				continue
			}
			res.Items = append(res.Items, a.remember(ctx, folderID, r.file, r.content))
			report(func(p *shelf.Progress) { p.Processed++ })
		}
	}

	// each failed fetch gets one individual retry
	for _, r := range failed {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		content, err := a.fetch(ctx, r.file)
		if err != nil {
			ie := &shelf.ItemError{Op: "load", Name: r.file.Name, Err: err}
			res.Failures = append(res.Failures, ie)
			report(func(p *shelf.Progress) {
				p.Processed++
				p.Failed++
				p.Err = ie
			})
			continue
		}
		res.Items = append(res.Items, a.remember(ctx, folderID, r.file, content))
		report(func(p *shelf.Progress) { p.Processed++ })
	}

	for id, e := range cached {
		if seen[id] {
			continue
		}
		if err := a.cache.Delete(ctx, folderID, id); err != nil {
			a.logger.Warn("evicting cache entry", "filename", e.Filename, "error", err)
		}
	}

	shelf.SortItems(res.Items)
	a.logger.Debug("remote library loaded",
		"items", len(res.Items), "fetched", len(stale), "failed", len(res.Failures))
	return res, nil
}

// fetchBatch downloads files concurrently and waits for all of them.
func (a *RemoteAdapter) fetchBatch(ctx context.Context, batch []shelf.RemoteFile) []fetchResult {
	results := make([]fetchResult, len(batch))
	var wg sync.WaitGroup
	for i, f := range batch {
		wg.Add(1)
		go func(i int, f shelf.RemoteFile) {
			defer wg.Done()
			content, err := a.fetch(ctx, f)
			results[i] = fetchResult{file: f, content: content, err: err}
		}(i, f)
	}
	wg.Wait()
	return results
}

func (a *RemoteAdapter) fetch(ctx context.Context, f shelf.RemoteFile) ([]byte, error) {
	var content []byte
	err := a.call(ctx, "download "+f.Name, func(ctx context.Context) error {
		var err error
		content, err = a.svc.GetFile(ctx, f.ID)
		return err
	})
	return content, err
}

// remember decodes content, records it in the cache and returns the item.
// Cache failures are logged, not returned: the next load simply fetches
// again.
func (a *RemoteAdapter) remember(ctx context.Context, folderID string, f shelf.RemoteFile, content []byte) *model.Item {
	item := document.DecodeItem(f.Name, string(content))
	err := a.cache.Put(ctx, &shelf.CacheEntry{
		FolderID:    folderID,
		FileID:      f.ID,
		Filename:    f.Name,
		ChangeToken: f.ChangeToken,
		Content:     content,
		Item:        item,
	})
	if err != nil {
		a.logger.Warn("caching remote file", "filename", f.Name, "error", err)
	}
	return item
}

func (a *RemoteAdapter) SaveItem(ctx context.Context, item *model.Item) error {
	folderID, err := a.requireFolder()
	if err != nil {
		return err
	}
	_, err = a.put(ctx, folderID, item.Filename, []byte(document.Encode(item)))
	return err
}

// put uploads a file and, for item documents, refreshes its cache entry
// with the item decoded from the uploaded bytes.
func (a *RemoteAdapter) put(ctx context.Context, folderID, name string, content []byte) (*shelf.RemoteFile, error) {
	var rf *shelf.RemoteFile
	err := a.call(ctx, "upload "+name, func(ctx context.Context) error {
		var err error
		rf, err = a.svc.PutFile(ctx, folderID, name, content)
		return err
	})
	if err != nil {
		return nil, err
	}
	if folderID == a.folder() && shelf.IsItemDocument(name) {
		a.remember(ctx, folderID, *rf, content)
	}
	return rf, nil
}

// verifyCopy reads a stored copy back and compares it with content.
func (a *RemoteAdapter) verifyCopy(ctx context.Context, copied *shelf.RemoteFile, content []byte) error {
	stored, err := a.fetch(ctx, *copied)
	if err != nil {
		return fmt.Errorf("reading back %s: %w", copied.Name, err)
	}
	if !bytes.Equal(stored, content) {
		return fmt.Errorf("copy of %s does not match the original", copied.Name)
	}
	return nil
}

func (a *RemoteAdapter) find(ctx context.Context, folderID, name string) (*shelf.RemoteFile, error) {
	var rf *shelf.RemoteFile
	err := a.call(ctx, "find "+name, func(ctx context.Context) error {
		var err error
		rf, err = a.svc.FindFile(ctx, folderID, name)
		return err
	})
	return rf, err
}

func (a *RemoteAdapter) remove(ctx context.Context, f *shelf.RemoteFile) error {
	return a.call(ctx, "delete "+f.Name, func(ctx context.Context) error {
		return a.svc.DeleteFile(ctx, f.ID)
	})
}

func (a *RemoteAdapter) existsIn(ctx context.Context, folderID string) shelf.ExistsFunc {
	return func(name string) (bool, error) {
		_, err := a.find(ctx, folderID, name)
		if errors.Is(err, shelf.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
}

// trashFolder returns the trash sub-folder, creating it on first use.
func (a *RemoteAdapter) trashFolder(ctx context.Context) (string, error) {
	folderID, err := a.requireFolder()
	if err != nil {
		return "", err
	}
	a.mu.RLock()
	trashID := a.trashID
	a.mu.RUnlock()
	if trashID != "" {
		return trashID, nil
	}

	var found bool
	err = a.call(ctx, "find trash", func(ctx context.Context) error {
		var err error
		trashID, found, err = a.svc.FindFolder(ctx, folderID, shelf.TrashContainer)
		return err
	})
	if err != nil {
		return "", err
	}
	if !found {
		err = a.call(ctx, "create trash", func(ctx context.Context) error {
			var err error
			trashID, err = a.svc.CreateFolder(ctx, folderID, shelf.TrashContainer)
			return err
		})
		if err != nil {
			return "", err
		}
	}

	a.mu.Lock()
	a.trashID = trashID
	a.mu.Unlock()
	return trashID, nil
}

// DeleteItem copies the document into the trash folder and removes the
// original only once the copy is stored.
func (a *RemoteAdapter) DeleteItem(ctx context.Context, filename string) (shelf.UndoRecord, error) {
	folderID, err := a.requireFolder()
	if err != nil {
		return shelf.UndoRecord{}, err
	}
	src, err := a.find(ctx, folderID, filename)
	if err != nil {
		return shelf.UndoRecord{}, err
	}
	content, err := a.fetch(ctx, *src)
	if err != nil {
		return shelf.UndoRecord{}, err
	}

	trashID, err := a.trashFolder(ctx)
	if err != nil {
		return shelf.UndoRecord{}, err
	}
	trashName, err := shelf.TrashFileName(filename, a.clock.Now(), a.existsIn(ctx, trashID))
	if err != nil {
		return shelf.UndoRecord{}, fmt.Errorf("choosing trash name: %w", err)
	}
	copied, err := a.put(ctx, trashID, trashName, content)
	if err != nil {
		return shelf.UndoRecord{}, fmt.Errorf("copying to trash: %w", err)
	}
	if err := a.verifyCopy(ctx, copied, content); err != nil {
		a.rollback(ctx, copied)
		return shelf.UndoRecord{}, fmt.Errorf("copying to trash: %w", err)
	}

	if err := a.remove(ctx, src); err != nil {
		a.rollback(ctx, copied)
		return shelf.UndoRecord{}, err
	}
	if err := a.cache.Delete(ctx, folderID, src.ID); err != nil {
		a.logger.Warn("evicting cache entry", "filename", filename, "error", err)
	}
	return shelf.UndoRecord{SourceName: filename, TrashName: trashName}, nil
}

// RestoreItem copies a trashed document back into the library folder and
// then removes it from the trash.
func (a *RemoteAdapter) RestoreItem(ctx context.Context, rec shelf.UndoRecord) (string, error) {
	folderID, err := a.requireFolder()
	if err != nil {
		return "", err
	}
	trashID, err := a.trashFolder(ctx)
	if err != nil {
		return "", err
	}
	src, err := a.find(ctx, trashID, rec.TrashName)
	if err != nil {
		if errors.Is(err, shelf.ErrNotFound) {
			return "", fmt.Errorf("trash entry %s: %w", rec.TrashName, err)
		}
		return "", err
	}
	content, err := a.fetch(ctx, *src)
	if err != nil {
		return "", err
	}

	name, err := shelf.RestoredFileName(rec.SourceName, a.clock.Now(), a.existsIn(ctx, folderID))
	if err != nil {
		return "", fmt.Errorf("choosing restore name: %w", err)
	}
	restored, err := a.put(ctx, folderID, name, content)
	if err != nil {
		return "", fmt.Errorf("copying from trash: %w", err)
	}
	if err := a.verifyCopy(ctx, restored, content); err != nil {
		a.discard(ctx, folderID, restored)
		return "", fmt.Errorf("copying from trash: %w", err)
	}

	if err := a.remove(ctx, src); err != nil {
		a.discard(ctx, folderID, restored)
		return "", err
	}
	return name, nil
}

// discard rolls back a restored copy and drops its cache entry.
func (a *RemoteAdapter) discard(ctx context.Context, folderID string, restored *shelf.RemoteFile) {
	a.rollback(ctx, restored)
	if err := a.cache.Delete(ctx, folderID, restored.ID); err != nil {
		a.logger.Warn("evicting cache entry", "filename", restored.Name, "error", err)
	}
}

// rollback deletes a copy made by a move that could not complete.
func (a *RemoteAdapter) rollback(ctx context.Context, copied *shelf.RemoteFile) {
	if err := a.remove(ctx, copied); err != nil {
		a.logger.Error("rolling back partial move", "filename", copied.Name, "error", err)
	}
}

func (a *RemoteAdapter) ListTrash(ctx context.Context) ([]string, error) {
	trashID, err := a.trashFolder(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	err = a.listAll(ctx, trashID, func(files []shelf.RemoteFile) {
		for _, f := range files {
			names = append(names, f.Name)
		}
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// ReadFile serves the cached content when the remote change token still
// matches.
func (a *RemoteAdapter) ReadFile(ctx context.Context, name string) ([]byte, error) {
	folderID, err := a.requireFolder()
	if err != nil {
		return nil, err
	}
	rf, err := a.find(ctx, folderID, name)
	if err != nil {
		return nil, err
	}
	if shelf.IsItemDocument(name) {
		if e, err := a.cache.Get(ctx, folderID, rf.ID); err == nil && e != nil && e.ChangeToken == rf.ChangeToken {
			return e.Content, nil
		}
	}

	content, err := a.fetch(ctx, *rf)
	if err != nil {
		return nil, err
	}
	if shelf.IsItemDocument(name) {
		a.remember(ctx, folderID, *rf, content)
	}
	return content, nil
}

func (a *RemoteAdapter) WriteFile(ctx context.Context, name string, content []byte) error {
	folderID, err := a.requireFolder()
	if err != nil {
		return err
	}
	_, err = a.put(ctx, folderID, name, content)
	return err
}

func (a *RemoteAdapter) FileExists(ctx context.Context, name string) (bool, error) {
	folderID, err := a.requireFolder()
	if err != nil {
		return false, err
	}
	return a.existsIn(ctx, folderID)(name)
}

// ClearCache drops every cached entry for the library folder. The next
// load fetches everything.
func (a *RemoteAdapter) ClearCache(ctx context.Context) error {
	folderID, err := a.requireFolder()
	if err != nil {
		return err
	}
	return a.cache.Clear(ctx, folderID)
}
