package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"shelf-go/internal/document"
	"shelf-go/internal/model"
	"shelf-go/internal/shelf"
)

// LocalAdapter stores the library as files in a user-chosen directory:
//
//	<root>/
//	  <slug>-<epoch-ms>.md   (item documents)
//	  settings.json
//	  .trash/                (soft-deleted documents)
type LocalAdapter struct {
	picker shelf.DirectoryPicker
	logger shelf.Logger
	clock  shelf.Clock

	mu         sync.RWMutex
	remembered string // directory granted in an earlier session
	root       string // active directory; empty while disconnected
}

var _ shelf.Adapter = (*LocalAdapter)(nil)

// NewLocalAdapter creates a disconnected adapter. dir is the previously
// granted directory, if any, used by Reconnect.
func NewLocalAdapter(dir string, picker shelf.DirectoryPicker, logger shelf.Logger, clock shelf.Clock) *LocalAdapter {
	return &LocalAdapter{
		picker:     picker,
		logger:     logger,
		clock:      clock,
		remembered: dir,
	}
}

func (a *LocalAdapter) Kind() shelf.BackendKind { return shelf.BackendLocal }

// Select asks the picker for a directory and checks it is readable and
// writable before granting it.
func (a *LocalAdapter) Select(ctx context.Context) error {
	if a.picker == nil {
		return fmt.Errorf("no directory picker available")
	}
	dir, err := a.picker.PickDirectory(ctx)
	if err != nil {
		return err
	}
	return a.grant(dir)
}

// Reconnect re-grants the remembered directory without prompting.
func (a *LocalAdapter) Reconnect(ctx context.Context) error {
	a.mu.RLock()
	dir := a.remembered
	a.mu.RUnlock()
	if dir == "" {
		return shelf.ErrNotConnected
	}
	if err := a.grant(dir); err != nil {
		return fmt.Errorf("%w: %v", shelf.ErrNotConnected, err)
	}
	return nil
}

func (a *LocalAdapter) grant(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", dir, err)
	}
	if err := checkAccess(abs); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.root = abs
	a.remembered = abs
	a.logger.Debug("directory granted", "dir", abs)
	return nil
}

// checkAccess verifies dir is a directory we can create files in.
func checkAccess(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("library directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("library path is not a directory: %s", dir)
	}
	probe, err := os.CreateTemp(dir, ".tmp-probe-*")
	if err != nil {
		return fmt.Errorf("library directory not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}

func (a *LocalAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.root = ""
	return nil
}

// IsConnected also confirms the directory still exists, so a removed or
// unmounted library reads as disconnected before any I/O is attempted.
func (a *LocalAdapter) IsConnected() bool {
	root := a.dir()
	if root == "" {
		return false
	}
	info, err := os.Stat(root)
	return err == nil && info.IsDir()
}

func (a *LocalAdapter) Info() shelf.StorageInfo {
	a.mu.RLock()
	loc := a.root
	if loc == "" {
		loc = a.remembered
	}
	a.mu.RUnlock()
	return shelf.StorageInfo{Kind: shelf.BackendLocal, Location: loc, Connected: a.IsConnected()}
}

// Dir returns the active library directory, or "" while disconnected.
func (a *LocalAdapter) Dir() string {
	return a.dir()
}

func (a *LocalAdapter) dir() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.root
}

func (a *LocalAdapter) paths() (root, trash string, err error) {
	root = a.dir()
	if root == "" {
		return "", "", shelf.ErrNotConnected
	}
	return root, filepath.Join(root, shelf.TrashContainer), nil
}

func (a *LocalAdapter) LoadItems(ctx context.Context, progress shelf.ProgressFunc) (*shelf.LoadResult, error) {
	root, _, err := a.paths()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading library directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && shelf.IsItemDocument(e.Name()) {
			names = append(names, e.Name())
		}
	}

	res := &shelf.LoadResult{Items: make([]*model.Item, 0, len(names))}
	p := shelf.Progress{Total: len(names)}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(root, name))
		p.Processed++
		if err != nil {
			ie := &shelf.ItemError{Op: "load", Name: name, Err: err}
			res.Failures = append(res.Failures, ie)
			p.Failed++
			p.Err = ie
			progress.Report(p)
			p.Err = nil
			continue
		}
		res.Items = append(res.Items, document.DecodeItem(name, string(data)))
		progress.Report(p)
	}

	shelf.SortItems(res.Items)
	a.logger.Debug("library loaded", "dir", root, "items", len(res.Items), "failed", len(res.Failures))
	return res, nil
}

func (a *LocalAdapter) SaveItem(ctx context.Context, item *model.Item) error {
	return a.WriteFile(ctx, item.Filename, []byte(document.Encode(item)))
}

// DeleteItem copies the document into the trash, confirms the copy, and
// only then removes the original.
func (a *LocalAdapter) DeleteItem(ctx context.Context, filename string) (shelf.UndoRecord, error) {
	root, trash, err := a.paths()
	if err != nil {
		return shelf.UndoRecord{}, err
	}
	src := filepath.Join(root, filename)
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return shelf.UndoRecord{}, shelf.ErrNotFound
		}
		return shelf.UndoRecord{}, fmt.Errorf("reading %s: %w", filename, err)
	}

	if err := os.MkdirAll(trash, 0755); err != nil {
		return shelf.UndoRecord{}, fmt.Errorf("creating trash directory: %w", err)
	}
	trashName, err := shelf.TrashFileName(filename, a.clock.Now(), existsIn(trash))
	if err != nil {
		return shelf.UndoRecord{}, fmt.Errorf("choosing trash name: %w", err)
	}
	dst := filepath.Join(trash, trashName)
	if err := copyVerified(dst, data); err != nil {
		return shelf.UndoRecord{}, fmt.Errorf("copying to trash: %w", err)
	}

	if err := os.Remove(src); err != nil {
		// keep exactly one copy
		os.Remove(dst)
		return shelf.UndoRecord{}, fmt.Errorf("removing %s: %w", filename, err)
	}
	return shelf.UndoRecord{SourceName: filename, TrashName: trashName}, nil
}

// RestoreItem copies the trashed document back under its original name, or
// a -restored- name if that is taken, then removes the trash copy.
func (a *LocalAdapter) RestoreItem(ctx context.Context, rec shelf.UndoRecord) (string, error) {
	root, trash, err := a.paths()
	if err != nil {
		return "", err
	}
	src := filepath.Join(trash, rec.TrashName)
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("trash entry %s: %w", rec.TrashName, shelf.ErrNotFound)
		}
		return "", fmt.Errorf("reading trash entry %s: %w", rec.TrashName, err)
	}

	name, err := shelf.RestoredFileName(rec.SourceName, a.clock.Now(), existsIn(root))
	if err != nil {
		return "", fmt.Errorf("choosing restore name: %w", err)
	}
	dst := filepath.Join(root, name)
	if err := copyVerified(dst, data); err != nil {
		return "", fmt.Errorf("copying from trash: %w", err)
	}

	if err := os.Remove(src); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("removing trash entry %s: %w", rec.TrashName, err)
	}
	return name, nil
}

func (a *LocalAdapter) ListTrash(ctx context.Context) ([]string, error) {
	_, trash, err := a.paths()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(trash)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading trash directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (a *LocalAdapter) ReadFile(ctx context.Context, name string) ([]byte, error) {
	root, _, err := a.paths()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, shelf.ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

func (a *LocalAdapter) WriteFile(ctx context.Context, name string, content []byte) error {
	root, _, err := a.paths()
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(root, name), content)
}

func (a *LocalAdapter) FileExists(ctx context.Context, name string) (bool, error) {
	root, _, err := a.paths()
	if err != nil {
		return false, err
	}
	return exists(filepath.Join(root, name))
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func existsIn(dir string) shelf.ExistsFunc {
	return func(name string) (bool, error) {
		return exists(filepath.Join(dir, name))
	}
}

// writeAtomic writes data to a temp file in the destination directory,
// syncs it and renames it into place.
func writeAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	success = true
	return nil
}

// copyVerified writes data to dest and reads it back, so the caller only
// removes the source once an identical copy is durable.
func copyVerified(dest string, data []byte) error {
	if err := writeAtomic(dest, data); err != nil {
		return err
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		return fmt.Errorf("verifying copy: %w", err)
	}
	if !bytes.Equal(got, data) {
		os.Remove(dest)
		return fmt.Errorf("verifying copy: content mismatch")
	}
	return nil
}
