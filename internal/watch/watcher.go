// Package watch notices edits made to a local library directory by other
// programs so the library can be reloaded.
package watch

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"shelf-go/internal/shelf"
)

// DefaultDebounce is how long the watcher waits after the last change
// before reporting.
const DefaultDebounce = 100 * time.Millisecond

// ChangeFunc receives the sorted names of documents that changed since the
// last call.
type ChangeFunc func(names []string)

// Watcher reports changes to item documents and settings.json directly
// inside a library directory. Hidden entries, which include the trash and
// temp files from atomic writes, are ignored.
type Watcher struct {
	dir      string
	onChange ChangeFunc
	logger   shelf.Logger
	debounce time.Duration

	watcher   *fsnotify.Watcher
	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
}

// New creates a watcher for dir. Nothing is reported until Start.
func New(dir string, onChange ChangeFunc, logger shelf.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	return &Watcher{
		dir:      dir,
		onChange: onChange,
		logger:   logger,
		debounce: DefaultDebounce,
		watcher:  fsw,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		pending:  make(map[string]bool),
	}, nil
}

// SetDebounce changes the debounce interval. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.dir); err != nil {
		w.watcher.Close()
		close(w.doneChan)
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Debug("watching library", "dir", w.dir)
	go w.processEvents()
	return nil
}

// Close stops the watcher. Pending changes are dropped.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.pending = nil
		w.mu.Unlock()

		<-w.doneChan
	})
}

func (w *Watcher) processEvents() {
	defer close(w.doneChan)

	for {
		select {
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if filepath.Dir(event.Name) != filepath.Clean(w.dir) {
		return
	}
	if !shelf.IsItemDocument(name) && name != shelf.SettingsName {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	w.schedule(name)
}

// schedule records name and restarts the debounce timer.
func (w *Watcher) schedule(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return
	}
	w.pending[name] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	names := make([]string, 0, len(w.pending))
	for name := range w.pending {
		names = append(names, name)
	}
	w.pending = make(map[string]bool)
	w.timer = nil
	w.mu.Unlock()

	sort.Strings(names)
	w.logger.Debug("library changed", "files", len(names))
	w.onChange(names)
}
