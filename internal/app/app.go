package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"shelf-go/internal/backend"
	"shelf-go/internal/cache"
	"shelf-go/internal/config"
	"shelf-go/internal/model"
	"shelf-go/internal/settings"
	"shelf-go/internal/shelf"
	"shelf-go/internal/watch"
)

// Options controls how a ShelfApp is built.
type Options struct {
	// ConfigPath is where Select remembers the chosen storage. Empty
	// disables persisting.
	ConfigPath string

	// Operation and Parameters identify the CLI command being run.
	Operation  string
	Parameters string

	Picker  shelf.DirectoryPicker
	Verbose bool
}

// ShelfApp is the application layer between the CLI and the storage facade.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw names, and releases the cache and log file on Close.
type ShelfApp struct {
	cfg     *config.Config
	cfgPath string
	cache   *cache.SQLiteStore
	factory *backend.Factory
	storage *shelf.Storage
	logger  shelf.Logger
	clock   shelf.Clock
	op      *Operation
	logFile *os.File
}

// NewShelfApp creates a fully wired ShelfApp and reconnects the configured
// backend if it was granted before. The caller must call Close when done.
func NewShelfApp(ctx context.Context, cfg *config.Config, opts Options) (*ShelfApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clock := shelf.RealClock{}
	op := NewOperation(opts.Operation, opts.Parameters, clock.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, op.ID, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	store, err := openCache(ctx, cfg.Cache, logger, clock)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	codec, err := newSettingsCodec(cfg.Settings)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, err
	}

	factory := backend.NewFactory(cfg.Storage, opts.Picker, store, logger, clock, shelf.UUIDGenerator{})
	a := &ShelfApp{
		cfg:     cfg,
		cfgPath: opts.ConfigPath,
		cache:   store,
		factory: factory,
		storage: shelf.NewStorage(factory, codec, logger, clock),
		logger:  logger,
		clock:   clock,
		op:      op,
		logFile: logFile,
	}

	if err := a.storage.Initialize(ctx, shelf.BackendKind(cfg.Storage.Type)); err != nil {
		a.Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	logger.Debug("operation started", "operation", op.Name, "parameters", op.Parameters)
	return a, nil
}

func openCache(ctx context.Context, cfg config.CacheConfig, logger shelf.Logger, clock shelf.Clock) (*cache.SQLiteStore, error) {
	path := cfg.Path
	if cfg.Type == "memory" {
		path = cache.MemoryPath
	}
	store, err := cache.Open(ctx, path, logger, clock)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return store, nil
}

// newSettingsCodec seals API keys when the configured identity exists.
func newSettingsCodec(cfg config.SettingsConfig) (*settings.Codec, error) {
	if cfg.IdentityPath == "" {
		return settings.NewCodec(nil), nil
	}
	if _, err := os.Stat(cfg.IdentityPath); errors.Is(err, os.ErrNotExist) {
		return settings.NewCodec(nil), nil
	}
	identity, err := settings.LoadIdentity(cfg.IdentityPath)
	if err != nil {
		return nil, fmt.Errorf("loading settings identity: %w", err)
	}
	return settings.NewCodec(identity), nil
}

// Storage exposes the facade for callers that need it directly.
func (a *ShelfApp) Storage() *shelf.Storage {
	return a.storage
}

// Fail records that the operation failed. It is logged on Close.
func (a *ShelfApp) Fail(err error) {
	a.op.Fail(err)
}

func (a *ShelfApp) Info() shelf.StorageInfo {
	return a.storage.StorageInfo()
}

func (a *ShelfApp) Backends() []shelf.BackendKind {
	return a.storage.AvailableBackends()
}

// Select switches to kind, prompting if needed, and remembers the choice in
// the config file. It returns false if the user cancelled.
func (a *ShelfApp) Select(ctx context.Context, kind shelf.BackendKind) (bool, error) {
	ok, err := a.storage.SelectStorage(ctx, kind)
	if err != nil || !ok {
		return ok, err
	}

	a.cfg.Storage.Type = string(kind)
	if kind == shelf.BackendLocal {
		a.cfg.Storage.Dir = a.storage.StorageInfo().Location
	}
	if a.cfgPath == "" {
		return true, nil
	}
	if err := config.Save(a.cfgPath, a.cfg); err != nil {
		return true, fmt.Errorf("remembering storage: %w", err)
	}
	a.logger.Info("storage selected", "kind", kind, "location", a.storage.StorageInfo().Location)
	return true, nil
}

// List loads the whole library.
func (a *ShelfApp) List(ctx context.Context, progress shelf.ProgressFunc) (*shelf.LoadResult, error) {
	return a.storage.LoadItems(ctx, progress)
}

// Add saves item, assigning a filename if it has none.
func (a *ShelfApp) Add(ctx context.Context, item *model.Item) (*model.Item, error) {
	return a.storage.SaveItem(ctx, item)
}

// Remove moves the named document to the trash. The ".md" extension may be
// omitted.
func (a *ShelfApp) Remove(ctx context.Context, name string) (shelf.UndoRecord, error) {
	return a.storage.DeleteItem(ctx, &model.Item{Filename: documentName(name)})
}

// Undo restores the most recent deletion made by this process.
func (a *ShelfApp) Undo(ctx context.Context) (string, error) {
	return a.storage.Undo(ctx)
}

// Restore brings a trash entry back. as names the document it came from;
// empty uses the trash name.
func (a *ShelfApp) Restore(ctx context.Context, trashName, as string) (string, error) {
	trashName = documentName(trashName)
	source := trashName
	if as != "" {
		source = documentName(as)
	}
	return a.storage.RestoreItem(ctx, shelf.UndoRecord{SourceName: source, TrashName: trashName})
}

func (a *ShelfApp) Trash(ctx context.Context) ([]string, error) {
	return a.storage.ListTrash(ctx)
}

// Cat returns a document's raw content.
func (a *ShelfApp) Cat(ctx context.Context, name string) ([]byte, error) {
	return a.storage.ReadFile(ctx, documentName(name))
}

func documentName(name string) string {
	if strings.HasSuffix(name, model.DocumentExt) || name == shelf.SettingsName {
		return name
	}
	return name + model.DocumentExt
}

// Settings reads settings.json from the active storage.
func (a *ShelfApp) Settings(ctx context.Context) (*settings.Settings, error) {
	return a.storage.LoadSettings(ctx)
}

// SetSetting updates one settings key: theme, cardSize or apiKeys.<name>.
// An empty value removes an API key.
func (a *ShelfApp) SetSetting(ctx context.Context, key, value string) error {
	st, err := a.storage.LoadSettings(ctx)
	if err != nil {
		return err
	}
	switch {
	case key == "theme":
		st.Theme = value
	case key == "cardSize":
		st.CardSize = value
	case strings.HasPrefix(key, "apiKeys."):
		name := strings.TrimPrefix(key, "apiKeys.")
		if name == "" {
			return fmt.Errorf("missing api key name in %q", key)
		}
		if value == "" {
			delete(st.APIKeys, name)
			break
		}
		if st.APIKeys == nil {
			st.APIKeys = make(map[string]string)
		}
		st.APIKeys[name] = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return a.storage.SaveSettings(ctx, st)
}

// CacheStats reports the cached entries for the active remote folder.
func (a *ShelfApp) CacheStats(ctx context.Context) (entries int, bytes int64, err error) {
	info := a.storage.StorageInfo()
	if info.Kind != shelf.BackendRemote || info.FolderID == "" {
		return 0, 0, nil
	}
	return a.cache.Stats(ctx, info.FolderID)
}

// ClearCache drops cached remote files for the active folder, or for every
// folder when all is set.
func (a *ShelfApp) ClearCache(ctx context.Context, all bool) error {
	if all {
		return a.cache.ClearAll(ctx)
	}
	info := a.storage.StorageInfo()
	if info.Kind != shelf.BackendRemote {
		return fmt.Errorf("%s storage has no cache; use --all to clear every folder", info.Kind)
	}
	if info.FolderID == "" {
		return shelf.ErrNotConnected
	}
	return a.cache.Clear(ctx, info.FolderID)
}

// Watch reloads the local library whenever its documents change and passes
// each reload to onChange. It blocks until ctx is done.
func (a *ShelfApp) Watch(ctx context.Context, onChange func(names []string, res *shelf.LoadResult, err error)) error {
	info := a.storage.StorageInfo()
	if info.Kind != shelf.BackendLocal || !info.Connected {
		return fmt.Errorf("watch needs a connected local library")
	}

	w, err := watch.New(info.Location, func(names []string) {
		for _, n := range names {
			if n == shelf.SettingsName {
				if _, err := a.storage.LoadSettings(ctx); err != nil {
					a.logger.Warn("reloading settings", "error", err)
				}
				break
			}
		}
		res, err := a.storage.LoadItems(ctx, nil)
		onChange(names, res, err)
	}, a.logger)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Close()

	<-ctx.Done()
	return nil
}

// Close releases the cache and the log file.
func (a *ShelfApp) Close() error {
	var firstErr error

	if err := a.factory.Close(); err != nil {
		firstErr = fmt.Errorf("closing memory backend: %w", err)
	}
	if err := a.cache.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing cache: %w", err)
	}

	a.logger.Debug("operation finished",
		"operation", a.op.Name, "status", a.op.Status, "elapsed", a.op.Elapsed(a.clock.Now()))
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
