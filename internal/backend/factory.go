package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"shelf-go/internal/cache"
	"shelf-go/internal/cloud"
	"shelf-go/internal/config"
	"shelf-go/internal/shelf"
)

// memoryTokenTTL is how long tokens for the memory backend stay valid.
const memoryTokenTTL = time.Hour

// Factory builds adapters from the storage section of the config.
type Factory struct {
	cfg    config.StorageConfig
	picker shelf.DirectoryPicker
	cache  shelf.CacheStore // remote file cache; nil disables caching
	logger shelf.Logger
	clock  shelf.Clock
	idgen  shelf.IDGenerator

	mu       sync.Mutex
	memSvc   *cloud.MemoryService // shared by every memory adapter for the process
	memCache *cache.SQLiteStore
}

var _ shelf.AdapterFactory = (*Factory)(nil)

// NewFactory creates a Factory. store backs the remote backend; it is not
// closed by the factory.
func NewFactory(cfg config.StorageConfig, picker shelf.DirectoryPicker, store shelf.CacheStore, logger shelf.Logger, clock shelf.Clock, idgen shelf.IDGenerator) *Factory {
	return &Factory{
		cfg:    cfg,
		picker: picker,
		cache:  store,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
	}
}

// Available lists local and memory always, and remote once a bucket is
// configured.
func (f *Factory) Available() []shelf.BackendKind {
	kinds := []shelf.BackendKind{shelf.BackendLocal}
	if f.cfg.RemoteConfigured() {
		kinds = append(kinds, shelf.BackendRemote)
	}
	return append(kinds, shelf.BackendMemory)
}

func (f *Factory) New(kind shelf.BackendKind) (shelf.Adapter, error) {
	switch kind {
	case shelf.BackendLocal:
		return NewLocalAdapter(f.cfg.Dir, f.picker, f.logger, f.clock), nil
	case shelf.BackendRemote:
		return f.newRemote(context.Background())
	case shelf.BackendMemory:
		return f.newMemory(context.Background())
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", kind)
	}
}

func (f *Factory) remoteOptions(location string) (RemoteOptions, error) {
	timeout, err := f.cfg.Timeout()
	if err != nil {
		return RemoteOptions{}, err
	}
	return RemoteOptions{
		Folder:    f.cfg.Folder,
		BatchSize: f.cfg.BatchSize,
		Timeout:   timeout,
		Location:  location,
	}, nil
}

func (f *Factory) newRemote(ctx context.Context) (*RemoteAdapter, error) {
	if !f.cfg.RemoteConfigured() {
		return nil, fmt.Errorf("remote storage requires s3_bucket to be set")
	}
	svc, err := cloud.NewS3Service(ctx, cloud.S3Options{
		Bucket:   f.cfg.S3Bucket,
		Region:   f.cfg.S3Region,
		Endpoint: f.cfg.S3Endpoint,
		Prefix:   f.cfg.S3Prefix,
		PageSize: int32(f.cfg.PageSize),
	}, f.clock)
	if err != nil {
		return nil, fmt.Errorf("creating s3 service: %w", err)
	}

	var tokens shelf.TokenSource
	if f.cfg.AccessKeyID != "" {
		tokens = cloud.NewStaticTokenSource(f.cfg.AccessKeyID, f.cfg.SecretAccessKey)
	} else {
		tokens, err = cloud.NewDefaultTokenSource(ctx, f.cfg.S3Region)
		if err != nil {
			return nil, err
		}
	}

	opts, err := f.remoteOptions(s3Location(f.cfg.S3Bucket, f.cfg.S3Prefix))
	if err != nil {
		return nil, err
	}
	store := f.cache
	if store == nil {
		store = noCache{}
	}
	return NewRemoteAdapter(shelf.BackendRemote, svc, tokens, store, opts, f.logger, f.clock), nil
}

// newMemory builds a remote adapter over the process-wide in-memory
// service, so switching away and back keeps the library.
func (f *Factory) newMemory(ctx context.Context) (*RemoteAdapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memSvc == nil {
		store, err := cache.Open(ctx, cache.MemoryPath, f.logger, f.clock)
		if err != nil {
			return nil, fmt.Errorf("opening memory cache: %w", err)
		}
		f.memCache = store
		f.memSvc = cloud.NewMemoryService(f.cfg.PageSize, f.idgen, f.clock)
	}
	opts, err := f.remoteOptions("memory://" + folderName(f.cfg.Folder))
	if err != nil {
		return nil, err
	}
	tokens := cloud.NewIssuingTokenSource(f.clock, memoryTokenTTL)
	return NewRemoteAdapter(shelf.BackendMemory, f.memSvc, tokens, f.memCache, opts, f.logger, f.clock), nil
}

// Close releases the memory backend's cache.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memCache == nil {
		return nil
	}
	err := f.memCache.Close()
	f.memCache = nil
	f.memSvc = nil
	return err
}

func folderName(name string) string {
	if name == "" {
		return DefaultFolder
	}
	return name
}

func s3Location(bucket, prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "s3://" + bucket
	}
	return "s3://" + bucket + "/" + prefix
}

// noCache is a CacheStore that remembers nothing.
type noCache struct{}

func (noCache) Get(context.Context, string, string) (*shelf.CacheEntry, error) { return nil, nil }
func (noCache) Put(context.Context, *shelf.CacheEntry) error                    { return nil }
func (noCache) Delete(context.Context, string, string) error                    { return nil }
func (noCache) Clear(context.Context, string) error                             { return nil }
func (noCache) Iterate(context.Context, string) ([]*shelf.CacheEntry, error)    { return nil, nil }
func (noCache) Close() error                                                    { return nil }
