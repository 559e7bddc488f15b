package backend_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelf-go/internal/backend"
	"shelf-go/internal/config"
	"shelf-go/internal/model"
	"shelf-go/internal/shelf"
	"shelf-go/internal/testutil"
)

func newFactory(t *testing.T, cfg config.StorageConfig) *backend.Factory {
	t.Helper()
	f := backend.NewFactory(cfg, nil, testutil.NewTestCache(t), shelf.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFactory_Available(t *testing.T) {
	f := newFactory(t, config.StorageConfig{Type: "local"})
	assert.Equal(t, []shelf.BackendKind{shelf.BackendLocal, shelf.BackendMemory}, f.Available())

	f = newFactory(t, config.StorageConfig{Type: "remote", S3Bucket: "library"})
	assert.Equal(t, []shelf.BackendKind{shelf.BackendLocal, shelf.BackendRemote, shelf.BackendMemory}, f.Available())
}

func TestFactory_New(t *testing.T) {
	f := newFactory(t, config.StorageConfig{Type: "local", Dir: "/srv/library"})

	a, err := f.New(shelf.BackendLocal)
	require.NoError(t, err)
	assert.Equal(t, shelf.BackendLocal, a.Kind())
	assert.False(t, a.IsConnected())
	assert.Equal(t, "/srv/library", a.Info().Location)

	_, err = f.New(shelf.BackendRemote)
	assert.Error(t, err, "remote without a bucket")

	_, err = f.New("ftp")
	assert.Error(t, err)
}

func TestFactory_RemoteLocation(t *testing.T) {
	f := newFactory(t, config.StorageConfig{
		Type:            "remote",
		S3Bucket:        "library",
		S3Region:        "us-east-1",
		S3Prefix:        "/alice/",
		AccessKeyID:     "AKID",
		SecretAccessKey: "SECRET",
	})
	a, err := f.New(shelf.BackendRemote)
	require.NoError(t, err)
	assert.Equal(t, shelf.BackendRemote, a.Kind())
	assert.Equal(t, "s3://library/alice", a.Info().Location)
}

func TestFactory_MemoryKeepsLibraryAcrossAdapters(t *testing.T) {
	f := newFactory(t, config.StorageConfig{Type: "memory"})
	ctx := context.Background()

	first, err := f.New(shelf.BackendMemory)
	require.NoError(t, err)
	require.NoError(t, first.Select(ctx))
	require.NoError(t, first.SaveItem(ctx, &model.Item{Filename: "dune-1.md", Title: "Dune", Type: model.TypeBook}))
	require.NoError(t, first.Disconnect(ctx))

	second, err := f.New(shelf.BackendMemory)
	require.NoError(t, err)
	require.NoError(t, second.Reconnect(ctx))
	res, err := second.LoadItems(ctx, nil)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Dune", res.Items[0].Title)
	assert.Equal(t, "memory://shelf", second.Info().Location)
}
