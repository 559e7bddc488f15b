package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockRetryInterval = 25 * time.Millisecond
	lockWait          = 250 * time.Millisecond
)

// ErrLocked means another process has the cache open.
var ErrLocked = errors.New("cache is in use by another process")

type fileLock struct {
	flock *flock.Flock
}

// acquireLock takes an exclusive lock on path, retrying briefly before
// giving up with ErrLocked.
func acquireLock(ctx context.Context, path string) (*fileLock, error) {
	ctx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()

	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("locking cache: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
	}
	return &fileLock{flock: fl}, nil
}

// release is safe on a nil lock.
func (l *fileLock) release() error {
	if l == nil {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("unlocking cache: %w", err)
	}
	return nil
}
