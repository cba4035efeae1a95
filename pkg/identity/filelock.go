package identity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// FileLocker implements the single-writer lock with an advisory lock file per dataset. The lock
// lives as long as the holder keeps it; ttl is ignored.
type FileLocker struct {
	dir string
}

// NewFileLocker creates a locker that keeps lock files in dir
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{dir: dir}
}

// Acquire takes the lock without waiting. ErrLockHeld is returned when another process, or
// another holder in this process, owns it.
func (l *FileLocker) Acquire(_ context.Context, key string, _ time.Duration) (Unlocker, error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(l.dir, lockFileName(key)))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &fileLock{lock: lock}, nil
}

type fileLock struct {
	lock *flock.Flock
}

func (f *fileLock) Release(_ context.Context) error {
	return f.lock.Unlock()
}

func lockFileName(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, key)
	return "sage-" + safe + ".lock"
}
