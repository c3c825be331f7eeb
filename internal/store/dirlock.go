package store

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	noterr "github.com/davidzhangbj/smart-notes/internal/errors"
)

// DirLock guards a data directory against concurrent server processes. The
// search indexes live in process memory, so a second process writing the
// same database would silently diverge from the first one's indexes.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock for the given data directory. The lock file is
// created at <dir>/.smartnotes.lock.
func NewDirLock(dir string) *DirLock {
	lockPath := filepath.Join(dir, ".smartnotes.lock")
	return &DirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock attempts to acquire the lock without blocking. A held lock means
// another process is serving this data directory.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return noterr.Wrapf(noterr.ErrCodeDatabase, err, "create lock directory: %v", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return noterr.Wrapf(noterr.ErrCodeDatabase, err, "acquire data directory lock: %v", err)
	}
	if !acquired {
		return noterr.Newf(noterr.ErrCodeDatabase, "data directory %s is in use by another process", filepath.Dir(l.path)).
			WithSuggestion("stop the other smartnotes process or point this one at a different data directory")
	}

	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call on an unlocked DirLock.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	return l.flock.Unlock()
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}
