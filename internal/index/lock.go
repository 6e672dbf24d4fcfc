package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	rserrors "github.com/reqsift/reqsift/internal/errors"
)

// DataLock guards a data directory against concurrent writer
// processes with a cross-process file lock. The indexer owns write
// access to both indexes; two writer processes on the same directory
// would corrupt them.
type DataLock struct {
	mu     sync.Mutex
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDataLock creates a lock for the given data directory. The lock
// file is created at <dir>/.reqsift.lock.
func NewDataLock(dir string) *DataLock {
	lockPath := filepath.Join(dir, ".reqsift.lock")
	return &DataLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Acquire takes the exclusive lock without blocking. Another process
// holding it fails with IndexLocked so the caller can report which
// directory is contended.
func (l *DataLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire data lock: %w", err)
	}
	if !acquired {
		return rserrors.New(rserrors.ErrCodeIndexLocked,
			fmt.Sprintf("data directory is locked by another process (%s)", l.path), nil)
	}
	l.locked = true
	return nil
}

// Release drops the lock. Safe to call on an unlocked DataLock.
func (l *DataLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.locked {
		return nil
	}
	l.locked = false
	return l.flock.Unlock()
}
