package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// RunLock guards a job so only one instance runs per host
type RunLock struct {
	lockFile *flock.Flock
	lockPath string
}

// NewRunLock creates a lock at lockPath. An empty path uses <tmp>/socialbackend/<name>.lock
func NewRunLock(name, lockPath string) (*RunLock, error) {
	if lockPath == "" {
		lockDir := filepath.Join(os.TempDir(), "socialbackend")
		if err := os.MkdirAll(lockDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory: %w", err)
		}
		lockPath = filepath.Join(lockDir, fmt.Sprintf("%s.lock", name))
	}

	return &RunLock{
		lockFile: flock.New(lockPath),
		lockPath: lockPath,
	}, nil
}

// TryLock returns an error when the lock is already held
func (l *RunLock) TryLock() error {
	locked, err := l.lockFile.TryLock()
	if err != nil {
		return fmt.Errorf("failed to try lock: %w", err)
	}

	if !locked {
		return fmt.Errorf("another instance is already running (lock: %s)", l.lockPath)
	}

	return nil
}

// Unlock releases the lock and removes the lock file
func (l *RunLock) Unlock() error {
	if l.lockFile == nil {
		return nil
	}

	if err := l.lockFile.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}

	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	return nil
}

func (l *RunLock) Path() string {
	return l.lockPath
}
