package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Discover walks from startDir up to the filesystem root and returns the
// first file called name.
func Discover(startDir, name string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", startDir, err)
	}

	for {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no %s in %s or any parent directory", ErrNotFound, name, startDir)
		}
		dir = parent
	}
}

// UnlockFunc releases a manifest lock.
type UnlockFunc func() error

// Lock takes an advisory lock next to the manifest so that two syncs of the
// same wiki never run at once. It fails immediately when the lock is held.
func Lock(manifestPath string) (UnlockFunc, error) {
	fl := flock.New(manifestPath + ".lock")

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, ErrLocked
	}

	return func() error {
		if err := fl.Unlock(); err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		return os.Remove(fl.Path())
	}, nil
}
