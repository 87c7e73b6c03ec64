//go:build linux

package state

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// RunLock is an exclusive flock preventing two synchronization runs
// from overlapping. Concurrent mutation of the shared rule chain is
// undefined, so overlap is refused rather than queued.
type RunLock struct {
	file *os.File
}

// AcquireRunLock takes the run lock, failing immediately if another
// run holds it.
func AcquireRunLock(path string) (*RunLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("another run is already in progress (lock %s held)", path)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &RunLock{file: f}, nil
}

// Release drops the lock. The lock file is left in place.
func (l *RunLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	defer l.file.Close()
	return unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
}
