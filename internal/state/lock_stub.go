//go:build !linux

package state

import "os"

// RunLock is a no-op on non-Linux platforms, which only run the test
// suite, never a live firewall.
type RunLock struct {
	file *os.File
}

func AcquireRunLock(path string) (*RunLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &RunLock{file: f}, nil
}

func (l *RunLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
