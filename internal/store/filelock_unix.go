//go:build unix

package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileLock holds an advisory POSIX lock on a sidecar ".lock" file for the
// duration of one write or read-modify-write cycle.
type fileLock struct {
	f *os.File
}

// acquireFileLock takes an exclusive flock(2) on path+".lock", creating the
// lock file if needed. It blocks until the lock is available.
func acquireFileLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: flock: %w", err)
	}
	return &fileLock{f: f}, nil
}

// release drops the flock and closes the lock file descriptor.
func (l *fileLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	_ = l.f.Close()
}
