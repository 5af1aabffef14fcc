package contextstore

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const lockFileName = ".lock"

// fileLock is an advisory flock(2) lock on a task directory, so two
// processes writing the same task do not interleave renames.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(dir string) *fileLock {
	return &fileLock{path: filepath.Join(dir, lockFileName)}
}

// Lock acquires the exclusive lock, blocking until available. The lock file
// is created if it does not exist.
func (fl *fileLock) Lock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (fl *fileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	closeErr := fl.file.Close()
	fl.file = nil
	if err != nil {
		return fmt.Errorf("unflock: %w", err)
	}
	return closeErr
}
