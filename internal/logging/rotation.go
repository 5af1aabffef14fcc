package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const megabyte = 1 << 20

// ErrWriterClosed is returned by Write after Close.
var ErrWriterClosed = errors.New("logging: writer closed")

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the size at which the file is rotated. Zero disables
	// rotation.
	MaxSizeMB int
	// MaxBackups is how many rotated files are kept.
	MaxBackups int
}

// DefaultRotationConfig returns the rotation policy used by NewLogger.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

// RotatingWriter appends to a file and rotates it once it outgrows a size
// limit. Backups are named <file>.1 (newest) through <file>.N.
type RotatingWriter struct {
	path  string
	limit int64
	keep  int

	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	return newRotatingWriter(path, int64(cfg.MaxSizeMB)*megabyte, cfg.MaxBackups)
}

func newRotatingWriter(path string, limit int64, keep int) (*RotatingWriter, error) {
	w := &RotatingWriter{path: path, limit: limit, keep: keep}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return errors.Join(fmt.Errorf("failed to stat log file: %w", err), f.Close())
	}
	w.f, w.size = f, info.Size()
	return nil
}

// Write appends p, rotating first when p would push the file past the
// limit. A single record is never split across files.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return 0, ErrWriterClosed
	}
	if w.limit > 0 && w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil && w.f == nil {
			return 0, err
		}
	}

	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

// rotate shifts <file>.i to <file>.i+1, drops the oldest and reopens a
// fresh file. Callers hold mu.
func (w *RotatingWriter) rotate() error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.f = nil

	var shiftErr error
	if w.keep > 0 {
		_ = os.Remove(w.backup(w.keep))
		for i := w.keep - 1; i > 0; i-- {
			if err := os.Rename(w.backup(i), w.backup(i+1)); err != nil && !os.IsNotExist(err) {
				shiftErr = err
			}
		}
		if err := os.Rename(w.path, w.backup(1)); err != nil {
			shiftErr = err
		}
	} else {
		_ = os.Remove(w.path)
	}

	if err := w.open(); err != nil {
		return err
	}
	if shiftErr != nil {
		return fmt.Errorf("failed to shift log backups: %w", shiftErr)
	}
	return nil
}

func (w *RotatingWriter) backup(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

// Close flushes and closes the file. Later calls are no-ops.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	return errors.Join(f.Sync(), f.Close())
}

// Size returns the size of the active file in bytes.
func (w *RotatingWriter) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}
