package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// LogFileName is the file created inside the log directory.
const LogFileName = "concord.log"

// Attribute keys shared by every component.
const (
	KeyTask    = "task_id"
	KeyBackend = "backend"
	KeyPhase   = "phase"
	KeyRound   = "round"
)

// Logger is a leveled structured logger. Child loggers created with the
// With* methods share the parent's output. It is safe for concurrent use.
type Logger struct {
	logger *slog.Logger
	out    *output
}

// output owns the underlying file, if any.
type output struct {
	mu     sync.Mutex
	closer io.Closer
}

// NewLogger creates a Logger that writes JSON-formatted logs to
// {dir}/concord.log, rotating with the default RotationConfig.
// If dir is empty, logs are written to stderr.
func NewLogger(dir string, level string) (*Logger, error) {
	return NewRotatingLogger(dir, level, DefaultRotationConfig())
}

// NewRotatingLogger is NewLogger with an explicit rotation policy.
func NewRotatingLogger(dir string, level string, rotation RotationConfig) (*Logger, error) {
	if dir == "" {
		return NewWriterLogger(os.Stderr, level), nil
	}

	rw, err := NewRotatingWriter(filepath.Join(dir, LogFileName), rotation)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWriterLogger(rw, level)
	l.out.closer = rw
	return l, nil
}

// NewWriterLogger creates a Logger writing JSON lines to w.
func NewWriterLogger(w io.Writer, level string) *Logger {
	return newLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slogLevel(level)}))
}

// NewConsoleLogger creates a Logger writing key=value lines to w, for
// terminals where JSON is hard to read.
func NewConsoleLogger(w io.Writer, level string) *Logger {
	return newLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slogLevel(level)}))
}

func newLogger(h slog.Handler) *Logger {
	return &Logger{logger: slog.New(h), out: &output{}}
}

func slogLevel(level string) slog.Level {
	switch ParseLevel(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithSession returns a child Logger tagged with a debate task ID.
func (l *Logger) WithSession(taskID string) *Logger {
	return l.With(KeyTask, taskID)
}

// WithBackend returns a child Logger tagged with a backend name.
func (l *Logger) WithBackend(backend string) *Logger {
	return l.With(KeyBackend, backend)
}

// WithPhase returns a child Logger tagged with an orchestration phase such
// as "analyzing", "comparing" or "debating".
func (l *Logger) WithPhase(phase string) *Logger {
	return l.With(KeyPhase, phase)
}

// WithRound returns a child Logger tagged with a round number.
func (l *Logger) WithRound(n int) *Logger {
	return l.With(KeyRound, n)
}

// With returns a child Logger with alternating key-value attributes.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(args...), out: l.out}
}

// Debug logs a message at DEBUG level with optional key-value pairs.
func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// Info logs a message at INFO level with optional key-value pairs.
func (l *Logger) Info(msg string, args ...any) { l.logger.Info(msg, args...) }

// Warn logs a message at WARN level with optional key-value pairs.
func (l *Logger) Warn(msg string, args ...any) { l.logger.Warn(msg, args...) }

// Error logs a message at ERROR level with optional key-value pairs.
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// Close closes the log file. Loggers without a file treat Close as a
// no-op. Child loggers share the file, so closing any of them closes it
// for all.
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.closer == nil {
		return nil
	}
	err := l.out.closer.Close()
	l.out.closer = nil
	return err
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return newLogger(slog.DiscardHandler)
}

// ParseLevel normalizes a level string. Unknown levels map to LevelInfo.
func ParseLevel(level string) string {
	switch l := strings.ToUpper(strings.TrimSpace(level)); l {
	case LevelDebug, LevelWarn, LevelError:
		return l
	case "WARNING":
		return LevelWarn
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
