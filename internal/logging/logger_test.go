package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// decodeLines parses JSON log lines from buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewLogger_File(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.WithSession("debate_1").Info("round started", KeyRound, 1)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), `"task_id":"debate_1"`) {
		t.Errorf("log file = %s, want task_id attribute", data)
	}
}

func TestNewLogger_EmptyDirHasNoFile(t *testing.T) {
	logger, err := NewLogger("", LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.out.closer != nil {
		t.Error("stderr logger should own no file")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level string
		want  []string
	}{
		{LevelDebug, []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{LevelInfo, []string{"INFO", "WARN", "ERROR"}},
		{"warning", []string{"WARN", "ERROR"}},
		{LevelError, []string{"ERROR"}},
		{"bogus", []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWriterLogger(&buf, tt.level)
			logger.Debug("d")
			logger.Info("i")
			logger.Warn("w")
			logger.Error("e")

			entries := decodeLines(t, &buf)
			if len(entries) != len(tt.want) {
				t.Fatalf("got %d lines, want %d", len(entries), len(tt.want))
			}
			for i, e := range entries {
				if e["level"] != tt.want[i] {
					t.Errorf("line %d level = %v, want %s", i, e["level"], tt.want[i])
				}
			}
		})
	}
}

func TestLogger_ContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriterLogger(&buf, LevelDebug)

	run := base.WithSession("debate_7").WithPhase("debating")
	run.WithBackend("gemini").WithRound(2).Warn("call failed", "error", "timeout")
	run.Info("round completed")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d lines, want 2", len(entries))
	}

	failed := entries[0]
	for key, want := range map[string]any{
		KeyTask:    "debate_7",
		KeyPhase:   "debating",
		KeyBackend: "gemini",
		KeyRound:   float64(2),
		"error":    "timeout",
	} {
		if failed[key] != want {
			t.Errorf("%s = %v, want %v", key, failed[key], want)
		}
	}

	// The child's backend tag must not leak into its parent.
	if _, ok := entries[1][KeyBackend]; ok {
		t.Errorf("parent line carries backend: %v", entries[1])
	}
	if entries[1][KeyTask] != "debate_7" {
		t.Errorf("parent line lost task_id: %v", entries[1])
	}
}

func TestLogger_WithNoArgsReturnsSame(t *testing.T) {
	logger := NopLogger()
	if logger.With() != logger {
		t.Error("With() without args should return the receiver")
	}
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	NewConsoleLogger(&buf, LevelInfo).WithBackend("gpt").Info("client ready")

	line := buf.String()
	if !strings.Contains(line, "msg=\"client ready\"") || !strings.Contains(line, "backend=gpt") {
		t.Errorf("console line = %q", line)
	}
}

func TestClose_SharedByChildren(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	child := logger.WithPhase("analyzing")

	if err := child.Close(); err != nil {
		t.Fatalf("child Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.WithSession("x").Error("dropped")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warn":    LevelWarn,
		"Warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"trace":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidLevels(t *testing.T) {
	levels := ValidLevels()
	if len(levels) != 4 {
		t.Fatalf("ValidLevels() = %v", levels)
	}
	for _, l := range levels {
		if ParseLevel(l) != l {
			t.Errorf("ParseLevel(%q) does not round-trip", l)
		}
	}
}

func TestConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Go(func() {
			l := logger.WithRound(i)
			for j := range 20 {
				l.Info("analysis stored", "n", j)
			}
		})
	}
	wg.Wait()
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 200 {
		t.Errorf("got %d lines, want 200", len(lines))
	}
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Fatalf("interleaved or corrupt line: %q", line)
		}
	}
}
