package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates nested directories", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "nested", "dir", "test.log")

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		if _, err := os.Stat(logPath); os.IsNotExist(err) {
			t.Errorf("log file was not created at %s", logPath)
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "test.log")
		if err := os.WriteFile(logPath, []byte("initial content\n"), 0o644); err != nil {
			t.Fatalf("failed to write initial content: %v", err)
		}

		rw, err := NewRotatingWriter(logPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		if got := rw.Size(); got != int64(len("initial content\n")) {
			t.Errorf("Size() = %d, want existing size", got)
		}
		if _, err := rw.Write([]byte("appended content\n")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		_ = rw.Close()

		content, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		if !strings.Contains(string(content), "initial content") || !strings.Contains(string(content), "appended content") {
			t.Errorf("unexpected content: %q", content)
		}
	})
}

func TestRotatingWriter_Rotate(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concord.log")
	rw, err := newRotatingWriter(logPath, 20, 2)
	if err != nil {
		t.Fatalf("newRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()

	lines := []string{"first line 0123456\n", "second line 01234\n", "third line 012345\n", "fourth line 01234\n"}
	for _, line := range lines {
		if _, err := rw.Write([]byte(line)); err != nil {
			t.Fatalf("Write(%q) failed: %v", line, err)
		}
	}

	tests := []struct {
		path string
		want string
	}{
		{logPath, lines[3]},
		{logPath + ".1", lines[2]},
		{logPath + ".2", lines[1]},
	}
	for _, tt := range tests {
		content, err := os.ReadFile(tt.path)
		if err != nil {
			t.Fatalf("ReadFile(%s) failed: %v", tt.path, err)
		}
		if string(content) != tt.want {
			t.Errorf("%s = %q, want %q", filepath.Base(tt.path), content, tt.want)
		}
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("expected oldest backup beyond MaxBackups to be removed")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), "x.log"), RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
	if _, err := rw.Write([]byte("late")); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Write after Close = %v, want ErrWriterClosed", err)
	}
}

func TestRotatingWriter_NoBackups(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concord.log")
	rw, err := newRotatingWriter(logPath, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rw.Close() }()

	for _, line := range []string{"round 1 ok\n", "round 2 ok\n"} {
		if _, err := rw.Write([]byte(line)); err != nil {
			t.Fatal(err)
		}
	}

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "round 2 ok\n" {
		t.Errorf("content = %q, want only the latest line", content)
	}
	if _, err := os.Stat(logPath + ".1"); !os.IsNotExist(err) {
		t.Error("backup created with MaxBackups 0")
	}
}
