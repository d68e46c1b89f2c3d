package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTeeHandlerReachesBothBranches(t *testing.T) {
	var console, file bytes.Buffer
	h := &teeHandler{
		console: slog.NewTextHandler(&console, &slog.HandlerOptions{Level: slog.LevelWarn}),
		file:    slog.NewJSONHandler(&file, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	log := slog.New(h)

	log.Debug("quiet")
	log.Warn("loud")

	if strings.Contains(console.String(), "quiet") {
		t.Error("console got a record below its level")
	}
	if !strings.Contains(console.String(), "loud") {
		t.Error("console missed a record at its level")
	}
	for _, msg := range []string{"quiet", "loud"} {
		if !strings.Contains(file.String(), msg) {
			t.Errorf("file handler missed %q", msg)
		}
	}
}

func TestRotateIfNeeded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.log")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 100), 0o644); err != nil {
		t.Fatal(err)
	}

	// Below the threshold nothing moves.
	if err := rotateIfNeeded(path, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Fatal("rotation happened below the size threshold")
	}

	// At the threshold the live file becomes the first backup.
	if err := rotateIfNeeded(path, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("live file should have been rotated away")
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("missing first backup: %v", err)
	}
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	logg, err := New(Config{Level: "debug", FilePath: path})
	if err != nil {
		t.Fatal(err)
	}
	logg.Info("hello", "answer", 42)
	if err := logg.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("file record missing message: %q", data)
	}
}
