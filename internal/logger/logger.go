// Package logger builds the process-wide slog logger: a console handler,
// optionally teed into a size-rotated JSON log file.
package logger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	fileBufferSize = 8192
	fileFlushEvery = 3 * time.Second
	fileBackups    = 5
)

// Logger wraps slog.Logger and owns the file handler's closer.
type Logger struct {
	*slog.Logger
	fileCloser io.Closer
}

// Config selects the console level and the optional log file.
type Config struct {
	// Level is "debug", "info", "warn" or "error".
	Level string
	// FilePath enables the JSON file handler when non-empty.
	FilePath string
	// FileMaxSize is the rotation threshold in bytes (0 = no rotation).
	FileMaxSize int64
}

// ParseLevel converts a config string to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates the process logger: a text handler on stderr, plus a JSON file
// handler when a file path is configured.
func New(cfg Config) (*Logger, error) {
	level := ParseLevel(cfg.Level)
	console := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	if cfg.FilePath == "" {
		return &Logger{Logger: slog.New(console)}, nil
	}

	writer, err := openLogFile(cfg.FilePath, cfg.FileMaxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	file := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})

	return &Logger{
		Logger:     slog.New(&teeHandler{console: console, file: file}),
		fileCloser: writer,
	}, nil
}

// Close flushes and closes the file handler.
func (l *Logger) Close() error {
	if l.fileCloser != nil {
		return l.fileCloser.Close()
	}
	return nil
}

// teeHandler duplicates each record to the console and file handlers. Both
// branches are built once in New and never mutated afterwards.
type teeHandler struct {
	console slog.Handler
	file    slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.console.Enabled(ctx, level) || h.file.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if h.console.Enabled(ctx, r.Level) {
		if err := h.console.Handle(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	if h.file.Enabled(ctx, r.Level) {
		if err := h.file.Handle(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("tee handler errors: %v", errs)
	}
	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{console: h.console.WithAttrs(attrs), file: h.file.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{console: h.console.WithGroup(name), file: h.file.WithGroup(name)}
}

// openLogFile rotates the file when it has outgrown maxSize, then opens it
// for appending behind a periodically flushed buffer.
func openLogFile(path string, maxSize int64) (*bufferedWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if maxSize > 0 {
		if err := rotateIfNeeded(path, maxSize); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return newBufferedWriter(file), nil
}

// rotateIfNeeded shifts bot.log -> bot.log.1 -> ... keeping fileBackups
// rotations, dropping the oldest.
func rotateIfNeeded(path string, maxSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() < maxSize {
		return nil
	}
	for i := fileBackups - 1; i >= 1; i-- {
		old := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(old); err == nil {
			os.Rename(old, fmt.Sprintf("%s.%d", path, i+1))
		}
	}
	return os.Rename(path, path+".1")
}

// bufferedWriter batches file writes and flushes on a timer. The buffer
// trades a bounded data-loss window (one flush interval) for not syncing the
// file on every record.
type bufferedWriter struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	ticker *time.Ticker
	done   chan struct{}
}

func newBufferedWriter(file *os.File) *bufferedWriter {
	bw := &bufferedWriter{
		file:   file,
		buf:    bufio.NewWriterSize(file, fileBufferSize),
		ticker: time.NewTicker(fileFlushEvery),
		done:   make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-bw.ticker.C:
				bw.flush()
			case <-bw.done:
				return
			}
		}
	}()
	return bw
}

func (bw *bufferedWriter) Write(p []byte) (int, error) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return bw.buf.Write(p)
}

func (bw *bufferedWriter) flush() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if err := bw.buf.Flush(); err != nil {
		return err
	}
	return bw.file.Sync()
}

func (bw *bufferedWriter) Close() error {
	bw.ticker.Stop()
	close(bw.done)
	bw.flush()
	return bw.file.Close()
}
