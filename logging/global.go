// Package logging wires slog to the console and a rotating JSON file
package logging

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Options configures InitLogger. An empty Dir logs to the console only.
type Options struct {
	Dir            string
	Level          string
	RetentionWeeks int
	MaxFileSize    int64
}

var (
	mu            sync.RWMutex
	defaultLogger *slog.Logger
	logFile       *RotatingFile

	fallbackOnce   sync.Once
	fallbackLogger *slog.Logger
)

// ParseLevel maps debug/info/warn/error to a slog level; anything else is info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// InitLogger installs the global logger. Console output is text, file output JSON.
// If the log file cannot be opened the console logger is still installed and the
// error is returned.
func InitLogger(opts Options) error {
	level := ParseLevel(opts.Level)
	console := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})

	var (
		handler slog.Handler = console
		file    *RotatingFile
		openErr error
	)

	if opts.Dir != "" {
		file, openErr = OpenRotatingFile(opts.Dir, opts.RetentionWeeks, opts.MaxFileSize)
		if openErr == nil {
			handler = &multiHandler{handlers: []slog.Handler{
				console,
				slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}),
			}}
		}
	}

	logger := slog.New(handler)

	mu.Lock()
	previous := logFile
	defaultLogger = logger
	logFile = file
	mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	slog.SetDefault(logger)
	return openErr
}

// Logger returns the global logger, or a stderr logger before InitLogger runs
func Logger() *slog.Logger {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	fallbackOnce.Do(func() {
		fallbackLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	})
	return fallbackLogger
}

// Close flushes and closes the log file. The console logger stays usable.
func Close() error {
	mu.Lock()
	file := logFile
	logFile = nil
	if file != nil {
		defaultLogger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	mu.Unlock()

	if file == nil {
		return nil
	}
	if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }
func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }

// multiHandler fans a record out to every handler that accepts its level
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}
