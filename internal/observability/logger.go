package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps slog with a rotating file handler plus stderr mirroring.
type Logger struct {
	slog *slog.Logger
}

func NewLogger(logPath, logLevel string, maxSizeMB, maxBackups int) *Logger {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}

	rotating := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}

	handler := slog.NewTextHandler(io.MultiWriter(rotating, os.Stderr), &slog.HandlerOptions{
		Level: parseLevel(logLevel),
	})

	return &Logger{slog: slog.New(handler)}
}

// NewNopLogger discards all output. Used in tests.
func NewNopLogger() *Logger {
	handler := slog.NewTextHandler(io.Discard, nil)
	return &Logger{slog: slog.New(handler)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *Logger) Debug(msg string, fields ...any) {
	l.slog.Debug(msg, fields...)
}

func (l *Logger) Info(msg string, fields ...any) {
	l.slog.Info(msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...any) {
	l.slog.Warn(msg, fields...)
}

func (l *Logger) Error(msg string, fields ...any) {
	l.slog.Error(msg, fields...)
}
