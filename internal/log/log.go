// Package log is the structured logger used across the server. It wraps
// log/slog, stamps records with trace ids and, above a configurable level,
// with the stack recorded by internal/xerrors.
package log

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string
	Level   slog.Level

	// StacktraceLevel is the lowest level that gets a "stack" attribute,
	// nil means error
	StacktraceLevel slog.Leveler

	JSON bool

	// ErrorLinks > 0 adds up to that many wrap sites from the error chain
	ErrorLinks int

	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
}

// Std adapts l for APIs that want a *log.Logger, such as http.Server.ErrorLog.
// every line is logged at warn
func Std(l Logger, source string) *stdlog.Logger {
	return stdlog.New(stdWriter{l: l.With("logger", source)}, "", 0)
}

type stdWriter struct{ l Logger }

func (w stdWriter) Write(p []byte) (int, error) {
	w.l.Warn(context.Background(), strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
