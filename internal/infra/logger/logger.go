package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"conductor/internal/infra/config"
)

// New builds the process logger from config. The closer flushes and
// closes a file target; for stdout/stderr it is a no-op. Decision
// subsystems get their own child logger via Component, so one engine
// run can be filtered per concern.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	writer, closer, err := target(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("log target %q: %w", cfg.Output, err)
	}

	opts := &slog.HandlerOptions{Level: level(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler), closer, nil
}

// Component scopes a logger to one engine subsystem (catalog, pipeline,
// retry, ...). Every record it emits carries the component key.
func Component(parent *slog.Logger, name string) *slog.Logger {
	return parent.With("component", name)
}

func level(s string) slog.Level {
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

// target resolves the output name to a writer. Anything that is not a
// standard stream is treated as a file path and opened for append.
func target(output string) (io.Writer, func() error, error) {
	keep := func() error { return nil }
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, keep, nil
	case "stderr", "":
		return os.Stderr, keep, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
