// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// New returns a text or JSON logger writing to w.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Open resolves a sink: "stderr", "stdout", "discard" or "file:<path>".
// The returned closer is a no-op for the standard streams.
func Open(sink string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch {
	case sink == "" || sink == "stderr":
		return os.Stderr, noop, nil
	case sink == "stdout":
		return os.Stdout, noop, nil
	case sink == "discard":
		return io.Discard, noop, nil
	case strings.HasPrefix(sink, "file:"):
		path := strings.TrimPrefix(sink, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, nil, fmt.Errorf("internal/logging: failed to open log file %s: %w", path, err)
		}
		return f, f.Close, nil
	default:
		return nil, nil, fmt.Errorf("internal/logging: unknown log sink %q", sink)
	}
}
