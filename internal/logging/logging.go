// Package logging provides a structured logger factory for the flagchain
// server.
//
// It configures [log/slog] with a JSON or text handler and a configurable
// minimum level. JSON is the production default; text is easier to read when
// running the CLI by hand.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	FormatJSON = "json"
	FormatText = "text"
)

// New creates a [slog.Logger] that writes to stderr at the given level and
// format. Accepted level strings (case-insensitive): "debug", "info", "warn",
// "error". An empty string defaults to "info"; unknown formats fall back to
// JSON.
func New(level, format string) *slog.Logger {
	return NewWithWriter(level, format, os.Stderr)
}

// NewWithWriter creates a [slog.Logger] writing to w at the given level and
// format.
func NewWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if ParseFormat(format) == FormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel converts a level string to a [slog.Level].
// Returns [slog.LevelInfo] for unrecognised values.
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

// ParseFormat normalizes a handler format name, defaulting to [FormatJSON].
func ParseFormat(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), FormatText) {
		return FormatText
	}
	return FormatJSON
}
