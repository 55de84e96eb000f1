// Package logging configures the process-wide structured logger and hands
// out component-scoped children. Every stage of the pipeline logs through a
// logger obtained from New; nothing calls slog.Default() directly outside
// this package and main.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog default with the given level and format.
// If w is nil, os.Stderr is used. format must be "text" or "json"; any other
// value falls back to text.
func Init(level slog.Level, format string, w ...io.Writer) {
	var writer io.Writer = os.Stderr
	if len(w) > 0 && w[0] != nil {
		writer = w[0]
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a CLI-facing level name to a slog.Level, defaulting to
// Info for anything unrecognized rather than erroring — an unrecognized
// --log-level is a poor reason to fail an otherwise-valid invocation.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// New returns a logger scoped to a pipeline component (e.g. "collector",
// "inference", "executor").
func New(component string) *slog.Logger {
	return slog.Default().With(slog.String("component", component))
}

// WithSession attaches session and run correlation ids to a component
// logger so its log lines can be grepped by either coordinate; an empty id
// is left out.
func WithSession(logger *slog.Logger, sessionID, runID string) *slog.Logger {
	l := logger
	if sessionID != "" {
		l = l.With(slog.String("session_id", sessionID))
	}
	if runID != "" {
		l = l.With(slog.String("run_id", runID))
	}
	return l
}
