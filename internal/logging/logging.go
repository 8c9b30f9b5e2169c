// Package logging holds the process-global structured logger. Packages
// that can run without a caller-supplied *slog.Logger fall back to L().
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// L returns the current global logger.
func L() *slog.Logger { return logger.Load() }

// Set replaces the global logger. Nil is ignored.
func Set(l *slog.Logger) {
	if l != nil {
		logger.Store(l)
	}
}

// ParseLevel maps a config word to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level %q (use debug|info|warn|error)", s)
}

// New builds a logger writing to w (stderr when nil) with the given
// handler format, "text" or "json".
func New(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}
