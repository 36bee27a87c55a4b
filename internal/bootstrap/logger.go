package bootstrap

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger builds the process logger. An empty format means text in dev
// and json everywhere else.
func NewLogger(w io.Writer, env, format, level string) *slog.Logger {
	if format == "" {
		format = "json"
		if strings.EqualFold(env, "dev") {
			format = "text"
		}
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
