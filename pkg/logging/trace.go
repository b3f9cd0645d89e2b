package logging

import (
	"context"
	"log/slog"
)

// EnableTrace turns on per-chunk debug output. Set by the TRACE level.
var EnableTrace = false

// LevelNotice is for user-facing session notices such as the ready banner.
// It sits above ERROR, so no configured level hides it from the console.
const LevelNotice = slog.Level(12)

// Trace logs a message at DEBUG level, but only if EnableTrace is true.
func Trace(logger *slog.Logger, msg string, args ...any) {
	if EnableTrace {
		logger.Debug(msg, args...)
	}
}

// Notice logs msg at LevelNotice.
func Notice(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelNotice, msg, args...)
}

// replaceLevel prints LevelNotice as NOTICE instead of ERROR+4.
func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelNotice {
		a.Value = slog.StringValue("NOTICE")
	}
	return a
}
