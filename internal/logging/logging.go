// Package logging configures the process-wide structured logger. Every
// component error log carries a "component" attribute and, where
// applicable, "correlationId" and "adapterState" — the structured context
// required by spec.md §7.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text-handler slog logger at the given level
// ("debug"/"info"/"warn"/"error") as the process default and returns it.
func Setup(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// For is a convenience constructor for a component-scoped logger, so call
// sites don't repeat slog.String("component", ...) everywhere.
func For(component string) *slog.Logger {
	return slog.Default().With("component", component)
}
