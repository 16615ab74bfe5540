package main

import (
	"log/slog"
	"os"
)

// loggerBox carries the *slog.Logger built once in the root command's
// PersistentPreRunE out to subcommands constructed before flags are
// parsed, without resorting to a package-global logger (spec §7
// "threaded through components via the standard *slog.Logger value, not
// a global").
type loggerBox struct {
	log *slog.Logger
}

// newLogger builds the process-wide structured logger (spec §7), using
// log/slog directly: cmd/hector/logger.go wraps a now-deleted
// pkg/logger package, but the CLI-flag-priority idiom it establishes
// (--debug overrides a quieter default) carries over unchanged.
func newLogger(flags *globalFlags) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case flags.debug:
		level = slog.LevelDebug
	case flags.quiet:
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
