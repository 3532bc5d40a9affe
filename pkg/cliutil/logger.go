// Package cliutil holds the small pieces of texture shared by all three
// uniscan binaries (master, sender drone, listener drone): logger
// construction and the component-initial+pid prefix spec §7 calls for.
package cliutil

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// NewLogger builds a colored tint handler on a terminal (matching
// controlplane/telemetry/cmd/telemetry-data's newLogger), falling back
// to JSON when stdout isn't a TTY — e.g. piped into a log collector.
// component is one of "M"/"S"/"L" (master/sender/listener, spec §7),
// attached as a structured attribute rather than a raw stderr prefix
// string so it survives either handler.
func NewLogger(component string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("component", component, "pid", os.Getpid())
}
