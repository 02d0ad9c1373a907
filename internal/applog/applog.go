// Package applog sets up the process-wide structured logger (§10.1): a
// pretty terminal handler when stderr is a TTY, a plain text handler
// otherwise, with verbosity controlled by the driver's -v/-q flags.
package applog

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// New builds a logger writing to w at the given level. verbose sets Debug,
// quiet sets Warn; neither set defaults to Info.
func New(w io.Writer, verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	}

	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// Default builds the standard stderr logger for the driver (§10.1).
func Default(verbose, quiet bool) *slog.Logger {
	return New(os.Stderr, verbose, quiet)
}
