// Package logging wires a single stderr-only structured logger, per
// SPEC_FULL.md §9: progress must never touch stdout, which carries the
// remote-helper line protocol.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a zerolog.Logger writing to os.Stderr. verbose lowers the
// minimum level to debug; otherwise info.
func New(verbose bool) zerolog.Logger {
	return NewTo(os.Stderr, verbose)
}

// NewTo is New with an explicit writer, used by tests.
func NewTo(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
