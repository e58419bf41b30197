// Package archivelog provides the module-wide zerolog wiring. Parsers take
// a zerolog.Logger value and the public entry points hand them Nop(), so
// library consumers never see parser log output; the CLI commands
// construct a real one here for their own messages.
package archivelog

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the process-wide logger. It writes a human-readable console
// format when stderr is a terminal, plain JSON otherwise, mirroring the
// convention used across the wider pack (sirrobot01-decypharr's zerolog
// setup). ARCHIVELOG_DEBUG=1 raises the level to Debug, replacing the
// teacher's RARINDEX_DEBUG env-var gate now that zerolog owns filtering.
func New() zerolog.Logger {
	level := zerolog.InfoLevel
	if strings.EqualFold(os.Getenv("ARCHIVELOG_DEBUG"), "1") {
		level = zerolog.DebugLevel
	}

	var out io.Writer = os.Stderr
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Nop returns a disabled logger, the default every parser falls back to
// when called without one.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
