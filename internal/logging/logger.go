package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds a zerolog logger. format is "json" or "console"; an
// unparseable level falls back to info. A nil w writes to stderr so stdout
// stays clean for piped output.
func NewLogger(level, format string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
