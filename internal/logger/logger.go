// Package logger builds the zerolog logger shared by the server and CLI.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Options controls the logger. The zero value logs info and above as JSON to
// stderr.
type Options struct {
	Level  string
	Pretty bool
	Writer io.Writer
}

// New builds a timestamped logger from o. An unknown level is an error.
func New(o Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if o.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(o.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parsing log level %q: %w", o.Level, err)
		}
		level = l
	}

	w := o.Writer
	if w == nil {
		w = os.Stderr
	}
	if o.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
