// Package logging builds the root logger for the p1collector binaries.
// Components derive their own loggers from it with
// .With().Str("component", ...).Logger().
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the root logger for a binary.
func New(app string, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("app", app).
		Logger()
}
