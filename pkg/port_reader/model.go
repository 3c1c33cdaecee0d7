package port_reader

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// ErrReadTimeout is returned when the meter stays silent past the configured
// read deadline. The P1 port has no end-of-stream: a healthy meter pushes a
// telegram every second, so silence is its own condition, never EOF.
var ErrReadTimeout = errors.New("p1 port read timeout")

// P1Port owns the serial device and hands out trimmed telegram lines.
type P1Port struct {
	device      string
	baudrate    int
	readTimeout time.Duration
	log         zerolog.Logger

	port  serial.Port
	lines *lineReader
}
