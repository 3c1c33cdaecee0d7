package port_reader

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// New prepares a P1 port reader. Connect opens the device.
func New(device string, baudrate int, readTimeout time.Duration, logger zerolog.Logger) *P1Port {
	return &P1Port{
		device:      device,
		baudrate:    baudrate,
		readTimeout: readTimeout,
		log:         logger.With().Str("component", "port_reader").Logger(),
	}
}

// Connect opens the serial device. The read timeout set here is what turns
// meter silence into ErrReadTimeout later.
func (p *P1Port) Connect() error {
	mode := &serial.Mode{
		BaudRate: p.baudrate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(p.device, mode)
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", p.device, err)
	}
	if err := port.SetReadTimeout(p.readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("set read timeout: %w", err)
	}

	p.port = port
	p.lines = &lineReader{src: port}
	p.log.Info().Str("device", p.device).Int("baudrate", p.baudrate).Msg("connected to p1 port")
	return nil
}

// Close releases the serial device.
func (p *P1Port) Close() {
	if p.port != nil {
		p.port.Close()
		p.port = nil
		p.lines = nil
		p.log.Info().Msg("disconnected from p1 port")
	}
}

// ReadLine returns the next trimmed line from the meter. An expired read
// deadline surfaces as ErrReadTimeout.
func (p *P1Port) ReadLine() (string, error) {
	if p.lines == nil {
		return "", fmt.Errorf("serial port not connected")
	}
	return p.lines.ReadLine()
}

// lineReader splits a raw byte stream into trimmed lines. go.bug.st/serial
// reports an expired read timeout as a zero-length read with no error; that
// becomes ErrReadTimeout here. Bytes of an unfinished line are kept for the
// next call.
type lineReader struct {
	src io.Reader
	buf []byte
}

func (l *lineReader) ReadLine() (string, error) {
	for {
		if i := bytes.IndexByte(l.buf, '\n'); i >= 0 {
			line := strings.TrimSpace(string(l.buf[:i]))
			l.buf = l.buf[i+1:]
			return line, nil
		}

		chunk := make([]byte, 256)
		n, err := l.src.Read(chunk)
		if n > 0 {
			l.buf = append(l.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("read p1 port: %w", err)
		}
		return "", ErrReadTimeout
	}
}
