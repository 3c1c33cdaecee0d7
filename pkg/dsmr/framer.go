package dsmr

import (
	"fmt"
	"strings"
)

type framerState int

const (
	awaitingStart framerState = iota
	inBody
	done
)

type frameEvent int

const (
	frameSkipped frameEvent = iota // line dropped: blank, or noise before the start marker
	frameStarted                   // '/' header line buffered
	frameData                      // body line buffered, ready for classification
	frameEnded                     // '!' end marker reached, telegram complete
)

// framer accumulates the lines of one telegram between the '/' start marker
// and the '!' end marker, reconstructing the exact byte sequence the
// trailing checksum covers: all buffered lines plus a synthetic bare '!',
// joined with CRLF.
type framer struct {
	state    framerState
	lines    []string
	declared string // hex digits following '!' on the end-marker line
}

// feed consumes one trimmed line and reports what became of it. Blank lines
// are never buffered, in any state.
func (f *framer) feed(line string) frameEvent {
	if line == "" {
		return frameSkipped
	}

	switch f.state {
	case awaitingStart:
		if !strings.HasPrefix(line, "/") {
			return frameSkipped
		}
		f.lines = append(f.lines, line)
		f.state = inBody
		return frameStarted

	case inBody:
		if strings.HasPrefix(line, "!") {
			f.declared = line[1:]
			f.lines = append(f.lines, "!")
			f.state = done
			return frameEnded
		}
		f.lines = append(f.lines, line)
		return frameData
	}

	return frameSkipped
}

// checksumData returns the byte sequence the telegram checksum covers. Only
// valid once the framer is done.
func (f *framer) checksumData() []byte {
	return []byte(strings.Join(f.lines, "\r\n"))
}

// report compares the checksum computed over the completed telegram with the
// value the meter declared after the end marker.
func (f *framer) report() ChecksumReport {
	return ChecksumReport{
		Computed: Checksum(f.checksumData()),
		Declared: f.declared,
	}
}

// ChecksumReport pairs the checksum computed over a telegram with the hex
// text the meter put after the '!' end marker.
type ChecksumReport struct {
	Computed uint16
	Declared string
}

// OK reports whether the declared value matches the computed checksum.
func (r ChecksumReport) OK() bool {
	return strings.EqualFold(r.Declared, fmt.Sprintf("%04X", r.Computed))
}
