// Package dsmr decodes DSMR P1 telegrams: the ASCII frames a smart meter
// pushes out its serial port every few seconds, each one consolidated into a
// single reading. Framing, checksum verification, OBIS classification, value
// extraction and per-channel de-duplication all live here; transports and
// sinks are the caller's business.
package dsmr

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrStaleTelegram means the electricity timestamp did not advance past
	// the watermark; the telegram is a repeat and was discarded whole.
	ErrStaleTelegram = errors.New("stale telegram")

	// ErrNoTimestamp means a completed telegram carried no electricity
	// timestamp line, so the reading cannot be anchored in time.
	ErrNoTimestamp = errors.New("telegram has no electricity timestamp")

	// ErrChecksumMismatch rejects a telegram whose computed checksum does
	// not match the declared one. Only returned in strict mode.
	ErrChecksumMismatch = errors.New("telegram checksum mismatch")
)

// LineSource supplies trimmed telegram lines one at a time. ReadLine blocks
// until a line is available or the transport gives up; a mid-telegram error
// must be distinguishable from normal line flow (there is no in-band end of
// stream in P1, the meter just keeps sending).
type LineSource interface {
	ReadLine() (string, error)
}

// Decoder assembles Readings from raw telegram lines.
type Decoder struct {
	loc    *time.Location
	strict bool
	log    zerolog.Logger
}

// NewDecoder returns a Decoder interpreting meter wall-clock timestamps in
// loc. With strict set, telegrams failing the checksum are rejected instead
// of logged.
func NewDecoder(loc *time.Location, strict bool, logger zerolog.Logger) *Decoder {
	return &Decoder{
		loc:    loc,
		strict: strict,
		log:    logger.With().Str("component", "dsmr").Logger(),
	}
}

// pass is the mutable state of one decode pass.
type pass struct {
	fields   map[string]any
	tariff   *int
	elecTime time.Time
	gasTime  time.Time
	stale    bool
}

// Decode reads exactly one telegram from src and assembles a Reading. marks
// decides staleness per channel and is never mutated; the returned
// Watermarks carry any advance. On ErrStaleTelegram the source is still
// drained to the end marker so the next pass starts on a frame boundary.
func (d *Decoder) Decode(src LineSource, marks Watermarks) (*Reading, Watermarks, error) {
	var f framer
	p := pass{fields: make(map[string]any)}

	for f.state != done {
		line, err := src.ReadLine()
		if err != nil {
			if f.state == inBody {
				return nil, marks, fmt.Errorf("telegram interrupted after %d lines: %w", len(f.lines), err)
			}
			return nil, marks, fmt.Errorf("waiting for telegram: %w", err)
		}

		switch f.feed(line) {
		case frameSkipped:
			if line != "" && f.state == awaitingStart {
				d.log.Warn().Str("line", line).Msg("ignoring line while waiting for start marker")
			}
		case frameData:
			if p.stale {
				continue // draining the wire to the end marker
			}
			d.decodeLine(line, marks, &p)
		}
	}

	rep := f.report()
	if !rep.OK() {
		if d.strict {
			return nil, marks, fmt.Errorf("%w: computed %04X, declared %q",
				ErrChecksumMismatch, rep.Computed, rep.Declared)
		}
		d.log.Warn().
			Str("computed", fmt.Sprintf("%04X", rep.Computed)).
			Str("declared", rep.Declared).
			Msg("telegram checksum mismatch")
	}
	d.log.Debug().
		Str("checksum", fmt.Sprintf("%04X", rep.Computed)).
		Int("lines", len(f.lines)).
		Msg("end of telegram")

	if p.stale {
		return nil, marks, ErrStaleTelegram
	}
	if p.elecTime.IsZero() {
		return nil, marks, ErrNoTimestamp
	}

	next := Watermarks{Electricity: p.elecTime, Gas: marks.Gas}
	if !p.gasTime.IsZero() {
		next.Gas = p.gasTime
	}
	return &Reading{Time: p.elecTime, Fields: p.fields, Tariff: p.tariff}, next, nil
}

func (d *Decoder) decodeLine(line string, marks Watermarks, p *pass) {
	code, rest, ok := SplitLine(line)
	if !ok {
		d.log.Warn().Str("line", line).Msg("no obis code in line")
		return
	}

	entry, known := Lookup(code)
	if !known {
		d.log.Warn().Stringer("code", code).Str("line", line).Msg("unimplemented obis code")
		return
	}
	if entry.Kind == KindIgnored {
		return
	}

	value, ok := ExtractValue(rest)
	if !ok {
		d.log.Warn().Stringer("code", code).Str("line", line).Msg("no value in line")
		return
	}

	switch entry.Kind {
	case KindTimestamp:
		ts, err := parseMeterTime(value.Primary, d.loc)
		if err != nil {
			d.log.Warn().Err(err).Str("line", line).Msg("bad electricity timestamp")
			return
		}
		if !marks.Electricity.IsZero() && !ts.After(marks.Electricity) {
			d.log.Info().
				Time("timestamp", ts).
				Time("watermark", marks.Electricity).
				Msg("repeated electricity timestamp, discarding telegram")
			p.stale = true
			return
		}
		p.elecTime = ts

	case KindEnergy, KindCurrent:
		if math.IsNaN(value.Primary) {
			d.log.Warn().Str("line", line).Msg("field value missing")
			return
		}
		p.fields[entry.Name] = value.Primary

	case KindTariff:
		if math.IsNaN(value.Primary) {
			d.log.Warn().Str("line", line).Msg("tariff value missing")
			return
		}
		t := int(value.Primary)
		p.tariff = &t

	case KindPower:
		if math.IsNaN(value.Primary) {
			d.log.Warn().Str("line", line).Msg("field value missing")
			return
		}
		p.fields[entry.Name] = 1000 * value.Primary // kW on the wire, W in the sink

	case KindGasVolume:
		ts, err := parseMeterTime(value.Primary, d.loc)
		if err != nil {
			d.log.Warn().Err(err).Str("line", line).Msg("bad gas timestamp")
			return
		}
		if !marks.Gas.IsZero() && !ts.After(marks.Gas) {
			// Repeated gas capture; the rest of the telegram stays valid.
			return
		}
		if math.IsNaN(value.Extra) {
			d.log.Warn().Str("line", line).Msg("gas volume missing")
			return
		}
		p.fields[FieldGas] = value.Extra
		p.fields[FieldGasTime] = ts.Format(GasTimeFormat)
		p.gasTime = ts
	}
}
