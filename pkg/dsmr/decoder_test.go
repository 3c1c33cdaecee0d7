package dsmr

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// sliceSource feeds canned lines and then fails with err (io.EOF when unset),
// so a test overrunning its telegram blows up instead of hanging.
type sliceSource struct {
	lines []string
	err   error
}

func (s *sliceSource) ReadLine() (string, error) {
	if len(s.lines) == 0 {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

// telegram frames body lines with a meter header and a valid checksum
// trailer, computed the same way the meter does.
func telegram(body ...string) []string {
	lines := append([]string{"/KFM5KAIFA-METER"}, body...)
	data := strings.Join(lines, "\r\n") + "\r\n!"
	return append(lines, fmt.Sprintf("!%04X", Checksum([]byte(data))))
}

// testBody is the single-phase + gas profile a real meter emits, with the
// two channel timestamps injectable per test.
func testBody(elecTS, gasTS string) []string {
	return []string{
		"1-3:0.2.8(42)",
		"0-0:1.0.0(" + elecTS + ")",
		"0-0:96.1.1(4530303033303031)",
		"1-0:1.8.1(004179.863*kWh)",
		"1-0:1.8.2(004331.321*kWh)",
		"1-0:2.8.1(000000.000*kWh)",
		"1-0:2.8.2(000000.000*kWh)",
		"0-0:96.14.0(0002)",
		"1-0:21.7.0(00.424*kW)",
		"1-0:22.7.0(00.000*kW)",
		"1-0:31.7.0(002*A)",
		"0-0:96.7.21(00004)",
		"0-0:96.7.9(00002)",
		"1-0:99.97.0(2)(0-0:96.7.19)(101208152415W)(0000000240*s)(101208151004W)(0000000301*s)",
		"1-0:32.32.0(00000)",
		"1-0:32.36.0(00000)",
		"0-0:96.13.1()",
		"0-0:96.13.0()",
		"0-1:24.1.0(003)",
		"0-1:96.1.0(4730303131303033)",
		"0-1:24.2.1(" + gasTS + ")(00123.456*m3)",
	}
}

func testDecoder(t *testing.T, strict bool) *Decoder {
	t.Helper()
	return NewDecoder(amsterdam(t), strict, zerolog.Nop())
}

func TestDecodeTelegram(t *testing.T) {
	d := testDecoder(t, false)
	src := &sliceSource{lines: telegram(testBody("221226120100W", "221226120000W")...)}

	reading, marks, err := d.Decode(src, Watermarks{})
	require.NoError(t, err)
	require.NotNil(t, reading)

	wantElec := time.Date(2022, 12, 26, 11, 1, 0, 0, time.UTC)
	wantGas := time.Date(2022, 12, 26, 11, 0, 0, 0, time.UTC)
	require.True(t, reading.Time.Equal(wantElec), "reading time %v", reading.Time)
	require.True(t, marks.Electricity.Equal(wantElec), "electricity watermark %v", marks.Electricity)
	require.True(t, marks.Gas.Equal(wantGas), "gas watermark %v", marks.Gas)

	require.NotNil(t, reading.Tariff)
	require.Equal(t, 2, *reading.Tariff)

	require.Len(t, reading.Fields, 6)
	require.Equal(t, 4179.863, reading.Fields[FieldEnergyT1])
	require.Equal(t, 4331.321, reading.Fields[FieldEnergyT2])
	require.InDelta(t, 424.0, reading.Fields[FieldPowerDelivered], 1e-9)
	require.Equal(t, 2.0, reading.Fields[FieldCurrent])
	require.Equal(t, 123.456, reading.Fields[FieldGas])
	require.Equal(t, "2022-12-26T11:00:00Z", reading.Fields[FieldGasTime])

	// The tariff indicator travels as a tag, never as a field.
	require.NotContains(t, reading.Fields, FieldTariff)
}

func TestDecodeAdvancingWatermarks(t *testing.T) {
	d := testDecoder(t, false)

	r1, marks, err := d.Decode(
		&sliceSource{lines: telegram(testBody("221226120100W", "221226120000W")...)},
		Watermarks{},
	)
	require.NoError(t, err)
	require.NotNil(t, r1)

	r2, marks2, err := d.Decode(
		&sliceSource{lines: telegram(testBody("221226120110W", "221226130000W")...)},
		marks,
	)
	require.NoError(t, err)
	require.NotNil(t, r2)
	require.True(t, marks2.Electricity.After(marks.Electricity))
	require.True(t, marks2.Gas.After(marks.Gas))
}

func TestDecodeStaleElectricity(t *testing.T) {
	d := testDecoder(t, false)

	_, marks, err := d.Decode(
		&sliceSource{lines: telegram(testBody("221226120100W", "221226120000W")...)},
		Watermarks{},
	)
	require.NoError(t, err)

	for name, elecTS := range map[string]string{
		"repeated": "221226120100W",
		"older":    "221226115900W",
	} {
		t.Run(name, func(t *testing.T) {
			src := &sliceSource{lines: telegram(testBody(elecTS, "221226130000W")...)}
			reading, after, err := d.Decode(src, marks)
			require.ErrorIs(t, err, ErrStaleTelegram)
			require.Nil(t, reading)
			require.Equal(t, marks, after)
			// The wire is still drained to the end marker.
			require.Empty(t, src.lines)
		})
	}
}

func TestDecodeStaleGas(t *testing.T) {
	d := testDecoder(t, false)

	_, marks, err := d.Decode(
		&sliceSource{lines: telegram(testBody("221226120100W", "221226120000W")...)},
		Watermarks{},
	)
	require.NoError(t, err)

	// Fresh electricity, repeated gas capture.
	reading, after, err := d.Decode(
		&sliceSource{lines: telegram(testBody("221226120200W", "221226120000W")...)},
		marks,
	)
	require.NoError(t, err)
	require.NotNil(t, reading)
	require.NotContains(t, reading.Fields, FieldGas)
	require.NotContains(t, reading.Fields, FieldGasTime)
	require.True(t, after.Gas.Equal(marks.Gas), "gas watermark must not move")
	require.True(t, after.Electricity.After(marks.Electricity))
}

func TestDecodeIgnoredCodesSilent(t *testing.T) {
	var buf bytes.Buffer
	d := NewDecoder(amsterdam(t), false, zerolog.New(&buf))

	body := []string{
		"0-0:1.0.0(221226120100W)",
		"1-3:0.2.8(42)",
		"1-0:99.97.0(2)(0-0:96.7.19)(101208152415W)(0000000240*s)(101208151004W)(0000000301*s)",
		"0-0:96.13.0()",
	}
	reading, _, err := d.Decode(&sliceSource{lines: telegram(body...)}, Watermarks{})
	require.NoError(t, err)
	require.Empty(t, reading.Fields)

	require.NotContains(t, buf.String(), "unimplemented obis code")
	require.NotContains(t, buf.String(), "no obis code")
}

func TestDecodeUnknownCodeLogged(t *testing.T) {
	var buf bytes.Buffer
	d := NewDecoder(amsterdam(t), false, zerolog.New(&buf))

	body := []string{
		"0-0:1.0.0(221226120100W)",
		"1-0:77.7.7(000123)",
	}
	reading, _, err := d.Decode(&sliceSource{lines: telegram(body...)}, Watermarks{})
	require.NoError(t, err)
	require.Empty(t, reading.Fields)
	require.Contains(t, buf.String(), "unimplemented obis code")
}

func TestDecodeNoTimestamp(t *testing.T) {
	d := testDecoder(t, false)

	body := []string{"1-0:1.8.1(004179.863*kWh)"}
	reading, marks, err := d.Decode(&sliceSource{lines: telegram(body...)}, Watermarks{})
	require.ErrorIs(t, err, ErrNoTimestamp)
	require.Nil(t, reading)
	require.Equal(t, Watermarks{}, marks)
}

func TestDecodeChecksumMismatch(t *testing.T) {
	corrupt := func() []string {
		lines := telegram(testBody("221226120100W", "221226120000W")...)
		last := lines[len(lines)-1]
		if last[1] == 'A' {
			last = "!B" + last[2:]
		} else {
			last = "!A" + last[2:]
		}
		lines[len(lines)-1] = last
		return lines
	}

	t.Run("strict rejects", func(t *testing.T) {
		d := testDecoder(t, true)
		reading, marks, err := d.Decode(&sliceSource{lines: corrupt()}, Watermarks{})
		require.ErrorIs(t, err, ErrChecksumMismatch)
		require.Nil(t, reading)
		require.Equal(t, Watermarks{}, marks)
	})

	t.Run("default logs and accepts", func(t *testing.T) {
		var buf bytes.Buffer
		d := NewDecoder(amsterdam(t), false, zerolog.New(&buf))
		reading, _, err := d.Decode(&sliceSource{lines: corrupt()}, Watermarks{})
		require.NoError(t, err)
		require.NotNil(t, reading)
		require.Contains(t, buf.String(), "checksum mismatch")
	})
}

func TestDecodeInterrupted(t *testing.T) {
	errTimeout := errors.New("read timed out")
	d := testDecoder(t, false)

	t.Run("mid telegram", func(t *testing.T) {
		full := telegram(testBody("221226120100W", "221226120000W")...)
		src := &sliceSource{lines: full[:5], err: errTimeout}
		reading, _, err := d.Decode(src, Watermarks{})
		require.ErrorIs(t, err, errTimeout)
		require.ErrorContains(t, err, "interrupted")
		require.Nil(t, reading)
	})

	t.Run("before start marker", func(t *testing.T) {
		src := &sliceSource{err: errTimeout}
		reading, _, err := d.Decode(src, Watermarks{})
		require.ErrorIs(t, err, errTimeout)
		require.ErrorContains(t, err, "waiting for telegram")
		require.Nil(t, reading)
	})
}

func TestDecodeSkipsNoiseBeforeStart(t *testing.T) {
	var buf bytes.Buffer
	d := NewDecoder(amsterdam(t), false, zerolog.New(&buf))

	lines := append([]string{"xj3#", "1-0:1.8.1(999999.999*kWh)", ""},
		telegram("0-0:1.0.0(221226120100W)", "1-0:1.8.1(004179.863*kWh)")...)
	reading, _, err := d.Decode(&sliceSource{lines: lines}, Watermarks{})
	require.NoError(t, err)

	// The energy line before the start marker must not leak into the reading.
	require.Equal(t, 4179.863, reading.Fields[FieldEnergyT1])
	require.Contains(t, buf.String(), "waiting for start marker")
}
