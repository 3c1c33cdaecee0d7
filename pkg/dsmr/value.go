package dsmr

import (
	"math"
	"regexp"
	"strconv"
)

// Value holds the numeric payload of a data line. A line carries one or two
// parenthesised groups; a slot without a numeric literal is NaN.
type Value struct {
	Primary float64
	Extra   float64
}

// A group opens with a numeric literal and may continue with a unit or DST
// suffix, which is not captured. The second group is optional; several codes
// (gas volume) put a timestamp in the first group and the measurement in the
// second.
var valuePattern = regexp.MustCompile(`\(([\d.]*)[^)]*\)\(?([\d.]+)?`)

// ExtractValue pulls the numeric literals out of the value text that follows
// an OBIS code. ok is false when the text holds no parenthesised group at
// all, or a literal does not parse as a number; either way the line carries
// nothing usable and should be skipped.
func ExtractValue(rest string) (Value, bool) {
	m := valuePattern.FindStringSubmatch(rest)
	if m == nil {
		return Value{}, false
	}

	v := Value{Primary: math.NaN(), Extra: math.NaN()}
	if m[1] != "" {
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Value{}, false
		}
		v.Primary = f
	}
	if m[2] != "" {
		f, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return Value{}, false
		}
		v.Extra = f
	}
	return v, true
}
