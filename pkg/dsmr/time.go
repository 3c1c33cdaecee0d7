package dsmr

import (
	"fmt"
	"math"
	"time"
)

const (
	// Meter timestamps come as YYMMDDHHMMSS local wall-clock digits.
	wireTimeFormat = "060102150405"
	// GasTimeFormat is how gas capture times are rendered in the sink.
	GasTimeFormat = "2006-01-02T15:04:05Z"
)

// parseMeterTime converts the numeric timestamp payload of a data line to an
// absolute UTC instant, interpreting the digits as wall-clock time in loc
// with that zone's DST rules. The value is padded back to twelve digits
// because the numeric round trip drops leading zeros.
func parseMeterTime(value float64, loc *time.Location) (time.Time, error) {
	if math.IsNaN(value) {
		return time.Time{}, fmt.Errorf("timestamp digits missing")
	}
	digits := fmt.Sprintf("%012d", int64(value))
	t, err := time.ParseInLocation(wireTimeFormat, digits, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse meter time %q: %w", digits, err)
	}
	return t.UTC(), nil
}
