package meterdb

import "github.com/meterkast/p1collector/pkg/dsmr"

// SpooledReading is a decoded reading parked in the state store while the
// sink was unreachable.
type SpooledReading struct {
	ID      int64
	Reading dsmr.Reading
}
