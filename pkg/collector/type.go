package collector

import (
	"context"
	"time"

	"github.com/meterkast/p1collector/pkg/dsmr"
	"github.com/meterkast/p1collector/pkg/meterdb"
)

// Sink receives consolidated readings. Implemented by influx.Writer.
type Sink interface {
	WriteReading(ctx context.Context, r *dsmr.Reading) error
	WriteSolarPower(ctx context.Context, measurement string, watt int32, at time.Time) error
}

// StateStore persists watermarks and spooled readings across restarts.
// Implemented by meterdb.Store.
type StateStore interface {
	LoadWatermarks() (dsmr.Watermarks, error)
	SaveWatermarks(marks dsmr.Watermarks) error
	SpoolReading(r *dsmr.Reading) error
	PendingReadings(limit int) ([]meterdb.SpooledReading, error)
	DeleteSpooled(id int64) error
	TrimSpool(keep int) error
}

// ReadingPublisher pushes readings to subscribers outside the sink,
// such as an MQTT broker. Implemented by mqttpub.Publisher.
type ReadingPublisher interface {
	PublishReading(reading dsmr.Reading) error
}

// SolarReader reports the inverter's current output in watt.
// Implemented by solarinverter.Inverter.
type SolarReader interface {
	ReadPower() (int32, error)
}

// Options wires a Collector. Source, Decoder, Store and Sink are
// required; the rest is optional and skipped when nil or zero.
type Options struct {
	Source  dsmr.LineSource
	Decoder *dsmr.Decoder
	Store   StateStore
	Sink    Sink

	// Publisher, when set, gets every reading that made it past the
	// watermarks, whether or not the sink accepted it.
	Publisher ReadingPublisher

	// Solar, when set, is polled once per cycle and written to the sink
	// under SolarMeasurement.
	Solar            SolarReader
	SolarMeasurement string

	// Notify is invoked with every accepted reading, on the collector's
	// goroutine. Used by the live API for its latest cache and
	// websocket broadcast.
	Notify func(r *dsmr.Reading)

	// Interval is the pause between cycles. Loop false runs a single
	// cycle and returns, for one-shot diagnostics.
	Interval time.Duration
	Loop     bool

	// SpoolLimit caps the readings kept while the sink is down.
	// Zero disables trimming.
	SpoolLimit int
}
