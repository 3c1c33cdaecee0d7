// Package influx writes consolidated meter readings to the time-series
// sink, one point per telegram.
package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"

	"github.com/meterkast/p1collector/pkg/dsmr"
)

// Options locates the sink bucket and the measurement readings land in.
type Options struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// Writer pushes readings into an InfluxDB bucket over the blocking write
// API, so a failed write is visible to the caller and can be spooled.
type Writer struct {
	client      influxdb2.Client
	write       api.WriteAPIBlocking
	measurement string
	log         zerolog.Logger
}

// New connects a Writer to the sink. Points carry second precision, the
// native resolution of meter timestamps.
func New(opts Options, logger zerolog.Logger) *Writer {
	options := influxdb2.DefaultOptions().SetPrecision(time.Second)
	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token, options)
	return &Writer{
		client:      client,
		write:       client.WriteAPIBlocking(opts.Org, opts.Bucket),
		measurement: opts.Measurement,
		log:         logger.With().Str("component", "influx").Logger(),
	}
}

// WriteReading sends one consolidated reading. Fields map 1:1 onto point
// fields; the tariff indicator travels as a tag; the point time is the
// telegram's electricity timestamp.
func (w *Writer) WriteReading(ctx context.Context, r *dsmr.Reading) error {
	point := influxdb2.NewPointWithMeasurement(w.measurement).SetTime(r.Time)
	for name, value := range r.Fields {
		point.AddField(name, value)
	}
	if r.Tariff != nil {
		point.AddTag("tariff", strconv.Itoa(*r.Tariff))
	}

	if err := w.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write reading: %w", err)
	}
	w.log.Debug().Time("reading", r.Time).Int("fields", len(r.Fields)).Msg("reading written")
	return nil
}

// WriteSolarPower records the inverter's active power under its own
// measurement.
func (w *Writer) WriteSolarPower(ctx context.Context, measurement string, watt int32, at time.Time) error {
	point := influxdb2.NewPointWithMeasurement(measurement).
		AddField("power_w", int64(watt)).
		SetTime(at)
	if err := w.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write solar power: %w", err)
	}
	return nil
}

// Close flushes and tears down the underlying client.
func (w *Writer) Close() {
	w.client.Close()
}
