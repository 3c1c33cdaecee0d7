// Package collector runs the collection loop: decode a telegram from the
// P1 port, persist the watermarks, hand the reading to the time-series
// sink, and spool it locally when the sink is unreachable.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"

	"github.com/meterkast/p1collector/pkg/dsmr"
)

var (
	telegramsDecoded = metrics.NewCounter("p1_telegrams_decoded_total")
	decodeErrors     = metrics.NewCounter("p1_telegram_decode_errors_total")
	staleTelegrams   = metrics.NewCounter("p1_telegrams_stale_total")
	checksumRejects  = metrics.NewCounter("p1_checksum_rejects_total")
	sinkErrors       = metrics.NewCounter("p1_sink_write_errors_total")
	readingsSpooled  = metrics.NewCounter("p1_readings_spooled_total")
	spoolFlushed     = metrics.NewCounter("p1_spool_flushed_total")
)

const (
	// After maxErrors consecutive failed cycles the process exits and
	// leaves recovery to the supervisor.
	maxErrors = 10

	flushBatchSize = 64
)

type Collector struct {
	src     dsmr.LineSource
	decoder *dsmr.Decoder
	store   StateStore
	sink    Sink

	pub              ReadingPublisher
	solar            SolarReader
	solarMeasurement string
	notify           func(r *dsmr.Reading)

	interval   time.Duration
	loop       bool
	spoolLimit int
	errorPause time.Duration

	marks dsmr.Watermarks
	log   zerolog.Logger
}

func New(opts Options, logger zerolog.Logger) *Collector {
	return &Collector{
		src:              opts.Source,
		decoder:          opts.Decoder,
		store:            opts.Store,
		sink:             opts.Sink,
		pub:              opts.Publisher,
		solar:            opts.Solar,
		solarMeasurement: opts.SolarMeasurement,
		notify:           opts.Notify,
		interval:         opts.Interval,
		loop:             opts.Loop,
		spoolLimit:       opts.SpoolLimit,
		errorPause:       time.Second,
		log:              logger.With().Str("component", "collector").Logger(),
	}
}

// Run restores the watermarks and collects until ctx is cancelled, a
// single cycle completes when not looping, or too many consecutive
// cycles fail.
func (c *Collector) Run(ctx context.Context) error {
	marks, err := c.store.LoadWatermarks()
	if err != nil {
		return fmt.Errorf("load watermarks: %w", err)
	}
	c.marks = marks
	c.log.Info().
		Time("electricity", marks.Electricity).
		Time("gas", marks.Gas).
		Msg("restored watermarks")

	consecutiveErrors := 0
	for {
		err := c.collectOnce(ctx)
		if !c.loop {
			return err
		}

		if err != nil {
			// A telegram with no electricity timestamp is a profile
			// mismatch, not a transient fault.
			if errors.Is(err, dsmr.ErrNoTimestamp) {
				return err
			}
			consecutiveErrors++
			c.log.Error().Err(err).
				Int("consecutive", consecutiveErrors).
				Int("max", maxErrors).
				Msg("collection cycle failed")
			if consecutiveErrors >= maxErrors {
				return fmt.Errorf("giving up after %d consecutive failures: %w", maxErrors, err)
			}
		} else {
			consecutiveErrors = 0
		}

		pause := c.interval
		if err != nil {
			pause = c.errorPause
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pause):
		}
	}
}

func (c *Collector) collectOnce(ctx context.Context) error {
	reading, marks, err := c.decoder.Decode(c.src, c.marks)
	if err != nil {
		decodeErrors.Inc()
		switch {
		case errors.Is(err, dsmr.ErrStaleTelegram):
			staleTelegrams.Inc()
		case errors.Is(err, dsmr.ErrChecksumMismatch):
			checksumRejects.Inc()
		}
		return fmt.Errorf("decode telegram: %w", err)
	}
	telegramsDecoded.Inc()

	// The watermarks go down before the sink write: a reading that ends
	// up spooled must never be accepted a second time off the wire.
	c.marks = marks
	if err := c.store.SaveWatermarks(marks); err != nil {
		return fmt.Errorf("save watermarks: %w", err)
	}

	if c.deliver(ctx, reading) {
		c.flushSpool(ctx)
	}

	if c.pub != nil {
		if err := c.pub.PublishReading(*reading); err != nil {
			c.log.Warn().Err(err).Msg("mqtt publish failed")
		}
	}
	if c.solar != nil {
		c.pollSolar(ctx)
	}
	if c.notify != nil {
		c.notify(reading)
	}
	return nil
}

// deliver writes the reading to the sink, spooling it on failure.
// Returns whether the sink accepted it.
func (c *Collector) deliver(ctx context.Context, reading *dsmr.Reading) bool {
	err := c.sink.WriteReading(ctx, reading)
	if err == nil {
		return true
	}

	sinkErrors.Inc()
	c.log.Warn().Err(err).Time("reading", reading.Time).Msg("sink write failed, spooling reading")
	if err := c.store.SpoolReading(reading); err != nil {
		c.log.Error().Err(err).Msg("spooling reading failed, dropping it")
		return false
	}
	readingsSpooled.Inc()
	if c.spoolLimit > 0 {
		if err := c.store.TrimSpool(c.spoolLimit); err != nil {
			c.log.Warn().Err(err).Msg("trimming spool failed")
		}
	}
	return false
}

// flushSpool replays spooled readings oldest first, stopping at the
// first sink error so order is preserved for the next attempt.
func (c *Collector) flushSpool(ctx context.Context) {
	for {
		pending, err := c.store.PendingReadings(flushBatchSize)
		if err != nil {
			c.log.Warn().Err(err).Msg("reading spool failed")
			return
		}
		if len(pending) == 0 {
			return
		}

		for _, spooled := range pending {
			if err := c.sink.WriteReading(ctx, &spooled.Reading); err != nil {
				sinkErrors.Inc()
				c.log.Warn().Err(err).Int64("id", spooled.ID).Msg("sink still failing, keeping spool")
				return
			}
			if err := c.store.DeleteSpooled(spooled.ID); err != nil {
				c.log.Warn().Err(err).Int64("id", spooled.ID).Msg("deleting flushed reading failed")
				return
			}
			spoolFlushed.Inc()
		}
		c.log.Info().Int("count", len(pending)).Msg("flushed spooled readings")

		if len(pending) < flushBatchSize {
			return
		}
	}
}

func (c *Collector) pollSolar(ctx context.Context) {
	watt, err := c.solar.ReadPower()
	if err != nil {
		// The inverter powers down at night; unreachable is routine.
		c.log.Debug().Err(err).Msg("solar read failed")
		return
	}
	if err := c.sink.WriteSolarPower(ctx, c.solarMeasurement, watt, time.Now()); err != nil {
		sinkErrors.Inc()
		c.log.Warn().Err(err).Msg("solar sink write failed")
	}
}
