// The p1collector daemon reads DSMR telegrams from a smart meter's P1
// port, decodes them into consolidated readings and ships those to
// InfluxDB, with optional MQTT publishing, solar inverter polling and a
// live HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // meter timezone must resolve on hosts without a tz database

	"github.com/rs/zerolog"

	"github.com/meterkast/p1collector/pkg/collector"
	"github.com/meterkast/p1collector/pkg/config"
	"github.com/meterkast/p1collector/pkg/dsmr"
	"github.com/meterkast/p1collector/pkg/influx"
	"github.com/meterkast/p1collector/pkg/logging"
	"github.com/meterkast/p1collector/pkg/meterdb"
	"github.com/meterkast/p1collector/pkg/mqttpub"
	"github.com/meterkast/p1collector/pkg/pathing"
	"github.com/meterkast/p1collector/pkg/port_reader"
	"github.com/meterkast/p1collector/pkg/solarinverter"
)

func main() {
	log := logging.New("p1collector", false)

	if err := pathing.EnsureDirs(); err != nil {
		log.Fatal().Err(err).Msg("preparing directories")
	}
	if err := config.LoadCollectorConfig(); err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}
	cfg := config.ActiveCollectorConfig
	log = logging.New("p1collector", cfg.Debug)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("collector stopped")
	}
	log.Info().Msg("collector shut down")
}

func run(cfg *config.CollectorConfig, log zerolog.Logger) error {
	loc, err := cfg.MeterLocation()
	if err != nil {
		return fmt.Errorf("meter timezone: %w", err)
	}

	port := port_reader.New(cfg.SerialDevice, cfg.Baudrate, cfg.ReadTimeout(), log)
	if err := port.Connect(); err != nil {
		return err
	}
	defer port.Close()

	store, err := meterdb.Open(pathing.GetStateDbPath())
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer store.Close()

	sink := influx.New(influx.Options{
		URL:         cfg.InfluxURL,
		Token:       cfg.InfluxToken,
		Org:         cfg.InfluxOrg,
		Bucket:      cfg.InfluxBucket,
		Measurement: cfg.InfluxMeasurement,
	}, log)
	defer sink.Close()

	opts := collector.Options{
		Source:     port,
		Decoder:    dsmr.NewDecoder(loc, cfg.StrictChecksum, log),
		Store:      store,
		Sink:       sink,
		Interval:   cfg.Interval(),
		Loop:       cfg.Loop,
		SpoolLimit: cfg.SpoolLimit,
	}

	if cfg.MQTTEnabled() {
		pub, err := mqttpub.New(cfg.MQTTBroker, "p1collector", cfg.MQTTTopic, log)
		if err != nil {
			log.Warn().Err(err).Msg("mqtt publishing disabled for this run")
		} else {
			defer pub.Close()
			opts.Publisher = pub
		}
	}

	var inverter *solarinverter.Inverter
	if cfg.SolarEnabled() {
		inverter = solarinverter.New(cfg.SolarInverterIp, cfg.SolarInverterModbusPort, log)
		opts.Solar = inverter
		opts.SolarMeasurement = cfg.SolarMeasurement
	}

	if cfg.APIEnabled() {
		api := newAPIServer(inverter, log)
		opts.Notify = api.publish
		go api.serve(fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return collector.New(opts, log).Run(ctx)
}
