package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/meterkast/p1collector/pkg/pathing"
)

var ActiveCollectorConfig *CollectorConfig

// DefaultCollectorConfig is what gets written on first run.
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		SerialDevice:       "/dev/ttyUSB0",
		Baudrate:           115200,
		ReadTimeoutSeconds: 20,
		MeterTimezone:      "Europe/Amsterdam",
		StrictChecksum:     false,
		IntervalSeconds:    10,
		Loop:               true,

		InfluxURL:         "http://localhost:8086",
		InfluxOrg:         "home",
		InfluxBucket:      "p1data",
		InfluxMeasurement: "p1",
		SpoolLimit:        4096,

		ListenAddress: "0.0.0.0",
		ListenPort:    9039,

		MQTTTopic: "p1collector/reading",

		SolarInverterModbusPort: 502,
		SolarMeasurement:        "solar",
	}
}

// LoadCollectorConfig reads the collector config, creating it with defaults
// on first run.
func LoadCollectorConfig() error {
	return loadFrom(filepath.Join(pathing.GetConfigDir(), "p1collector.toml"))
}

func loadFrom(configPath string) error {
	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultCollectorConfig()
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		if err := toml.NewEncoder(cfgFile).Encode(cfg); err != nil {
			return err
		}
		ActiveCollectorConfig = cfg
		applyEnvOverrides(ActiveCollectorConfig)
		return nil
	}

	// Load existing config
	var cfg CollectorConfig
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return err
	}
	ActiveCollectorConfig = &cfg
	applyEnvOverrides(ActiveCollectorConfig)
	return nil
}

// Secrets don't belong in /etc; the sink token may come from the
// environment instead.
func applyEnvOverrides(cfg *CollectorConfig) {
	if token := os.Getenv("INFLUX_TOKEN"); token != "" {
		cfg.InfluxToken = token
	}
}
