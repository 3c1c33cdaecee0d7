package config

import "time"

type CollectorConfig struct {
	// Serial transport
	SerialDevice       string `toml:"serial_device"`
	Baudrate           int    `toml:"baudrate"`
	ReadTimeoutSeconds int    `toml:"read_timeout_seconds"`

	// Decoding
	// Timezone the meter's wall clock runs in.
	MeterTimezone string `toml:"meter_timezone"`
	// Reject telegrams on checksum mismatch instead of logging them.
	StrictChecksum bool `toml:"strict_checksum"`

	// Collection loop
	IntervalSeconds int  `toml:"interval_seconds"`
	Loop            bool `toml:"loop"`
	Debug           bool `toml:"debug"`

	// Time-series sink
	InfluxURL string `toml:"influx_url"`
	// Overridden by the INFLUX_TOKEN environment variable when set.
	InfluxToken       string `toml:"influx_token"`
	InfluxOrg         string `toml:"influx_org"`
	InfluxBucket      string `toml:"influx_bucket"`
	InfluxMeasurement string `toml:"influx_measurement"`
	// Spooled readings kept while the sink is unreachable; oldest dropped.
	SpoolLimit int `toml:"spool_limit"`

	// Live HTTP API. Empty listen_address disables it.
	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`

	// MQTT publishing. Empty broker disables it.
	MQTTBroker string `toml:"mqtt_broker"`
	MQTTTopic  string `toml:"mqtt_topic"`

	// Solar inverter polling over modbus TCP. Empty ip disables it.
	SolarInverterIp         string `toml:"solar_inverter_ip"`
	SolarInverterModbusPort int    `toml:"solar_inverter_modbus_port"`
	SolarMeasurement        string `toml:"solar_measurement"`
}

// ReadTimeout is the serial line read deadline as a duration.
func (c *CollectorConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// Interval is the pause between collection cycles as a duration.
func (c *CollectorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// MeterLocation resolves the configured meter timezone.
func (c *CollectorConfig) MeterLocation() (*time.Location, error) {
	return time.LoadLocation(c.MeterTimezone)
}

// APIEnabled reports whether the live HTTP API should be served.
func (c *CollectorConfig) APIEnabled() bool {
	return c.ListenAddress != ""
}

// MQTTEnabled reports whether readings should be published over MQTT.
func (c *CollectorConfig) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

// SolarEnabled reports whether the solar inverter should be polled.
func (c *CollectorConfig) SolarEnabled() bool {
	return c.SolarInverterIp != "" && c.SolarInverterModbusPort != 0
}
