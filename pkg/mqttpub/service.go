// Package mqttpub publishes consolidated meter readings to an MQTT broker
// as JSON, one message per reading on a single topic.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/meterkast/p1collector/pkg/dsmr"
)

// publishClient is the slice of MQTT.Client the publisher needs.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

type Publisher struct {
	client publishClient
	topic  string
	log    zerolog.Logger
}

// New connects to the broker and returns a publisher for the given topic.
// The connection auto-reconnects; a reading published while the broker is
// down is dropped, not queued.
func New(broker, clientID, topic string, logger zerolog.Logger) (*Publisher, error) {
	opts := MQTT.NewClientOptions().AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", broker, token.Error())
	}

	log := logger.With().Str("component", "mqttpub").Logger()
	log.Info().Str("broker", broker).Str("topic", topic).Msg("connected to mqtt broker")

	return &Publisher{client: client, topic: topic, log: log}, nil
}

// PublishReading sends the reading as a retained JSON message, so a fresh
// subscriber sees the latest reading without waiting for the next telegram.
func (p *Publisher) PublishReading(reading dsmr.Reading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	token := p.client.Publish(p.topic, 0, true, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish reading: %w", token.Error())
	}
	return nil
}

func (p *Publisher) Close() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
