package publisher

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/psegsync/psegsync/internal/config"
	"github.com/psegsync/psegsync/pkg/models"
)

// Publisher pushes the latest per-period readings to MQTT so Home Assistant
// MQTT sensors can track current usage alongside the long-term statistics.
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
}

// New creates a publisher and connects to the broker
func New(cfg config.MQTTConfig, topicPrefix string) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	// Configure MQTT client options
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID("psegsync")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	return &Publisher{
		client:      client,
		topicPrefix: topicPrefix,
	}, nil
}

// PublishLatest publishes the most recent reading for each period as a
// retained message on <prefix>/<period>.
func (p *Publisher) PublishLatest(readings []models.UsageReading) error {
	latest := make(map[models.Period]models.UsageReading)
	for _, r := range readings {
		if cur, ok := latest[r.Period]; !ok || r.Timestamp.After(cur.Timestamp) {
			latest[r.Period] = r
		}
	}

	for period, reading := range latest {
		topic := fmt.Sprintf("%s/%s", p.topicPrefix, period)
		payload := fmt.Sprintf("%.3f", reading.KWh)

		token := p.client.Publish(topic, 0, true, payload)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("publishing to %s: %w", topic, token.Error())
		}
	}

	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
