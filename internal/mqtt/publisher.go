// Package mqtt publishes flattened sensor readings to an MQTT broker
// after each successful refresh cycle, the usual ingestion path for
// home-automation platforms consuming third-party bridges.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"heatbridge/internal/dewarmte"
	"heatbridge/internal/sensors"
)

// Config contains MQTT publisher configuration
type Config struct {
	BrokerURL   string
	TopicPrefix string
	ClientID    string
}

// Publisher pushes sensor readings to the broker, retained, one topic
// per device field.
type Publisher struct {
	config Config
	client mqtt.Client
	logger *slog.Logger
}

// NewPublisher creates a new MQTT publisher
func NewPublisher(config Config, logger *slog.Logger) *Publisher {
	if config.TopicPrefix == "" {
		config.TopicPrefix = "heatbridge"
	}
	if config.ClientID == "" {
		config.ClientID = "heatbridge"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		config: config,
		logger: logger.With("component", "mqtt"),
	}
}

// Start connects to the broker, retrying every second until the
// context is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.ClientID = p.config.ClientID

	u, err := url.Parse(p.config.BrokerURL)
	if err != nil {
		return fmt.Errorf("mqtt url parse: %w", err)
	}
	opts.Servers = []*url.URL{u}

	opts.SetOnConnectHandler(p.connected)
	opts.SetConnectionLostHandler(p.disconnected)
	opts.SetAutoReconnect(true)

	p.client = mqtt.NewClient(opts)

	retry := time.NewTicker(1 * time.Second)
	defer retry.Stop()

	p.logger.Info("attempting to connect to MQTT", "broker", p.config.BrokerURL)

	for {
		select {
		case <-retry.C:
			token := p.client.Connect()
			token.Wait()

			if err := token.Error(); err != nil {
				p.logger.Error("connect attempt failed, will retry", "error", err)
			} else {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop disconnects from the broker
func (p *Publisher) Stop() {
	if p.client == nil {
		return
	}
	p.logger.Info("disconnecting from MQTT")
	p.client.Disconnect(1500)
}

func (p *Publisher) connected(c mqtt.Client) {
	p.logger.Info("connected to MQTT")
}

func (p *Publisher) disconnected(c mqtt.Client, err error) {
	p.logger.Error("disconnected from MQTT", "error", err)
}

// PublishSnapshot pushes every reading of a published snapshot.
// Registered as a coordinator listener, so it only ever sees full,
// consistent snapshots.
func (p *Publisher) PublishSnapshot(snapshot dewarmte.Snapshot) {
	if p.client == nil || !p.client.IsConnected() {
		p.logger.Debug("not connected, snapshot not published")
		return
	}

	for _, reading := range sensors.Flatten(snapshot) {
		topic := fmt.Sprintf("%s/%s/%s", p.config.TopicPrefix, reading.DeviceID, reading.Field)

		payload, err := json.Marshal(reading)
		if err != nil {
			p.logger.Error("unable to marshal reading", "topic", topic, "error", err)
			continue
		}

		token := p.client.Publish(topic, 0, true, payload)
		if !token.WaitTimeout(5 * time.Second) {
			p.logger.Error("failed to publish reading", "topic", topic, "error", token.Error())
		}
	}
	p.logger.Debug("snapshot published", "devices", len(snapshot))
}
