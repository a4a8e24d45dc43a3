// Package publish mirrors beacon records to an MQTT broker.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"beaconscan/internal/model"
)

const publishTimeout = 2 * time.Second

// Client is the subset of the paho client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends each record as JSON to <prefix>/<address>/records.
type Publisher struct {
	client Client
	prefix string
	logger *slog.Logger
}

// Dial connects to broker and returns a Publisher.
func Dial(broker, prefix string, logger *slog.Logger) (*Publisher, error) {
	hostname, _ := os.Hostname()
	clientID := fmt.Sprintf("beaconscan-%s-%d", hostname, time.Now().UnixNano())

	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetOrderMatters(false).SetAutoReconnect(true).SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", broker, token.Error())
	}
	logger.Info("connected to MQTT broker", "broker", broker, "client_id", clientID)

	return New(client, prefix, logger), nil
}

// New wraps an already connected client.
func New(client Client, prefix string, logger *slog.Logger) *Publisher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "beacons"
	}
	return &Publisher{client: client, prefix: prefix, logger: logger}
}

// Topic returns the topic a device's records are published on.
func (p *Publisher) Topic(address string) string {
	return fmt.Sprintf("%s/%s/records", p.prefix, address)
}

// Name implements sink.Mirror.
func (p *Publisher) Name() string { return "mqtt" }

// Mirror implements sink.Mirror.
func (p *Publisher) Mirror(ctx context.Context, rec model.BeaconDataRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	topic := p.Topic(rec.DeviceAddress)
	token := p.client.Publish(topic, 0, false, data)

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	p.logger.Debug("published record", "topic", topic)
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
