package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bplog/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher sends measurements to the configured topic.
type Publisher struct {
	client mqtt.Client
	topic  string
	stopCh chan struct{}
}

func NewPublisher(cfg config.Config, clientID string) (*Publisher, error) {
	if cfg.MQTTBroker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	opts := clientOptions(cfg, clientID)
	// A one-shot publisher should fail rather than retry forever.
	opts.SetConnectRetry(false)
	return &Publisher{
		client: mqtt.NewClient(opts),
		topic:  cfg.MQTTTopic,
		stopCh: make(chan struct{}),
	}, nil
}

func (p *Publisher) Connect(ctx context.Context) error {
	if err := waitToken(ctx, p.client.Connect(), p.stopCh); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Publish sends m with QoS 1 and waits for the broker acknowledgement.
func (p *Publisher) Publish(ctx context.Context, m Measurement) error {
	if err := validateMeasurement(m); err != nil {
		return err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode measurement: %w", err)
	}
	if err := waitToken(ctx, p.client.Publish(p.topic, 1, false, payload), p.stopCh); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
