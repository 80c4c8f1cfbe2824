package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bplog/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Measurement is the payload a cuff or bridge publishes for one reading.
type Measurement struct {
	Systolic  int       `json:"sys"`
	Diastolic int       `json:"dia"`
	Pulse     int       `json:"pulse"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Device    string    `json:"device,omitempty"`
}

// Handler consumes one valid measurement.
type Handler func(ctx context.Context, m Measurement) error

type Subscriber struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once

	handler Handler
}

// SetMessageHandler sets the handler for measurement messages. Call before
// Connect.
func (s *Subscriber) SetMessageHandler(handler Handler) {
	s.handler = handler
}

func NewSubscriber(cfg config.Config, logger *slog.Logger) (*Subscriber, error) {
	if cfg.MQTTBroker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := clientOptions(cfg, cfg.MQTTClientID)

	// Callbacks keep internal state accurate
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		// Clean sessions drop subscriptions on reconnect.
		if err := s.subscribe(c); err != nil {
			logger.Error("mqtt resubscribe failed", "topic", cfg.MQTTTopic, "error", err)
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	s.client = mqtt.NewClient(opts)
	return s, nil
}

func clientOptions(cfg config.Config, clientID string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(clientID)

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	return opts
}

// Connect establishes the broker connection. The subscription is made from
// the on-connect callback so it survives reconnects.
func (s *Subscriber) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-s.stopCh:
		return fmt.Errorf("subscriber stopped")
	default:
	}

	// Fast path.
	if s.IsConnected() {
		return nil
	}

	if err := waitToken(ctx, s.client.Connect(), s.stopCh); err != nil {
		s.client.Disconnect(0)
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// waitToken waits for t in a ctx/stop-aware loop.
func waitToken(ctx context.Context, t mqtt.Token, stop <-chan struct{}) error {
	const poll = 200 * time.Millisecond
	for {
		if t.WaitTimeout(poll) {
			return t.Error()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return fmt.Errorf("subscriber stopped")
		default:
		}
	}
}

func (s *Subscriber) subscribe(c mqtt.Client) error {
	topic := s.cfg.MQTTTopic
	qos := byte(1) // At least once delivery

	messageHandler := func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Topic(), msg.Payload())
	}

	token := c.Subscribe(topic, qos, messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}

	s.logger.Info("subscribed to mqtt topic", "topic", topic, "qos", qos)
	return nil
}

func (s *Subscriber) handleMessage(topic string, payload []byte) {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(payload))

	m, err := DecodeMeasurement(payload)
	if err != nil {
		s.logger.Warn("invalid measurement message",
			"topic", topic,
			"error", err,
			"payload", string(payload),
		)
		return
	}

	if s.handler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.handler(ctx, m); err != nil {
		s.logger.Error("message handler failed",
			"topic", topic,
			"device", m.Device,
			"error", err,
		)
		return
	}
	s.logger.Debug("processed measurement message",
		"device", m.Device,
		"timestamp", m.Timestamp,
	)
}

// DecodeMeasurement parses and checks a measurement payload. Range checks are
// left to the reading rules; this only rejects incomplete messages.
func DecodeMeasurement(payload []byte) (Measurement, error) {
	var m Measurement
	if err := json.Unmarshal(payload, &m); err != nil {
		return Measurement{}, fmt.Errorf("parse measurement: %w", err)
	}
	if err := validateMeasurement(m); err != nil {
		return Measurement{}, err
	}
	return m, nil
}

func validateMeasurement(m Measurement) error {
	if m.Systolic == 0 {
		return fmt.Errorf("sys is required")
	}
	if m.Diastolic == 0 {
		return fmt.Errorf("dia is required")
	}
	if m.Pulse == 0 {
		return fmt.Errorf("pulse is required")
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (s *Subscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect stops the subscriber and closes the MQTT connection.
// Idempotent and safe to call multiple times.
func (s *Subscriber) Disconnect() {
	// Signal shutdown once (unblocks any Connect loops).
	s.stopOnce.Do(func() { close(s.stopCh) })

	// Unsubscribe before disconnecting
	if s.client != nil && s.IsConnected() {
		token := s.client.Unsubscribe(s.cfg.MQTTTopic)
		token.WaitTimeout(2 * time.Second)
	}

	// Disconnect without holding s.mu to avoid lock contention/deadlocks.
	if s.client != nil {
		s.client.Disconnect(250)
	}

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *Subscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}
