// Package ingest feeds device telemetry published over MQTT into the verifier.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hydrotrust/hydro-verifier/internal/metrics"
	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// ReadingVerifier is the verifier behaviour the subscriber needs.
type ReadingVerifier interface {
	VerifyPayload(ctx context.Context, payload models.ReadingPayload) (models.VerificationResult, error)
}

// Config controls the MQTT subscriber.
type Config struct {
	Broker         string
	Topic          string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	QueueSize      int
	Workers        int
	ConnectTimeout time.Duration
}

type message struct {
	topic   string
	payload []byte
}

// Subscriber receives readings from a broker and verifies them on a worker pool.
type Subscriber struct {
	cfg       Config
	verifier  ReadingVerifier
	logger    *slog.Logger
	queue     chan message
	wg        sync.WaitGroup
	client    mqtt.Client
	closeOnce sync.Once
	dropLogAt atomic.Int64
}

// NewSubscriber constructs a subscriber. Call Start to connect.
func NewSubscriber(cfg Config, verifier ReadingVerifier, logger *slog.Logger) *Subscriber {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "hydro-verifier"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		cfg:      cfg,
		verifier: verifier,
		logger:   logger,
		queue:    make(chan message, cfg.QueueSize),
	}
}

// Start launches the workers, then connects and subscribes. Subscriptions are restored on
// every reconnect.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.cfg.Broker == "" || s.cfg.Topic == "" {
		return errors.New("mqtt broker and topic are required")
	}
	s.startWorkers(ctx)

	handler := s.Handler()
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c mqtt.Client) {
			tok := c.Subscribe(s.cfg.Topic, s.cfg.QoS, handler)
			if !tok.WaitTimeout(s.cfg.ConnectTimeout) {
				s.logger.Warn("mqtt subscribe timed out", slog.String("topic", s.cfg.Topic))
				return
			}
			if err := tok.Error(); err != nil {
				s.logger.Error("mqtt subscribe failed", slog.String("topic", s.cfg.Topic), slog.Any("error", err))
				return
			}
			s.logger.Info("subscribed to telemetry", slog.String("topic", s.cfg.Topic), slog.Int("qos", int(s.cfg.QoS)))
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost, reconnecting", slog.Any("error", err))
		})
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	s.client = mqtt.NewClient(opts)
	tok := s.client.Connect()
	if !tok.WaitTimeout(s.cfg.ConnectTimeout) {
		s.Close()
		return fmt.Errorf("mqtt connect to %s timed out", s.cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		s.Close()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Handler returns the paho callback. It copies the payload and enqueues without blocking;
// messages are dropped when the queue is full.
func (s *Subscriber) Handler() mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		// A delivery racing Close finds the queue closed.
		defer func() {
			if recover() != nil {
				metrics.ObserveIngest(metrics.IngestDropped)
			}
		}()
		payload := msg.Payload()
		data := make([]byte, len(payload))
		copy(data, payload)

		select {
		case s.queue <- message{topic: msg.Topic(), payload: data}:
		default:
			metrics.ObserveIngest(metrics.IngestDropped)
			s.logDropRateLimited()
		}
	}
}

// Close disconnects from the broker and waits for queued messages to be verified.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		if s.client != nil {
			s.client.Disconnect(500)
		}
		close(s.queue)
	})
	s.wg.Wait()
}

func (s *Subscriber) startWorkers(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for msg := range s.queue {
				s.process(ctx, msg)
			}
		}()
	}
}

func (s *Subscriber) process(ctx context.Context, msg message) {
	var payload models.ReadingPayload
	if err := json.Unmarshal(msg.payload, &payload); err != nil {
		metrics.ObserveIngest(metrics.IngestInvalid)
		s.logger.Warn("undecodable telemetry message", slog.String("topic", msg.topic), slog.Any("error", err))
		return
	}
	if payload.DeviceID == "" {
		payload.DeviceID = deviceFromTopic(s.cfg.Topic, msg.topic)
	}

	result, err := s.verifier.VerifyPayload(ctx, payload)
	if err != nil {
		var inputErr *models.InputError
		if errors.As(err, &inputErr) {
			metrics.ObserveIngest(metrics.IngestInvalid)
			s.logger.Warn("invalid telemetry reading", slog.String("device_id", payload.DeviceID), slog.Any("error", err))
			return
		}
		metrics.ObserveIngest(metrics.IngestFailed)
		s.logger.Error("verification failed", slog.String("device_id", payload.DeviceID), slog.Any("error", err))
		return
	}
	metrics.ObserveIngest(metrics.IngestVerified)
	s.logger.Debug("telemetry verified",
		slog.String("device_id", payload.DeviceID),
		slog.String("decision", string(result.Attestation.VerificationStatus)),
		slog.String("attestation_id", result.Attestation.ID),
	)
}

func (s *Subscriber) logDropRateLimited() {
	now := time.Now().UnixNano()
	last := s.dropLogAt.Load()
	if now-last >= int64(time.Second) && s.dropLogAt.CompareAndSwap(last, now) {
		s.logger.Warn("ingest queue full, message dropped", slog.Int("queue_size", s.cfg.QueueSize))
	}
}

// deviceFromTopic returns the topic level matched by the first single-level wildcard of
// pattern, e.g. "hydro/+/telemetry" and "hydro/turbine-7/telemetry" give "turbine-7".
func deviceFromTopic(pattern, topic string) string {
	patternLevels := strings.Split(pattern, "/")
	topicLevels := strings.Split(topic, "/")
	for i, level := range patternLevels {
		if level == "+" && i < len(topicLevels) {
			return topicLevels[i]
		}
	}
	return ""
}
