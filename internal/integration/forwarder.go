package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/petal-ejector/petal-controller/internal/config"
	"github.com/petal-ejector/petal-controller/internal/models"
	"github.com/petal-ejector/petal-controller/internal/session"
	"github.com/petal-ejector/petal-controller/pkg/crypto"
)

// Event kinds published by the forwarder
const (
	KindLog          = "log"
	KindLogCleared   = "log_cleared"
	KindState        = "state"
	KindNotification = "notification"
)

const (
	queueSize      = 256
	publishTimeout = 5 * time.Second
)

// NATSPublisher is the part of *nats.Conn the forwarder uses
type NATSPublisher interface {
	Publish(subject string, data []byte) error
}

// MQTTPublisher is the part of mqtt.Client the forwarder uses
type MQTTPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// outbound is one queued publication
type outbound struct {
	kind    string
	payload []byte
}

// ForwarderService forwards session log entries, state changes and
// notifications to NATS and MQTT. It implements session.Observer; the
// callbacks only enqueue, publishing happens on Run.
type ForwarderService struct {
	nc   NATSPublisher
	mq   MQTTPublisher
	nats config.NATSConfig
	mqtt config.MQTTConfig

	queue   chan outbound
	dropped atomic.Int64
}

// NewForwarderService creates a forwarder. Either publisher may be nil.
func NewForwarderService(cfg *config.Config, nc NATSPublisher, mq MQTTPublisher) *ForwarderService {
	return &ForwarderService{
		nc:    nc,
		mq:    mq,
		nats:  cfg.NATS,
		mqtt:  cfg.MQTT,
		queue: make(chan outbound, queueSize),
	}
}

// Subject returns the NATS subject for an event kind
func (s *ForwarderService) Subject(kind string) string {
	return s.nats.SubjectPrefix + ".session." + kind
}

// Topic returns the MQTT topic for an event kind
func (s *ForwarderService) Topic(kind string) string {
	return s.mqtt.TopicPrefix + "/" + kind
}

// Dropped returns the number of events lost to a full queue
func (s *ForwarderService) Dropped() int64 {
	return s.dropped.Load()
}

// OnLog implements session.Observer
func (s *ForwarderService) OnLog(entry models.LogEntry) {
	s.enqueue(KindLog, entry)
}

// OnLogCleared implements session.Observer
func (s *ForwarderService) OnLogCleared() {
	s.enqueue(KindLogCleared, map[string]interface{}{"timestamp": time.Now()})
}

// OnState implements session.Observer
func (s *ForwarderService) OnState(state session.State) {
	s.enqueue(KindState, state.Snapshot())
}

// OnNotify implements session.Observer
func (s *ForwarderService) OnNotify(n models.Notification) {
	s.enqueue(KindNotification, n)
}

func (s *ForwarderService) enqueue(kind string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("Failed to marshal integration payload")
		return
	}

	select {
	case s.queue <- outbound{kind: kind, payload: payload}:
	default:
		s.dropped.Add(1)
		log.Warn().Str("kind", kind).Msg("Integration queue full, dropping event")
	}
}

// Start publishes queued events until ctx is done
func (s *ForwarderService) Start(ctx context.Context) error {
	log.Info().
		Bool("nats", s.nc != nil).
		Bool("mqtt", s.mq != nil).
		Msg("Integration forwarder service started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case out := <-s.queue:
			s.publish(out)
		}
	}
}

func (s *ForwarderService) publish(out outbound) {
	if s.nc != nil {
		subject := s.Subject(out.kind)
		if err := s.nc.Publish(subject, out.payload); err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("Failed to publish to NATS")
		}
	}

	if s.mq != nil {
		s.forwardToMQTT(out)
	}
}

// forwardToMQTT publishes one event. State is retained so late
// subscribers see the current session.
func (s *ForwarderService) forwardToMQTT(out outbound) {
	topic := s.Topic(out.kind)
	retained := out.kind == KindState

	token := s.mq.Publish(topic, s.mqtt.QoS, retained, out.payload)
	if token.WaitTimeout(publishTimeout) {
		if err := token.Error(); err != nil {
			log.Error().
				Err(err).
				Str("topic", topic).
				Msg("Failed to publish to MQTT")
		} else {
			log.Debug().
				Str("topic", topic).
				Msg("Event forwarded to MQTT")
		}
	} else {
		log.Error().
			Str("topic", topic).
			Msg("MQTT publish timeout")
	}
}

// ConnectMQTT creates and connects the MQTT client for event publication
func ConnectMQTT(cfg config.MQTTConfig) (mqtt.Client, error) {
	suffix, err := crypto.GenerateRandomString(6)
	if err != nil {
		return nil, fmt.Errorf("generate mqtt client id: %w", err)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, suffix))

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().
			Str("broker", cfg.Broker).
			Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().
			Err(err).
			Str("broker", cfg.Broker).
			Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	if !token.WaitTimeout(10 * time.Second) {
		client.Disconnect(0)
		return nil, fmt.Errorf("connect mqtt broker %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, err)
	}

	return client, nil
}
