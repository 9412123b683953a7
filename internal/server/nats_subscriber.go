package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/petal-ejector/petal-controller/internal/session"
)

const dispatchTimeout = 5 * time.Second

// Dispatcher applies session events
type Dispatcher interface {
	Dispatch(ctx context.Context, ev session.Event) (session.State, error)
}

// NATSSubscriber turns remote cues on NATS into session events.
// A request with a reply subject is answered with the session snapshot.
type NATSSubscriber struct {
	nc      *nats.Conn
	session Dispatcher
	prefix  string
	subs    []*nats.Subscription

	// reply publishes responses; it is nc.Publish outside tests
	reply func(subject string, data []byte) error
}

// NewNATSSubscriber creates NATS subscriber
func NewNATSSubscriber(nc *nats.Conn, ctrl Dispatcher, prefix string) *NATSSubscriber {
	s := &NATSSubscriber{
		nc:      nc,
		session: ctrl,
		prefix:  prefix,
		subs:    make([]*nats.Subscription, 0),
	}
	if nc != nil {
		s.reply = nc.Publish
	}
	return s
}

// Subject returns the command subject for a command name
func (s *NATSSubscriber) Subject(command string) string {
	return s.prefix + ".command." + command
}

// Start starts subscriptions
func (s *NATSSubscriber) Start(ctx context.Context) error {
	handlers := map[string]nats.MsgHandler{
		"activate": s.handleActivate,
		"reset":    s.handleReset,
		"keys":     s.handleKeys,
	}

	for command, handler := range handlers {
		sub, err := s.nc.Subscribe(s.Subject(command), handler)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s command: %w", command, err)
		}
		s.subs = append(s.subs, sub)
	}

	log.Info().
		Int("subscriptions", len(s.subs)).
		Str("prefix", s.prefix).
		Msg("NATS command subscriber started")

	<-ctx.Done()

	s.unsubscribe()
	return ctx.Err()
}

func (s *NATSSubscriber) unsubscribe() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = s.subs[:0]
}

// handleActivate handles a remote activate-next cue
func (s *NATSSubscriber) handleActivate(msg *nats.Msg) {
	s.apply(msg, session.ActivateNext{})
}

// handleReset handles a remote reset cue
func (s *NATSSubscriber) handleReset(msg *nats.Msg) {
	s.apply(msg, session.Reset{})
}

// handleKeys handles {"key":"x"} key presses for keyboard mode
func (s *NATSSubscriber) handleKeys(msg *nats.Msg) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.Key == "" {
		log.Warn().Str("subject", msg.Subject).Msg("Invalid key press command")
		s.respond(msg, map[string]string{"error": "invalid key press"})
		return
	}

	key := req.Key
	if strings.EqualFold(key, "space") {
		key = " "
	}
	s.apply(msg, session.KeyPress{Key: key})
}

func (s *NATSSubscriber) apply(msg *nats.Msg, ev session.Event) {
	log.Debug().
		Str("subject", msg.Subject).
		Msg("Received session command")

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	state, err := s.session.Dispatch(ctx, ev)
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to apply session command")
		s.respond(msg, map[string]string{"error": err.Error()})
		return
	}

	s.respond(msg, state.Snapshot())
}

func (s *NATSSubscriber) respond(msg *nats.Msg, v interface{}) {
	if msg.Reply == "" || s.reply == nil {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal command reply")
		return
	}
	if err := s.reply(msg.Reply, data); err != nil {
		log.Error().Err(err).Str("reply", msg.Reply).Msg("Failed to send command reply")
	}
}
