package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/petal-ejector/petal-controller/internal/models"
	"github.com/petal-ejector/petal-controller/internal/session"
)

type fakeDispatcher struct {
	events []session.Event
	state  session.State
	err    error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, ev session.Event) (session.State, error) {
	f.events = append(f.events, ev)
	return f.state, f.err
}

type replies struct {
	subjects []string
	payloads [][]byte
}

func (r *replies) publish(subject string, data []byte) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return nil
}

func newSubscriber(d Dispatcher) (*NATSSubscriber, *replies) {
	s := NewNATSSubscriber(nil, d, "petal")
	r := &replies{}
	s.reply = r.publish
	return s, r
}

func TestSubjects(t *testing.T) {
	s := NewNATSSubscriber(nil, &fakeDispatcher{}, "stage")
	if got := s.Subject("activate"); got != "stage.command.activate" {
		t.Fatalf("subject = %q", got)
	}
}

func TestCommandsDispatch(t *testing.T) {
	tests := []struct {
		name   string
		handle func(s *NATSSubscriber, msg *nats.Msg)
		data   string
		want   session.Event
	}{
		{"activate", (*NATSSubscriber).handleActivate, "", session.ActivateNext{}},
		{"reset", (*NATSSubscriber).handleReset, "", session.Reset{}},
		{"key", (*NATSSubscriber).handleKeys, `{"key":"x"}`, session.KeyPress{Key: "x"}},
		{"space", (*NATSSubscriber).handleKeys, `{"key":"Space"}`, session.KeyPress{Key: " "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{}
			s, r := newSubscriber(d)

			tt.handle(s, &nats.Msg{Subject: "petal.command." + tt.name, Data: []byte(tt.data)})

			if len(d.events) != 1 || d.events[0] != tt.want {
				t.Fatalf("events = %#v, want %#v", d.events, tt.want)
			}
			if len(r.subjects) != 0 {
				t.Fatal("reply sent without a reply subject")
			}
		})
	}
}

func TestCommandReplyCarriesSnapshot(t *testing.T) {
	state := session.Initial()
	state.Mode = session.ModeNetwork
	state.Connection = session.Connected
	state.Motor = 8
	d := &fakeDispatcher{state: state}
	s, r := newSubscriber(d)

	s.handleReset(&nats.Msg{Subject: "petal.command.reset", Reply: "_INBOX.1"})

	if len(r.subjects) != 1 || r.subjects[0] != "_INBOX.1" {
		t.Fatalf("replies = %v", r.subjects)
	}
	var snap models.SessionSnapshot
	if err := json.Unmarshal(r.payloads[0], &snap); err != nil {
		t.Fatal(err)
	}
	if !snap.CanReset || snap.Remaining != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestInvalidKeyCommand(t *testing.T) {
	d := &fakeDispatcher{}
	s, r := newSubscriber(d)

	s.handleKeys(&nats.Msg{Subject: "petal.command.keys", Reply: "_INBOX.2", Data: []byte(`{"key":""}`)})

	if len(d.events) != 0 {
		t.Fatalf("events = %#v", d.events)
	}
	if len(r.payloads) != 1 || string(r.payloads[0]) != `{"error":"invalid key press"}` {
		t.Fatalf("reply = %q", r.payloads)
	}
}

func TestDispatchErrorReply(t *testing.T) {
	d := &fakeDispatcher{err: session.ErrStopped}
	s, r := newSubscriber(d)

	s.handleActivate(&nats.Msg{Subject: "petal.command.activate", Reply: "_INBOX.3"})

	var body map[string]string
	if err := json.Unmarshal(r.payloads[0], &body); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(d.err, session.ErrStopped) || body["error"] != session.ErrStopped.Error() {
		t.Fatalf("reply = %v", body)
	}
}
