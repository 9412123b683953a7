package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/petal-ejector/petal-controller/internal/eventlog"
	"github.com/petal-ejector/petal-controller/internal/models"
)

// ErrStopped is returned by Dispatch once the controller loop has exited
var ErrStopped = errors.New("session controller stopped")

// errNoExecutor means no execution strategy is bound to the session
var errNoExecutor = errors.New("no executor bound to session")

// Observer receives everything the controller publishes. Callbacks run on
// the controller goroutine and must not block.
type Observer interface {
	OnLog(entry models.LogEntry)
	OnLogCleared()
	OnState(state State)
	OnNotify(n models.Notification)
}

// Options configures a Controller
type Options struct {
	Log          *eventlog.Log
	Factory      ExecutorFactory
	PollInterval time.Duration
	Now          func() time.Time
}

// Controller owns the live session. Events are applied one at a time on
// the goroutine running Run; public methods are safe for concurrent use.
type Controller struct {
	entries      *eventlog.Log
	factory      ExecutorFactory
	pollInterval time.Duration
	now          func() time.Time

	inbox chan envelope
	done  chan struct{}

	mu        sync.RWMutex
	state     State
	observers []Observer

	// owned by the Run goroutine
	runCtx  context.Context
	exec    Executor
	execGen uint64
	poll    *pollTask

	activePolls atomic.Int32
	inflight    sync.WaitGroup
}

type envelope struct {
	ev    Event
	reply chan State
}

type pollTask struct {
	gen    uint64
	cancel context.CancelFunc
}

// New creates a controller and records the startup log lines
func New(opts Options) *Controller {
	if opts.Log == nil {
		opts.Log = eventlog.New()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		entries:      opts.Log,
		factory:      opts.Factory,
		pollInterval: opts.PollInterval,
		now:          opts.Now,
		inbox:        make(chan envelope, 64),
		done:         make(chan struct{}),
		state:        Initial(),
	}

	c.entries.Append(models.EventLevelInfo, "Beauty and the Beast Petal Controller initialized", nil)
	c.entries.Append(models.EventLevelInfo, "Please select a control mode to begin", nil)

	return c
}

// AddObserver registers an observer for log, state and notification updates
func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Log returns the session log
func (c *Controller) Log() *eventlog.Log {
	return c.entries
}

// State returns the current session state
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ActivePolls returns the number of running status poll goroutines
func (c *Controller) ActivePolls() int {
	return int(c.activePolls.Load())
}

// Run applies events until ctx is done. In-flight device requests are
// abandoned through ctx when Run returns.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx

	log.Info().Msg("Session controller started")

	defer func() {
		c.stopPoll()
		close(c.done)
		c.inflight.Wait()
		log.Info().Msg("Session controller stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-c.inbox:
			state := c.apply(env.ev)
			if env.reply != nil {
				env.reply <- state
			}
		}
	}
}

// Dispatch applies an event and returns the resulting state. It waits for
// the state change only, never for the device request the event starts.
func (c *Controller) Dispatch(ctx context.Context, ev Event) (State, error) {
	env := envelope{ev: ev, reply: make(chan State, 1)}

	select {
	case c.inbox <- env:
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-c.done:
		return State{}, ErrStopped
	}

	select {
	case s := <-env.reply:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-c.done:
		return State{}, ErrStopped
	}
}

// Post queues an event without waiting for it to be applied
func (c *Controller) Post(ev Event) {
	select {
	case c.inbox <- envelope{ev: ev}:
	case <-c.done:
	}
}

// apply runs one event through Reduce and carries out the transition
func (c *Controller) apply(ev Event) State {
	if _, ok := ev.(ClearLog); ok {
		c.entries.Clear()
		log.Info().Msg("Session log cleared")
		for _, o := range c.snapshotObservers() {
			o.OnLogCleared()
		}
		return c.State()
	}

	c.mu.RLock()
	prev := c.state
	c.mu.RUnlock()

	t := Reduce(prev, ev)
	if !t.Changed(prev) {
		log.Debug().Str("event", ev.eventName()).Msg("Event ignored in current state")
		return prev
	}

	c.mu.Lock()
	c.state = t.State
	c.mu.Unlock()

	observers := c.snapshotObservers()

	for _, line := range t.Lines {
		entry := c.entries.Append(line.Level, line.Message, nil)
		for _, o := range observers {
			o.OnLog(entry)
		}
	}

	c.reconcile(t.State)

	if t.State != prev {
		log.Debug().
			Str("event", ev.eventName()).
			Str("mode", string(t.State.Mode)).
			Str("connection", string(t.State.Connection)).
			Int("motor", t.State.Motor).
			Uint64("generation", t.State.Generation).
			Msg("Session state changed")
		for _, o := range observers {
			o.OnState(t.State)
		}
	}

	for _, e := range t.Effects {
		c.run(e, observers)
	}

	return t.State
}

func (c *Controller) snapshotObservers() []Observer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Observer, len(c.observers))
	copy(out, c.observers)
	return out
}

// reconcile binds the executor and the status poll to the new state.
// Any exit from Connected(remote) tears the poll down.
func (c *Controller) reconcile(s State) {
	switch {
	case s.Path == PathNone:
		c.exec = nil
	case c.exec == nil || c.execGen != s.Generation:
		if c.factory != nil {
			c.exec = c.factory(s.Path, s.Address)
		}
		c.execGen = s.Generation
	}

	if !s.Polling() {
		c.stopPoll()
		return
	}
	if c.poll != nil && c.poll.gen == s.Generation {
		return
	}

	c.stopPoll()
	src, ok := c.exec.(StatusSource)
	if !ok || c.pollInterval <= 0 {
		return
	}
	c.startPoll(s.Generation, src)
}

func (c *Controller) startPoll(gen uint64, src StatusSource) {
	ctx, cancel := context.WithCancel(c.runCtx)
	c.poll = &pollTask{gen: gen, cancel: cancel}
	c.activePolls.Add(1)

	log.Debug().Uint64("generation", gen).Dur("interval", c.pollInterval).Msg("Status poll started")

	go func() {
		defer c.activePolls.Add(-1)

		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				motor, err := src.Status(ctx)
				if ctx.Err() != nil {
					return
				}
				if err != nil {
					log.Debug().Err(err).Msg("Status check failed")
					c.Post(PollFailed{Generation: gen, Err: err})
					continue
				}
				c.Post(StatusPolled{Generation: gen, Motor: motor})
			}
		}
	}()
}

func (c *Controller) stopPoll() {
	if c.poll == nil {
		return
	}
	c.poll.cancel()
	log.Debug().Uint64("generation", c.poll.gen).Msg("Status poll stopped")
	c.poll = nil
}

// run starts one effect. Device requests run on their own goroutine and
// report back through the inbox.
func (c *Controller) run(e Effect, observers []Observer) {
	switch e := e.(type) {
	case Notify:
		n := models.Notification{ID: uuid.New(), CreatedAt: c.now(), Message: e.Message}
		log.Warn().Str("message", e.Message).Msg("Operator notification")
		for _, o := range observers {
			o.OnNotify(n)
		}

	case RunConnect:
		exec := c.exec
		c.goRequest(func(ctx context.Context) Event {
			if exec == nil {
				return ConnectFailed{Generation: e.Generation, Err: errNoExecutor}
			}
			motor, err := exec.Connect(ctx)
			if err != nil {
				log.Warn().Err(err).Str("address", e.Address).Msg("Connection to device failed")
				return ConnectFailed{Generation: e.Generation, Err: err}
			}
			return ConnectSucceeded{Generation: e.Generation, Motor: motor}
		})

	case RunActivate:
		exec := c.exec
		c.goRequest(func(ctx context.Context) Event {
			if exec == nil {
				return ActivationFailed{Generation: e.Generation, Motor: e.Motor, Err: errNoExecutor}
			}
			if err := exec.Activate(ctx, e.Motor); err != nil {
				log.Error().Err(err).Int("motor", e.Motor).Str("path", string(e.Path)).Msg("Error activating motor")
				return ActivationFailed{Generation: e.Generation, Motor: e.Motor, Err: err}
			}
			return ActivationSucceeded{Generation: e.Generation, Motor: e.Motor}
		})

	case RunReset:
		exec := c.exec
		c.goRequest(func(ctx context.Context) Event {
			if exec == nil {
				return ResetFailed{Generation: e.Generation, Err: errNoExecutor}
			}
			if err := exec.Reset(ctx); err != nil {
				log.Error().Err(err).Str("path", string(e.Path)).Msg("Error resetting system")
				return ResetFailed{Generation: e.Generation, Err: err}
			}
			return ResetSucceeded{Generation: e.Generation}
		})
	}
}

func (c *Controller) goRequest(fn func(ctx context.Context) Event) {
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.Post(fn(c.runCtx))
	}()
}
