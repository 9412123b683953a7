package session

import (
	"github.com/petal-ejector/petal-controller/internal/models"
)

// Event is an input to Reduce: an operator action or an effect result
type Event interface {
	eventName() string
}

// Operator actions

type SelectMode struct{ Mode Mode }
type BackToModeSelection struct{}

// Connect is the connect/disconnect toggle. Address is ignored when the
// session is already connected.
type Connect struct{ Address string }
type ToggleKeyboard struct{}
type ActivateNext struct{}
type Reset struct{}
type KeyPress struct{ Key string }

// ClearLog empties the session log. It never changes State.
type ClearLog struct{}

// Effect results. Each carries the generation it was issued under.

type ConnectSucceeded struct {
	Generation uint64
	Motor      *int
}
type ConnectFailed struct {
	Generation uint64
	Err        error
}
type ActivationSucceeded struct {
	Generation uint64
	Motor      int
}
type ActivationFailed struct {
	Generation uint64
	Motor      int
	Err        error
}
type ResetSucceeded struct{ Generation uint64 }
type ResetFailed struct {
	Generation uint64
	Err        error
}
type StatusPolled struct {
	Generation uint64
	Motor      *int
}
type PollFailed struct {
	Generation uint64
	Err        error
}

func (SelectMode) eventName() string          { return "select_mode" }
func (BackToModeSelection) eventName() string { return "back_to_mode_selection" }
func (Connect) eventName() string             { return "connect" }
func (ToggleKeyboard) eventName() string      { return "toggle_keyboard" }
func (ActivateNext) eventName() string        { return "activate_next" }
func (Reset) eventName() string               { return "reset" }
func (KeyPress) eventName() string            { return "key_press" }
func (ClearLog) eventName() string            { return "clear_log" }
func (ConnectSucceeded) eventName() string    { return "connect_succeeded" }
func (ConnectFailed) eventName() string       { return "connect_failed" }
func (ActivationSucceeded) eventName() string { return "activation_succeeded" }
func (ActivationFailed) eventName() string    { return "activation_failed" }
func (ResetSucceeded) eventName() string      { return "reset_succeeded" }
func (ResetFailed) eventName() string         { return "reset_failed" }
func (StatusPolled) eventName() string        { return "status_polled" }
func (PollFailed) eventName() string          { return "poll_failed" }

// Effect is a side effect requested by Reduce and run by the Controller
type Effect interface {
	effectName() string
}

// RunConnect verifies the connection through the bound executor
type RunConnect struct {
	Generation uint64
	Path       Path
	Address    string
}

// RunActivate fires one motor through the bound executor
type RunActivate struct {
	Generation uint64
	Path       Path
	Motor      int
}

// RunReset resets the cycle through the bound executor
type RunReset struct {
	Generation uint64
	Path       Path
}

// Notify raises an interrupting notification to the operator
type Notify struct{ Message string }

func (RunConnect) effectName() string  { return "connect" }
func (RunActivate) effectName() string { return "activate" }
func (RunReset) effectName() string    { return "reset" }
func (Notify) effectName() string      { return "notify" }

// Line is a log message produced by a transition
type Line struct {
	Level   models.EventLevel
	Message string
}

// Transition is the outcome of applying one event
type Transition struct {
	State   State
	Lines   []Line
	Effects []Effect
}

// Changed reports whether the transition did anything observable
func (t Transition) Changed(prev State) bool {
	return t.State != prev || len(t.Lines) > 0 || len(t.Effects) > 0
}
