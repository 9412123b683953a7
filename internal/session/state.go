// Package session implements the petal controller session state machine.
//
// State is an immutable value. Reduce applies one Event to a State and
// returns the next State together with the log lines to record and the
// side effects to run. The Controller owns the only copy of the live State,
// applies events one at a time on a single goroutine, and feeds effect
// results back in as events.
package session

import (
	"github.com/petal-ejector/petal-controller/internal/models"
)

const (
	// MotorCount is the number of petal solenoids in one cycle
	MotorCount = 8

	// SimulationAddress never reaches the network; it selects test mode
	SimulationAddress = "1.1.1.1"
)

// Mode is the operating mode chosen by the operator
type Mode string

const (
	ModeUnselected Mode = ""
	ModeNetwork    Mode = "network"
	ModeKeyboard   Mode = "keyboard"
)

// ParseMode maps a mode name to a Mode
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeNetwork, ModeKeyboard:
		return Mode(s), true
	}
	return ModeUnselected, false
}

// ConnectionState is the connection lifecycle
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
)

// Path identifies the execution strategy bound to a connection
type Path string

const (
	PathNone       Path = ""
	PathRemote     Path = "remote"
	PathSimulation Path = "simulation"
	PathKeyboard   Path = "keyboard"
)

// Operation is the request currently in flight
type Operation string

const (
	OpNone     Operation = ""
	OpConnect  Operation = "connect"
	OpActivate Operation = "activate"
	OpReset    Operation = "reset"
)

// State is one immutable session snapshot. Values are copied, never shared.
type State struct {
	Mode           Mode
	Connection     ConnectionState
	Address        string
	Motor          int
	KeyboardActive bool
	Path           Path
	Pending        Operation

	// Generation changes on every connect, disconnect and keyboard toggle.
	// Results of requests issued under an older generation are dropped.
	Generation uint64
}

// Initial is the state at application start
func Initial() State {
	return State{
		Mode:       ModeUnselected,
		Connection: Disconnected,
	}
}

// IsConnected reports whether the session is connected on any path
func (s State) IsConnected() bool {
	return s.Connection == Connected
}

// CanActivate reports whether activateNext would do anything
func (s State) CanActivate() bool {
	return s.Connection == Connected && s.Motor < MotorCount
}

// CanReset reports whether reset would do anything
func (s State) CanReset() bool {
	return s.Connection == Connected && s.Motor == MotorCount
}

// Remaining is the number of petals still to drop
func (s State) Remaining() int {
	return MotorCount - s.Motor
}

// Polling reports whether the device status poll must be running.
// Only a live connection to a real device is polled.
func (s State) Polling() bool {
	return s.Connection == Connected &&
		s.Mode == ModeNetwork &&
		s.Path == PathRemote &&
		s.Address != SimulationAddress
}

// Snapshot converts the state to its wire form
func (s State) Snapshot() models.SessionSnapshot {
	return models.SessionSnapshot{
		Mode:           string(s.Mode),
		Connection:     string(s.Connection),
		Address:        s.Address,
		Simulation:     s.Path == PathSimulation,
		Path:           string(s.Path),
		CurrentMotor:   s.Motor,
		Remaining:      s.Remaining(),
		KeyboardActive: s.KeyboardActive,
		Pending:        string(s.Pending),
		Polling:        s.Polling(),
		CanActivate:    s.CanActivate(),
		CanReset:       s.CanReset(),
	}
}

// pathFor picks the execution strategy for a network connection
func pathFor(address string) Path {
	if address == SimulationAddress {
		return PathSimulation
	}
	return PathRemote
}

// clampMotor keeps a device-reported index inside [0, MotorCount]
func clampMotor(v int) int {
	if v < 0 {
		return 0
	}
	if v > MotorCount {
		return MotorCount
	}
	return v
}
