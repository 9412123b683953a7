package session

import (
	"fmt"
	"strings"

	"github.com/petal-ejector/petal-controller/internal/models"
)

// Reduce applies one event to a state. It is pure: the same state and
// event always produce the same transition.
func Reduce(s State, ev Event) Transition {
	t := &transition{state: s}

	switch e := ev.(type) {
	case SelectMode:
		t.selectMode(e.Mode)
	case BackToModeSelection:
		t.backToModeSelection()
	case Connect:
		t.connect(e.Address)
	case ToggleKeyboard:
		t.toggleKeyboard()
	case ActivateNext:
		t.activateNext()
	case Reset:
		t.reset()
	case KeyPress:
		t.keyPress(e.Key)
	case ConnectSucceeded:
		t.connectSucceeded(e)
	case ConnectFailed:
		t.connectFailed(e)
	case ActivationSucceeded:
		t.activationSucceeded(e)
	case ActivationFailed:
		t.activationFailed(e)
	case ResetSucceeded:
		t.resetSucceeded(e)
	case ResetFailed:
		t.resetFailed(e)
	case StatusPolled:
		t.statusPolled(e)
	case PollFailed:
		// never logged; the device is asked again on the next tick
	}

	return Transition{State: t.state, Lines: t.lines, Effects: t.effects}
}

// transition accumulates the result of one Reduce call
type transition struct {
	state   State
	lines   []Line
	effects []Effect
}

func (t *transition) info(format string, args ...interface{}) {
	t.lines = append(t.lines, Line{Level: models.EventLevelInfo, Message: fmt.Sprintf(format, args...)})
}

func (t *transition) warn(format string, args ...interface{}) {
	t.lines = append(t.lines, Line{Level: models.EventLevelWarning, Message: fmt.Sprintf(format, args...)})
}

func (t *transition) fail(format string, args ...interface{}) {
	t.lines = append(t.lines, Line{Level: models.EventLevelError, Message: fmt.Sprintf(format, args...)})
}

func (t *transition) emit(e Effect) {
	t.effects = append(t.effects, e)
}

// current reports whether a result belongs to the live generation
func (t *transition) current(gen uint64) bool {
	return gen == t.state.Generation
}

// ========== Mode selection ==========

func (t *transition) selectMode(m Mode) {
	if t.state.Mode != ModeUnselected {
		return
	}

	switch m {
	case ModeKeyboard:
		t.state.Mode = ModeKeyboard
		t.state.Connection = Disconnected
		t.info("Keyboard mode selected")
		t.info("This mode is for EMERGENCY USE when network control is unavailable")
		t.info("Activate Keyboard Mode to begin controlling petals")
	case ModeNetwork:
		t.state.Mode = ModeNetwork
		t.state.Connection = Disconnected
		t.info("Web controller mode selected")
		t.info("Enter the Raspberry Pi IP address to connect")
	}
}

func (t *transition) backToModeSelection() {
	if t.state.Mode == ModeUnselected {
		return
	}

	switch {
	case t.state.KeyboardActive:
		t.disarmKeyboard()
	case t.state.Connection == Connected:
		t.disconnect()
	case t.state.Connection == Connecting:
		t.info("Connection attempt to %s abandoned", t.state.Address)
		t.dropConnection()
	}

	t.state.Mode = ModeUnselected
	t.info("Please select a control mode to begin")
}

// ========== Connection ==========

func (t *transition) connect(address string) {
	if t.state.Mode != ModeNetwork {
		return
	}

	switch t.state.Connection {
	case Connected:
		t.disconnect()
		return
	case Connecting:
		return
	}

	address = strings.TrimSpace(address)
	if address == "" {
		t.emit(Notify{Message: "Please enter an IP address"})
		return
	}

	t.state.Address = address
	t.state.Connection = Connecting
	t.state.Path = pathFor(address)
	t.state.Pending = OpConnect
	t.state.Generation++
	t.info("Connecting to %s...", address)
	t.emit(RunConnect{Generation: t.state.Generation, Path: t.state.Path, Address: address})
}

func (t *transition) disconnect() {
	t.info("Disconnected from %s", t.state.Address)
	t.dropConnection()
}

// dropConnection leaves every connected state. Leaving Connected(remote)
// is what stops the status poll.
func (t *transition) dropConnection() {
	t.state.Connection = Disconnected
	t.state.Motor = 0
	t.state.Path = PathNone
	t.state.Pending = OpNone
	t.state.Generation++
}

func (t *transition) connectSucceeded(e ConnectSucceeded) {
	if !t.current(e.Generation) || t.state.Connection != Connecting {
		return
	}

	t.state.Connection = Connected
	t.state.Pending = OpNone

	if t.state.Path == PathSimulation {
		t.state.Motor = 0
		t.info("Connected to TEST MODE")
		t.warn("WARNING: No actual hardware control in test mode")
		t.info("Ready to simulate petal dropping")
		return
	}

	t.state.Motor = 0
	if e.Motor != nil {
		t.state.Motor = clampMotor(*e.Motor)
	}
	t.info("Connected to Raspberry Pi at %s", t.state.Address)
	t.info("Ready to drop petals")
}

func (t *transition) connectFailed(e ConnectFailed) {
	if !t.current(e.Generation) || t.state.Connection != Connecting {
		return
	}

	t.state.Connection = Disconnected
	t.state.Path = PathNone
	t.state.Pending = OpNone
	t.fail("ERROR: Failed to connect to %s", t.state.Address)
	t.info("Make sure the Raspberry Pi is running the petal controller app")
	t.emit(Notify{Message: "Failed to connect to " + t.state.Address})
}

// ========== Keyboard emergency mode ==========

func (t *transition) toggleKeyboard() {
	if t.state.Mode != ModeKeyboard {
		return
	}

	if t.state.KeyboardActive {
		t.disarmKeyboard()
		return
	}

	t.state.KeyboardActive = true
	t.state.Connection = Connected
	t.state.Motor = 0
	t.state.Path = PathKeyboard
	t.state.Pending = OpNone
	t.state.Generation++
	t.info("KEYBOARD MODE ACTIVATED")
	t.info("Press X or Space to drop the next petal")
	t.info("Press R to reset (only after all petals have dropped)")
}

func (t *transition) disarmKeyboard() {
	t.state.KeyboardActive = false
	t.dropConnection()
	t.info("Keyboard mode deactivated")
}

func (t *transition) keyPress(key string) {
	if t.state.Mode != ModeKeyboard || !t.state.KeyboardActive {
		return
	}

	switch strings.ToLower(key) {
	case "x", " ":
		t.activateNext()
	case "r":
		if t.state.Motor == MotorCount {
			t.reset()
		}
	}
}

// ========== Activation protocol ==========

func (t *transition) activateNext() {
	if !t.state.CanActivate() || t.state.Pending != OpNone {
		return
	}

	t.state.Pending = OpActivate
	t.info("Activating solenoid %d", t.state.Motor)
	t.emit(RunActivate{Generation: t.state.Generation, Path: t.state.Path, Motor: t.state.Motor})
}

func (t *transition) activationSucceeded(e ActivationSucceeded) {
	if !t.current(e.Generation) || t.state.Pending != OpActivate {
		return
	}
	t.state.Pending = OpNone

	switch t.state.Path {
	case PathKeyboard:
		t.info("LOCAL: Motor %d activated", e.Motor)
	case PathSimulation:
		t.info("SIMULATION: Motor %d activated", e.Motor)
	default:
		t.info("Motor %d activated successfully", e.Motor)
	}

	if t.state.Motor < MotorCount {
		t.state.Motor++
	}

	switch {
	case t.state.Motor < MotorCount:
		t.info("Ready for next petal. %d remaining.", t.state.Remaining())
	case t.state.Path == PathKeyboard:
		t.info("All petals dropped. Press R to reset.")
	default:
		t.info("All petals dropped. Ready for reset.")
	}
}

func (t *transition) activationFailed(e ActivationFailed) {
	if !t.current(e.Generation) || t.state.Pending != OpActivate {
		return
	}
	t.state.Pending = OpNone
	t.fail("ERROR: Failed to activate motor %d", e.Motor)
}

// ========== Reset protocol ==========

func (t *transition) reset() {
	if !t.state.CanReset() || t.state.Pending != OpNone {
		return
	}

	t.state.Pending = OpReset
	t.info("Resetting all petals...")
	t.emit(RunReset{Generation: t.state.Generation, Path: t.state.Path})
}

func (t *transition) resetSucceeded(e ResetSucceeded) {
	if !t.current(e.Generation) || t.state.Pending != OpReset {
		return
	}
	t.state.Pending = OpNone

	switch t.state.Path {
	case PathKeyboard:
		t.info("LOCAL: System reset complete")
	case PathSimulation:
		t.info("SIMULATION: System reset complete")
	default:
		t.info("System reset complete")
	}

	t.state.Motor = 0
	t.info("Ready to drop petals")
}

func (t *transition) resetFailed(e ResetFailed) {
	if !t.current(e.Generation) || t.state.Pending != OpReset {
		return
	}
	t.state.Pending = OpNone
	t.fail("ERROR: Failed to reset system")
}

// ========== Status poll ==========

func (t *transition) statusPolled(e StatusPolled) {
	if !t.current(e.Generation) || !t.state.Polling() || e.Motor == nil {
		return
	}

	motor := clampMotor(*e.Motor)
	if motor == t.state.Motor {
		return
	}

	t.state.Motor = motor
	t.info("Status update: %d petals remaining", t.state.Remaining())
}
