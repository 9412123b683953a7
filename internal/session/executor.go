package session

import (
	"context"
	"time"

	"github.com/petal-ejector/petal-controller/internal/device"
)

// Executor performs the device side of connect, activate and reset for one
// execution path. One executor is bound per connection generation.
type Executor interface {
	// Connect verifies the device and returns its motor index, if known
	Connect(ctx context.Context) (*int, error)
	Activate(ctx context.Context, motor int) error
	Reset(ctx context.Context) error
}

// StatusSource is implemented by executors whose device can be polled
type StatusSource interface {
	Status(ctx context.Context) (*int, error)
}

// ExecutorFactory builds the executor for a path and address
type ExecutorFactory func(path Path, address string) Executor

// Delays are the artificial latencies of a simulated path
type Delays struct {
	Connect  time.Duration
	Activate time.Duration
	Reset    time.Duration
}

// NewExecutorFactory returns the production factory. newClient is called
// once per remote connection.
func NewExecutorFactory(newClient func() *device.Client, simulation, keyboard Delays) ExecutorFactory {
	return func(path Path, address string) Executor {
		switch path {
		case PathKeyboard:
			return &simulator{delays: keyboard}
		case PathSimulation:
			return &simulator{delays: simulation}
		case PathRemote:
			c := newClient()
			c.Configure(address)
			return &remote{client: c}
		}
		return nil
	}
}

// remote drives a real ejector through the device API
type remote struct {
	client *device.Client
}

func (r *remote) Connect(ctx context.Context) (*int, error) {
	return r.Status(ctx)
}

func (r *remote) Status(ctx context.Context) (*int, error) {
	status, err := r.client.GetStatus(ctx)
	if err != nil {
		return nil, err
	}
	return status.CurrentMotor, nil
}

func (r *remote) Activate(ctx context.Context, motor int) error {
	return r.client.ActivateMotor(ctx, motor)
}

func (r *remote) Reset(ctx context.Context) error {
	return r.client.ResetSystem(ctx)
}

// simulator acknowledges every request after a fixed delay. It backs both
// the 1.1.1.1 test mode and the local keyboard mode.
type simulator struct {
	delays Delays
}

func (s *simulator) Connect(ctx context.Context) (*int, error) {
	return nil, wait(ctx, s.delays.Connect)
}

func (s *simulator) Activate(ctx context.Context, motor int) error {
	return wait(ctx, s.delays.Activate)
}

func (s *simulator) Reset(ctx context.Context) error {
	return wait(ctx, s.delays.Reset)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
