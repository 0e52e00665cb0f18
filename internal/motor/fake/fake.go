// Package fake provides an in-memory motor channel for tests and dry runs.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ez-Support/swd-ros-controllers/internal/motor"
)

// Operation names used for error simulation and call counting.
const (
	OpReadPosition          = "ReadPosition"
	OpSetTargetVelocity     = "SetTargetVelocity"
	OpSafetyFunction        = "SafetyFunction"
	OpPowerState            = "PowerState"
	OpEnterOperationEnabled = "EnterOperationEnabled"
	OpSetHalt               = "SetHalt"
)

// Channel implements motor.Channel in memory. It is safe for concurrent use.
type Channel struct {
	name string

	mu         sync.Mutex
	position   int32
	targetRPM  int32
	halted     bool
	powerState motor.PowerState
	safety     map[motor.SafetyFunction]bool

	// Error simulation, keyed by operation name.
	errors map[string]string
	delay  time.Duration

	calls     map[string]int
	rpmWrites []int32
}

// New creates a fake channel in SwitchOnDisabled with no safety function active.
func New(name string) *Channel {
	return &Channel{
		name:       name,
		powerState: motor.SwitchOnDisabled,
		safety:     make(map[motor.SafetyFunction]bool),
		errors:     make(map[string]string),
		calls:      make(map[string]int),
	}
}

// Name returns the wheel name.
func (c *Channel) Name() string {
	return c.name
}

// ReadPosition returns the simulated encoder position.
func (c *Channel) ReadPosition(ctx context.Context) (int32, error) {
	if err := c.enter(ctx, OpReadPosition); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position, nil
}

// SetTargetVelocity records the setpoint.
func (c *Channel) SetTargetVelocity(ctx context.Context, rpm int32) error {
	if err := c.enter(ctx, OpSetTargetVelocity); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetRPM = rpm
	c.rpmWrites = append(c.rpmWrites, rpm)
	return nil
}

// SafetyFunction reports the simulated safety function state.
func (c *Channel) SafetyFunction(ctx context.Context, fn motor.SafetyFunction) (bool, error) {
	if err := c.enter(ctx, OpSafetyFunction); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.safety[fn], nil
}

// PowerState returns the simulated power state.
func (c *Channel) PowerState(ctx context.Context) (motor.PowerState, error) {
	if err := c.enter(ctx, OpPowerState); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.powerState, nil
}

// EnterOperationEnabled moves the channel straight to OperationEnabled.
func (c *Channel) EnterOperationEnabled(ctx context.Context) error {
	if err := c.enter(ctx, OpEnterOperationEnabled); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.powerState = motor.OperationEnabled
	return nil
}

// SetHalt records the halt request.
func (c *Channel) SetHalt(ctx context.Context, halt bool) error {
	if err := c.enter(ctx, OpSetHalt); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halted = halt
	return nil
}

// enter counts the call, applies the simulated delay and returns any
// simulated error for op.
func (c *Channel) enter(ctx context.Context, op string) error {
	c.mu.Lock()
	c.calls[op]++
	delay := c.delay
	errType := c.errors[op]
	c.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if errType != "" {
		return simulatedError(errType)
	}
	return nil
}

func simulatedError(errType string) error {
	var raw error
	switch errType {
	case "INVALID_RANGE":
		raw = fmt.Errorf("INVALID_RANGE: simulated range error")
	case "BUSY":
		raw = fmt.Errorf("BUSY: simulated busy error")
	case "UNAVAILABLE":
		raw = fmt.Errorf("UNAVAILABLE: simulated unavailable error")
	default:
		raw = fmt.Errorf("INTERNAL: simulated internal error")
	}
	return motor.NormalizeDriverError(raw, nil)
}

// Helper methods for testing

// SetErrorSimulation makes op fail with errType until cleared.
func (c *Channel) SetErrorSimulation(op, errType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors[op] = errType
}

// DisableErrorSimulation clears all simulated errors.
func (c *Channel) DisableErrorSimulation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = make(map[string]string)
}

// SetDelay makes every call wait d before answering.
func (c *Channel) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// SetPosition sets the encoder position.
func (c *Channel) SetPosition(pos int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = pos
}

// Advance moves the encoder position by delta ticks.
func (c *Channel) Advance(delta int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position += delta
}

// SetSafety sets a safety function state.
func (c *Channel) SetSafety(fn motor.SafetyFunction, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.safety[fn] = active
}

// SetPowerState sets the power state.
func (c *Channel) SetPowerState(s motor.PowerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.powerState = s
}

// TargetRPM returns the last accepted setpoint.
func (c *Channel) TargetRPM() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetRPM
}

// RPMWrites returns every accepted setpoint in order.
func (c *Channel) RPMWrites() []int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int32, len(c.rpmWrites))
	copy(out, c.rpmWrites)
	return out
}

// Halted reports the last halt request.
func (c *Channel) Halted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

// Calls returns how many times op was invoked, including failed calls.
func (c *Channel) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}
