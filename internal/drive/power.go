package drive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ez-Support/swd-ros-controllers/internal/motor"
)

// PowerReport is the outcome of one power poll.
type PowerReport struct {
	Left      motor.PowerState
	Right     motor.PowerState
	Reenabled bool
}

// PowerSupervisor re-enables the power stages when both wheels are disabled.
type PowerSupervisor struct {
	left, right motor.Channel
	env         *Env
}

// NewPowerSupervisor creates a supervisor for the two wheels.
func NewPowerSupervisor(left, right motor.Channel, env *Env) *PowerSupervisor {
	env.withDefaults()
	return &PowerSupervisor{left: left, right: right, env: env}
}

// Poll reads both power states. If neither wheel is OperationEnabled it asks
// both to enter OperationEnabled. A failed read skips the cycle.
func (s *PowerSupervisor) Poll(ctx context.Context) (PowerReport, error) {
	var report PowerReport
	var err error

	if report.Left, err = s.state(ctx, s.left); err != nil {
		return report, err
	}
	if report.Right, err = s.state(ctx, s.right); err != nil {
		return report, err
	}

	if report.Left == motor.OperationEnabled || report.Right == motor.OperationEnabled {
		return report, nil
	}

	s.env.Logger.Infow("power stages disabled, entering OperationEnabled",
		"left", report.Left.String(), "right", report.Right.String())
	s.env.Metrics.PowerReenabled()
	report.Reenabled = true

	errs := []error{s.enable(ctx, s.left), s.enable(ctx, s.right)}

	s.env.event(Event{
		Type:    EventPower,
		Message: "enter OperationEnabled requested",
		Data: map[string]interface{}{
			"left":  report.Left.String(),
			"right": report.Right.String(),
		},
	})

	return report, errors.Join(errs...)
}

func (s *PowerSupervisor) state(ctx context.Context, ch motor.Channel) (motor.PowerState, error) {
	callCtx, cancel := s.env.callCtx(ctx)
	defer cancel()

	st, err := ch.PowerState(callCtx)
	if err != nil {
		s.env.fault(ch, "PowerState", err, "failed to read power state, skipping power cycle")
		return st, fmt.Errorf("%s power state: %w", ch.Name(), err)
	}
	return st, nil
}

func (s *PowerSupervisor) enable(ctx context.Context, ch motor.Channel) error {
	start := time.Now()
	callCtx, cancel := s.env.callCtx(ctx)
	defer cancel()

	err := ch.EnterOperationEnabled(callCtx)
	latency := time.Since(start)
	if err != nil {
		s.env.fault(ch, "EnterOperationEnabled", err, "failed to enter OperationEnabled")
		s.env.audit(ctx, "enterOperationEnabled", ch.Name(), motor.Code(err), latency)
		return fmt.Errorf("%s enter operation enabled: %w", ch.Name(), err)
	}
	s.env.audit(ctx, "enterOperationEnabled", ch.Name(), "SUCCESS", latency)
	return nil
}
