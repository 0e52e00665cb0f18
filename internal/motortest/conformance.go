// Package motortest provides a driver-agnostic conformance suite for motor channels.
//
// Every motor.Channel implementation (in-memory fake, JSON-RPC client) must pass
// RunConformance before the drive controller may use it.
package motortest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ez-Support/swd-ros-controllers/internal/motor"
)

// Capabilities describes what the harness can do to the channel under test.
type Capabilities struct {
	// SetPosition moves the encoder of ch. Nil skips the position round-trip.
	SetPosition func(ch motor.Channel, pos int32)

	// SetSafety forces a safety function on ch. Nil skips the safety round-trip.
	SetSafety func(ch motor.Channel, fn motor.SafetyFunction, active bool)

	// MakeUnavailable forces ch offline. Nil skips the failure mapping check.
	MakeUnavailable func(ch motor.Channel)

	// CallBudget bounds every call; zero means 500ms.
	CallBudget time.Duration
}

// RunConformance exercises the motor.Channel contract against fresh channels.
func RunConformance(t *testing.T, newChannel func(t *testing.T) motor.Channel, caps Capabilities) {
	t.Helper()

	budget := caps.CallBudget
	if budget <= 0 {
		budget = 500 * time.Millisecond
	}

	t.Run("Name", func(t *testing.T) {
		ch := newChannel(t)
		if ch.Name() == "" {
			t.Error("Name() returned empty string")
		}
	})

	t.Run("ReadPosition", func(t *testing.T) {
		ch := newChannel(t)
		ctx, cancel := context.WithTimeout(context.Background(), budget)
		defer cancel()

		if _, err := ch.ReadPosition(ctx); err != nil {
			t.Fatalf("ReadPosition failed: %v", err)
		}

		if caps.SetPosition == nil {
			return
		}
		for _, want := range []int32{0, 1234, -987654, 2147483647} {
			caps.SetPosition(ch, want)
			got, err := ch.ReadPosition(ctx)
			if err != nil {
				t.Fatalf("ReadPosition failed: %v", err)
			}
			if got != want {
				t.Errorf("ReadPosition() = %d, want %d", got, want)
			}
		}
	})

	t.Run("SetTargetVelocity", func(t *testing.T) {
		ch := newChannel(t)
		ctx, cancel := context.WithTimeout(context.Background(), budget)
		defer cancel()

		for _, rpm := range []int32{0, 95, -95, 3000, -3000, 0} {
			if err := ch.SetTargetVelocity(ctx, rpm); err != nil {
				t.Errorf("SetTargetVelocity(%d) failed: %v", rpm, err)
			}
		}
	})

	t.Run("SafetyFunction", func(t *testing.T) {
		ch := newChannel(t)
		ctx, cancel := context.WithTimeout(context.Background(), budget)
		defer cancel()

		fns := []motor.SafetyFunction{
			motor.SafeTorqueOff,
			motor.SafeDirectionPositive,
			motor.SafeDirectionNegative,
			motor.SafeLimitedSpeed,
		}
		for _, fn := range fns {
			if _, err := ch.SafetyFunction(ctx, fn); err != nil {
				t.Errorf("SafetyFunction(%s) failed: %v", fn, err)
			}
		}

		if caps.SetSafety == nil {
			return
		}
		for _, fn := range fns {
			for _, want := range []bool{true, false} {
				caps.SetSafety(ch, fn, want)
				got, err := ch.SafetyFunction(ctx, fn)
				if err != nil {
					t.Fatalf("SafetyFunction(%s) failed: %v", fn, err)
				}
				if got != want {
					t.Errorf("SafetyFunction(%s) = %v, want %v", fn, got, want)
				}
			}
		}
	})

	t.Run("EnterOperationEnabled", func(t *testing.T) {
		ch := newChannel(t)
		ctx, cancel := context.WithTimeout(context.Background(), budget)
		defer cancel()

		if _, err := ch.PowerState(ctx); err != nil {
			t.Fatalf("PowerState failed: %v", err)
		}
		// Second request must be accepted as a no-op.
		for i := 0; i < 2; i++ {
			if err := ch.EnterOperationEnabled(ctx); err != nil {
				t.Fatalf("EnterOperationEnabled (call %d) failed: %v", i+1, err)
			}
		}
		state, err := ch.PowerState(ctx)
		if err != nil {
			t.Fatalf("PowerState failed: %v", err)
		}
		if state != motor.OperationEnabled {
			t.Errorf("PowerState() = %s, want %s", state, motor.OperationEnabled)
		}
	})

	t.Run("SetHalt", func(t *testing.T) {
		ch := newChannel(t)
		ctx, cancel := context.WithTimeout(context.Background(), budget)
		defer cancel()

		for _, halt := range []bool{true, true, false, false} {
			if err := ch.SetHalt(ctx, halt); err != nil {
				t.Errorf("SetHalt(%v) failed: %v", halt, err)
			}
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		ch := newChannel(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := map[string]func() error{
			"ReadPosition": func() error {
				_, err := ch.ReadPosition(ctx)
				return err
			},
			"SetTargetVelocity": func() error { return ch.SetTargetVelocity(ctx, 10) },
			"PowerState": func() error {
				_, err := ch.PowerState(ctx)
				return err
			},
			"SetHalt": func() error { return ch.SetHalt(ctx, true) },
		}
		for name, call := range calls {
			start := time.Now()
			err := call()
			if err == nil {
				t.Errorf("%s with cancelled context returned nil error", name)
			}
			if elapsed := time.Since(start); elapsed > budget {
				t.Errorf("%s took %v with cancelled context, budget %v", name, elapsed, budget)
			}
		}
	})

	t.Run("FailureMapping", func(t *testing.T) {
		if caps.MakeUnavailable == nil {
			t.Skip("harness cannot force the channel offline")
		}
		ch := newChannel(t)
		caps.MakeUnavailable(ch)

		ctx, cancel := context.WithTimeout(context.Background(), budget)
		defer cancel()

		_, err := ch.ReadPosition(ctx)
		if err == nil {
			t.Fatal("ReadPosition on unavailable channel returned nil error")
		}
		if !errors.Is(err, motor.ErrUnavailable) {
			t.Errorf("ReadPosition error = %v, want %v", err, motor.ErrUnavailable)
		}
		if code := motor.Code(err); code != "UNAVAILABLE" {
			t.Errorf("Code(%v) = %q, want UNAVAILABLE", err, code)
		}
	})
}

// MustReadPosition is a test helper that fails t on error.
func MustReadPosition(t *testing.T, ch motor.Channel) int32 {
	t.Helper()
	pos, err := ch.ReadPosition(context.Background())
	if err != nil {
		t.Fatalf("ReadPosition(%s): %v", ch.Name(), err)
	}
	return pos
}
