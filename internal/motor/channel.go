package motor

import (
	"context"
	"fmt"
)

// SafetyFunction identifies a drive safety sub-function.
type SafetyFunction int

const (
	// SafeTorqueOff removes motor torque.
	SafeTorqueOff SafetyFunction = iota
	// SafeDirectionPositive allows motion in the positive direction only.
	SafeDirectionPositive
	// SafeDirectionNegative allows motion in the negative direction only.
	SafeDirectionNegative
	// SafeLimitedSpeed enforces the configured speed limit.
	SafeLimitedSpeed
)

var safetyFunctionNames = map[SafetyFunction]string{
	SafeTorqueOff:         "STO",
	SafeDirectionPositive: "SDIP_1",
	SafeDirectionNegative: "SDIN_1",
	SafeLimitedSpeed:      "SLS_1",
}

// String returns the drive identifier of the safety function.
func (f SafetyFunction) String() string {
	if name, ok := safetyFunctionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("SafetyFunction(%d)", int(f))
}

// ParseSafetyFunction resolves a drive identifier.
func ParseSafetyFunction(s string) (SafetyFunction, error) {
	for f, name := range safetyFunctionNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown safety function %q: %w", s, ErrInvalidRange)
}

// PowerState is the CiA 402 power drive system state.
type PowerState int

const (
	NotReadyToSwitchOn PowerState = iota
	SwitchOnDisabled
	ReadyToSwitchOn
	SwitchedOn
	OperationEnabled
	QuickStopActive
	FaultReactionActive
	Fault
)

var powerStateNames = map[PowerState]string{
	NotReadyToSwitchOn:  "NOT_READY_TO_SWITCH_ON",
	SwitchOnDisabled:    "SWITCH_ON_DISABLED",
	ReadyToSwitchOn:     "READY_TO_SWITCH_ON",
	SwitchedOn:          "SWITCHED_ON",
	OperationEnabled:    "OPERATION_ENABLED",
	QuickStopActive:     "QUICK_STOP_ACTIVE",
	FaultReactionActive: "FAULT_REACTION_ACTIVE",
	Fault:               "FAULT",
}

func (s PowerState) String() string {
	if name, ok := powerStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("PowerState(%d)", int(s))
}

// ParsePowerState resolves a state name as reported by the drive.
func ParsePowerState(s string) (PowerState, error) {
	for st, name := range powerStateNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown power state %q: %w", s, ErrInternal)
}

// Channel is the southbound contract for one wheel drive.
type Channel interface {
	// Name identifies the wheel ("left", "right").
	Name() string

	// ReadPosition returns the wheel position in encoder ticks (1 tick = 1 mm).
	ReadPosition(ctx context.Context) (int32, error)

	// SetTargetVelocity sets the motor velocity setpoint in rpm.
	SetTargetVelocity(ctx context.Context, rpm int32) error

	// SafetyFunction reports whether the given safety function is commanded.
	SafetyFunction(ctx context.Context, fn SafetyFunction) (bool, error)

	// PowerState returns the current power drive system state.
	PowerState(ctx context.Context) (PowerState, error)

	// EnterOperationEnabled walks the state machine to OperationEnabled.
	// Calling it while already enabling is a no-op.
	EnterOperationEnabled(ctx context.Context) error

	// SetHalt engages (true) or releases (false) the drive halt.
	SetHalt(ctx context.Context, halt bool) error
}
