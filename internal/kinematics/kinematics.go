// Package kinematics maps robot-frame velocity commands to wheel setpoints
// for a differential-drive base.
package kinematics

import (
	"fmt"
	"math"
)

// Mode selects which command shape a controller accepts.
type Mode int

const (
	// ModeTwist accepts linear/angular robot velocity.
	ModeTwist Mode = iota
	// ModeWheelSpeeds accepts left/right wheel angular velocity.
	ModeWheelSpeeds
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeTwist:
		return "Twist"
	case ModeWheelSpeeds:
		return "LeftRightSpeeds"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Command is a velocity request in one of the two shapes.
type Command struct {
	Mode Mode

	// Twist: m/s and rad/s.
	Linear  float64
	Angular float64

	// WheelSpeeds: rad/s at the wheel.
	Left  float64
	Right float64
}

// Twist builds a robot-frame command.
func Twist(linear, angular float64) Command {
	return Command{Mode: ModeTwist, Linear: linear, Angular: angular}
}

// WheelSpeeds builds a per-wheel command.
func WheelSpeeds(left, right float64) Command {
	return Command{Mode: ModeWheelSpeeds, Left: left, Right: right}
}

// Stop returns the zero command for the given mode.
func Stop(mode Mode) Command {
	return Command{Mode: mode}
}

// Geometry is the wheel geometry needed by the forward model.
type Geometry struct {
	Baseline      float64 // m
	LeftDiameter  float64 // m
	RightDiameter float64 // m
	LeftReduction float64
	// RightReduction is the motor/wheel gear ratio of the right drive.
	RightReduction float64
}

// Validate checks the geometry can be used for division.
func (g Geometry) Validate() error {
	if g.Baseline <= 0 {
		return fmt.Errorf("baseline must be > 0, got %v", g.Baseline)
	}
	if g.LeftDiameter <= 0 || g.RightDiameter <= 0 {
		return fmt.Errorf("wheel diameters must be > 0, got left=%v right=%v", g.LeftDiameter, g.RightDiameter)
	}
	if g.LeftReduction <= 0 || g.RightReduction <= 0 {
		return fmt.Errorf("reductions must be > 0, got left=%v right=%v", g.LeftReduction, g.RightReduction)
	}
	return nil
}

const radPerSecToRPM = 60.0 / (2.0 * math.Pi)

// WheelAngularVelocity returns the wheel angular velocity in rad/s.
func WheelAngularVelocity(cmd Command, g Geometry) (left, right float64) {
	switch cmd.Mode {
	case ModeWheelSpeeds:
		return cmd.Left, cmd.Right
	default:
		left = (2.0*cmd.Linear - cmd.Angular*g.Baseline) / g.LeftDiameter
		right = (2.0*cmd.Linear + cmd.Angular*g.Baseline) / g.RightDiameter
		return left, right
	}
}

// MotorRPM converts a command into motor-side rpm setpoints, truncated toward zero.
func MotorRPM(cmd Command, g Geometry) (left, right int32) {
	l, r := WheelAngularVelocity(cmd, g)
	return toRPM(l, g.LeftReduction), toRPM(r, g.RightReduction)
}

func toRPM(radPerSec, reduction float64) int32 {
	rpm := radPerSec * reduction * radPerSecToRPM
	switch {
	case math.IsNaN(rpm):
		return 0
	case rpm >= math.MaxInt32:
		return math.MaxInt32
	case rpm <= math.MinInt32:
		return math.MinInt32
	}
	return int32(rpm)
}
