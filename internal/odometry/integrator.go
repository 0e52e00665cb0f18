package odometry

import (
	"math"
)

// TicksPerMeter converts drive encoder ticks (mm) to metres.
const TicksPerMeter = 1000.0

// Pose is the robot pose in the odometry frame.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Point is a position in the odometry frame. Z is always zero for a planar base.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Position returns the pose translation.
func (p Pose) Position() Point {
	return Point{X: p.X, Y: p.Y}
}

// Twist is the velocity estimate derived from the last step.
type Twist struct {
	Linear  float64 `json:"linearX"`
	Angular float64 `json:"angularZ"`
}

// Orientation is a unit quaternion.
type Orientation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Integrator owns the running pose and the previous wheel samples.
// It is not safe for concurrent use; the controller loop is its only writer.
type Integrator struct {
	baseline  float64
	refSign   float64
	frequency float64

	pose      Pose
	prevLeft  int32
	prevRight int32
	seeded    bool
}

// NewIntegrator creates an integrator at the origin.
// refSign is +1 when the right wheel is the reference wheel and -1 for the left.
func NewIntegrator(baseline float64, refSign int, frequency float64) *Integrator {
	return &Integrator{
		baseline:  baseline,
		refSign:   float64(refSign),
		frequency: frequency,
	}
}

// Seed sets the previous samples without integrating.
func (in *Integrator) Seed(left, right int32) {
	in.prevLeft = left
	in.prevRight = right
	in.seeded = true
}

// Seeded reports whether previous samples are known.
func (in *Integrator) Seeded() bool {
	return in.seeded
}

// Pose returns the current pose.
func (in *Integrator) Pose() Pose {
	return in.pose
}

// Reset moves the estimate back to the given pose, keeping the wheel samples.
func (in *Integrator) Reset(p Pose) {
	p.Theta = NormalizeAngle(p.Theta)
	in.pose = p
}

// Step integrates the displacement since the previous samples.
func (in *Integrator) Step(leftNow, rightNow int32) (Pose, Twist) {
	// int32 subtraction wraps, so a counter rollover still yields the small delta.
	dLeft := float64(leftNow-in.prevLeft) / TicksPerMeter
	dRight := float64(rightNow-in.prevRight) / TicksPerMeter

	dCenter := (dLeft + dRight) / 2.0
	dTheta := in.refSign * (dRight - dLeft) / in.baseline

	// Euler step on the pre-update heading.
	in.pose.X += dCenter * math.Cos(in.pose.Theta)
	in.pose.Y += dCenter * math.Sin(in.pose.Theta)
	in.pose.Theta = NormalizeAngle(in.pose.Theta + dTheta)

	// Nominal period, not measured elapsed time.
	twist := Twist{
		Linear:  dCenter * in.frequency,
		Angular: dTheta * in.frequency,
	}

	in.prevLeft = leftNow
	in.prevRight = rightNow
	in.seeded = true

	return in.pose, twist
}

// NormalizeAngle wraps an angle into (-π, π].
func NormalizeAngle(a float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		return a
	}
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// Quaternion returns the orientation for roll=0, pitch=0, yaw.
func Quaternion(yaw float64) Orientation {
	half := yaw / 2.0
	return Orientation{
		X: 0,
		Y: 0,
		Z: math.Sin(half),
		W: math.Cos(half),
	}
}
