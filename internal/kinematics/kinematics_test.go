package kinematics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGeometry() Geometry {
	return Geometry{
		Baseline:       0.5,
		LeftDiameter:   0.2,
		RightDiameter:  0.2,
		LeftReduction:  1,
		RightReduction: 1,
	}
}

func TestMotorRPM_TwistStraight(t *testing.T) {
	l, r := WheelAngularVelocity(Twist(1.0, 0), testGeometry())
	assert.InDelta(t, 10.0, l, 1e-12)
	assert.InDelta(t, 10.0, r, 1e-12)

	left, right := MotorRPM(Twist(1.0, 0), testGeometry())
	assert.Equal(t, int32(95), left)
	assert.Equal(t, int32(95), right)
}

func TestMotorRPM_ZeroCommand(t *testing.T) {
	for _, mode := range []Mode{ModeTwist, ModeWheelSpeeds} {
		left, right := MotorRPM(Stop(mode), testGeometry())
		assert.Zero(t, left, mode.String())
		assert.Zero(t, right, mode.String())
	}
}

func TestMotorRPM_TruncatesTowardZero(t *testing.T) {
	g := testGeometry()

	// 10 rad/s = 95.49 rpm, -10 rad/s = -95.49 rpm
	left, right := MotorRPM(WheelSpeeds(10, -10), g)
	assert.Equal(t, int32(95), left)
	assert.Equal(t, int32(-95), right)
}

func TestMotorRPM_RotationSplitsWheels(t *testing.T) {
	// Pure rotation: left backwards, right forwards.
	l, r := WheelAngularVelocity(Twist(0, 1.0), testGeometry())
	assert.InDelta(t, -2.5, l, 1e-12)
	assert.InDelta(t, 2.5, r, 1e-12)
}

func TestMotorRPM_PerWheelReduction(t *testing.T) {
	g := testGeometry()
	g.LeftReduction = 10
	g.RightReduction = 20

	// 10 rad/s at the wheel is 95.49 rpm before the gearbox.
	left, right := MotorRPM(WheelSpeeds(10, 10), g)
	assert.Equal(t, int32(954), left)
	assert.Equal(t, int32(1909), right)

	left, right = MotorRPM(Twist(1.0, 0), g)
	assert.Equal(t, int32(954), left)
	assert.Equal(t, int32(1909), right)
}

func TestMotorRPM_Linear(t *testing.T) {
	g := testGeometry()
	g.LeftReduction = 14
	g.RightReduction = 14

	tests := []struct {
		a, b Command
	}{
		{Twist(0.3, 0.1), Twist(0.2, -0.4)},
		{Twist(-0.5, 0.7), Twist(0.5, 0.7)},
		{WheelSpeeds(1.5, -2.5), WheelSpeeds(0.25, 3)},
	}

	for _, tt := range tests {
		al, ar := WheelAngularVelocity(tt.a, g)
		bl, br := WheelAngularVelocity(tt.b, g)

		sum := tt.a
		sum.Linear += tt.b.Linear
		sum.Angular += tt.b.Angular
		sum.Left += tt.b.Left
		sum.Right += tt.b.Right
		sl, sr := WheelAngularVelocity(sum, g)

		assert.InDelta(t, al+bl, sl, 1e-9)
		assert.InDelta(t, ar+br, sr, 1e-9)

		scaled := tt.a
		scaled.Linear *= 3
		scaled.Angular *= 3
		scaled.Left *= 3
		scaled.Right *= 3
		kl, kr := WheelAngularVelocity(scaled, g)
		assert.InDelta(t, 3*al, kl, 1e-9)
		assert.InDelta(t, 3*ar, kr, 1e-9)
	}
}

func TestMotorRPM_Saturates(t *testing.T) {
	left, right := MotorRPM(WheelSpeeds(1e12, -1e12), testGeometry())
	assert.Equal(t, int32(math.MaxInt32), left)
	assert.Equal(t, int32(math.MinInt32), right)

	left, _ = MotorRPM(WheelSpeeds(math.NaN(), 0), testGeometry())
	assert.Zero(t, left)
}

func TestGeometryValidate(t *testing.T) {
	require.NoError(t, testGeometry().Validate())

	tests := []struct {
		name   string
		modify func(*Geometry)
	}{
		{"zero_baseline", func(g *Geometry) { g.Baseline = 0 }},
		{"negative_baseline", func(g *Geometry) { g.Baseline = -0.1 }},
		{"zero_left_diameter", func(g *Geometry) { g.LeftDiameter = 0 }},
		{"zero_right_reduction", func(g *Geometry) { g.RightReduction = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGeometry()
			tt.modify(&g)
			assert.Error(t, g.Validate())
		})
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "Twist", ModeTwist.String())
	assert.Equal(t, "LeftRightSpeeds", ModeWheelSpeeds.String())
	assert.Equal(t, "Mode(7)", Mode(7).String())
}
