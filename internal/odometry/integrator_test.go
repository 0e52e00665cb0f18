package odometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func TestStep_EqualDeltasTranslateAlongHeading(t *testing.T) {
	tests := []struct {
		name    string
		heading float64
		delta   int32
	}{
		{"forward_at_zero", 0, 100},
		{"backward_at_zero", 0, -250},
		{"forward_at_quarter_turn", math.Pi / 2, 100},
		{"forward_at_pi", math.Pi, 40},
		{"forward_at_negative_heading", -2.0, 75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewIntegrator(0.5, 1, 50)
			in.Seed(1000, 2000)
			in.Reset(Pose{X: 1, Y: 2, Theta: tt.heading})

			pose, twist := in.Step(1000+tt.delta, 2000+tt.delta)

			d := float64(tt.delta) / 1000.0
			assert.InDelta(t, 1+d*math.Cos(tt.heading), pose.X, eps)
			assert.InDelta(t, 2+d*math.Sin(tt.heading), pose.Y, eps)
			assert.InDelta(t, NormalizeAngle(tt.heading), pose.Theta, eps)
			assert.InDelta(t, 0, twist.Angular, eps)
			assert.InDelta(t, d*50, twist.Linear, eps)
		})
	}
}

func TestStep_OppositeDeltasRotateInPlace(t *testing.T) {
	for _, sign := range []int{1, -1} {
		in := NewIntegrator(0.5, sign, 50)
		in.Seed(0, 0)

		pose, twist := in.Step(-30, 30)

		assert.InDelta(t, 0, pose.X, eps)
		assert.InDelta(t, 0, pose.Y, eps)
		want := float64(sign) * 2 * 0.03 / 0.5
		assert.InDelta(t, want, pose.Theta, eps)
		assert.InDelta(t, 0, twist.Linear, eps)
		assert.InDelta(t, want*50, twist.Angular, eps)
	}
}

func TestStep_EndToEndRotation(t *testing.T) {
	// baseline 0.5 m, right reference, left -0.1 m, right +0.1 m
	in := NewIntegrator(0.5, 1, 50)
	in.Seed(0, 0)

	pose, _ := in.Step(-100, 100)

	assert.InDelta(t, 0, pose.X, eps)
	assert.InDelta(t, 0, pose.Y, eps)
	assert.InDelta(t, 0.4, pose.Theta, eps)
}

func TestStep_UsesPreUpdateHeading(t *testing.T) {
	in := NewIntegrator(0.5, 1, 50)
	in.Seed(0, 0)

	// Left 0.1 m, right 0.3 m: dCenter 0.2, dTheta 0.4.
	pose, _ := in.Step(100, 300)

	assert.InDelta(t, 0.2, pose.X, eps, "translation must use heading before the step")
	assert.InDelta(t, 0, pose.Y, eps)
	assert.InDelta(t, 0.4, pose.Theta, eps)
}

func TestStep_ThetaStaysNormalized(t *testing.T) {
	in := NewIntegrator(0.3, 1, 20)
	in.Seed(0, 0)

	left, right := int32(0), int32(0)
	for i := 0; i < 500; i++ {
		left -= 170
		right += 170
		pose, _ := in.Step(left, right)
		require.True(t, pose.Theta > -math.Pi && pose.Theta <= math.Pi,
			"step %d: theta %v out of (-pi, pi]", i, pose.Theta)
	}

	for i := 0; i < 500; i++ {
		left += 330
		right -= 330
		pose, _ := in.Step(left, right)
		require.True(t, pose.Theta > -math.Pi && pose.Theta <= math.Pi,
			"reverse step %d: theta %v out of (-pi, pi]", i, pose.Theta)
	}
}

func TestStep_StoresSamplesEveryStep(t *testing.T) {
	in := NewIntegrator(0.5, 1, 50)
	in.Seed(10, 10)

	in.Step(20, 20)
	pose, _ := in.Step(20, 20)

	assert.InDelta(t, 0.01, pose.X, eps, "second step with unchanged samples must not move")
}

func TestStep_CounterRollover(t *testing.T) {
	in := NewIntegrator(0.5, 1, 50)
	in.Seed(math.MaxInt32-5, math.MaxInt32-5)

	pose, _ := in.Step(math.MinInt32+4, math.MinInt32+4)

	assert.InDelta(t, 0.010, pose.X, eps)
}

func TestSeed(t *testing.T) {
	in := NewIntegrator(0.5, 1, 50)
	assert.False(t, in.Seeded())

	in.Seed(5000, -5000)
	assert.True(t, in.Seeded())
	assert.Equal(t, Pose{}, in.Pose())
}

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{math.Pi + 0.1, -math.Pi + 0.1},
		{-math.Pi - 0.1, math.Pi - 0.1},
		{2 * math.Pi, 0},
		{5 * math.Pi / 2, math.Pi / 2},
		{7.5, 7.5 - 2*math.Pi},
		{-100, -100 + 32*math.Pi},
	}

	for _, tt := range tests {
		got := NormalizeAngle(tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, "NormalizeAngle(%v)", tt.in)
		assert.True(t, got > -math.Pi && got <= math.Pi, "NormalizeAngle(%v) = %v", tt.in, got)
	}
}

func TestQuaternion(t *testing.T) {
	q := Quaternion(0)
	assert.Equal(t, Orientation{W: 1}, q)

	q = Quaternion(math.Pi / 2)
	assert.InDelta(t, 0, q.X, eps)
	assert.InDelta(t, 0, q.Y, eps)
	assert.InDelta(t, math.Sqrt2/2, q.Z, eps)
	assert.InDelta(t, math.Sqrt2/2, q.W, eps)

	q = Quaternion(-1.2)
	norm := q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W
	assert.InDelta(t, 1, norm, eps)
}
