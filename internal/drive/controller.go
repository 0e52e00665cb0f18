package drive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ez-Support/swd-ros-controllers/internal/config"
	"github.com/ez-Support/swd-ros-controllers/internal/kinematics"
	"github.com/ez-Support/swd-ros-controllers/internal/motor"
	"github.com/ez-Support/swd-ros-controllers/internal/odometry"
)

// BrakeRelease is the only soft-brake signal that releases the brake.
const BrakeRelease = "disable"

// BrakeEngaged maps a soft-brake signal to the halt request.
func BrakeEngaged(signal string) bool {
	return signal != BrakeRelease
}

type eventKind int

const (
	evCommand eventKind = iota
	evBrake
	evReset
)

type loopEvent struct {
	kind     eventKind
	cmd      kinematics.Command
	halt     bool
	pose     odometry.Pose
	actor    string
	received time.Time
}

// Snapshot is the last state published by the loop.
type Snapshot struct {
	Mode          string           `json:"mode"`
	Odometry      *OdometryMessage `json:"odometry,omitempty"`
	Safety        *SafetyStatus    `json:"safety,omitempty"`
	Halted        bool             `json:"halted"`
	Stopped       bool             `json:"stopped"`
	LastCommand   *time.Time       `json:"lastCommand,omitempty"`
	WatchdogStops int              `json:"watchdogStops"`
}

// Controller is the differential-drive control loop.
type Controller struct {
	params *config.Params
	timing config.Timing
	geom   kinematics.Geometry
	left   motor.Channel
	right  motor.Channel
	env    *Env

	// Owned by the loop goroutine.
	odom     *odometry.Integrator
	watchdog *Watchdog
	safety   *SafetyAggregator
	power    *PowerSupervisor
	stopped  bool

	events  chan loopEvent
	done    chan struct{}
	started atomic.Bool

	mu   sync.RWMutex
	snap Snapshot
}

// New validates the parameters, reads the initial wheel positions and arms
// the watchdog. No timer runs until Run is called.
func New(ctx context.Context, params *config.Params, timing config.Timing, left, right motor.Channel, env Env) (*Controller, error) {
	if params == nil {
		return nil, errors.New("params cannot be nil")
	}
	if params.BaselineM <= 0 {
		return nil, fmt.Errorf("baseline_m = %v: %w", params.BaselineM, config.ErrInvalidBaseline)
	}
	if left == nil || right == nil {
		return nil, errors.New("both wheel channels are required")
	}

	geom := params.Geometry()
	if err := geom.Validate(); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	if err := config.ValidateTiming(timing); err != nil {
		return nil, fmt.Errorf("invalid timing: %w", err)
	}

	env.CallTimeout = timing.MotorCallTimeout
	env.withDefaults()

	c := &Controller{
		params:   params,
		timing:   timing,
		geom:     geom,
		left:     left,
		right:    right,
		env:      &env,
		odom:     odometry.NewIntegrator(params.BaselineM, params.RefWheel.Sign(), params.PubFreqHz),
		watchdog: NewWatchdog(timing.WatchdogTimeout, env.Now()),
		events:   make(chan loopEvent, timing.CommandQueueSize),
		done:     make(chan struct{}),
		stopped:  true,
	}
	c.safety = NewSafetyAggregator(left, right, params.RefWheel, c.env)
	c.power = NewPowerSupervisor(left, right, c.env)
	c.snap = Snapshot{Mode: params.ControlMode.String(), Stopped: true}

	leftPos, leftErr := c.readPosition(ctx, left)
	rightPos, rightErr := c.readPosition(ctx, right)
	if leftErr == nil && rightErr == nil {
		c.odom.Seed(leftPos, rightPos)
	} else {
		c.env.Logger.Warnw("initial wheel position unavailable, odometry starts on first successful read")
	}

	c.env.Logger.Infow("controller configured",
		"mode", params.ControlMode.String(),
		"refWheel", params.RefWheel.String(),
		"baseline", params.BaselineM,
		"pubFreqHz", params.PubFreqHz,
		"watchdog", timing.WatchdogTimeout)

	return c, nil
}

// Mode returns the accepted command shape.
func (c *Controller) Mode() kinematics.Mode {
	return c.params.ControlMode
}

// SubmitTwist queues a robot-frame velocity command (m/s, rad/s).
func (c *Controller) SubmitTwist(ctx context.Context, linear, angular float64) error {
	if c.params.ControlMode != kinematics.ModeTwist {
		return fmt.Errorf("twist command in %s mode: %w", c.params.ControlMode, ErrWrongCommandMode)
	}
	if !finite(linear, angular) {
		return ErrInvalidCommand
	}
	return c.enqueue(ctx, loopEvent{kind: evCommand, cmd: kinematics.Twist(linear, angular)})
}

// SubmitWheelSpeeds queues a per-wheel velocity command (rad/s).
func (c *Controller) SubmitWheelSpeeds(ctx context.Context, left, right float64) error {
	if c.params.ControlMode != kinematics.ModeWheelSpeeds {
		return fmt.Errorf("wheel speed command in %s mode: %w", c.params.ControlMode, ErrWrongCommandMode)
	}
	if !finite(left, right) {
		return ErrInvalidCommand
	}
	return c.enqueue(ctx, loopEvent{kind: evCommand, cmd: kinematics.WheelSpeeds(left, right)})
}

// SubmitBrake queues a soft-brake signal: "disable" releases, anything else engages.
func (c *Controller) SubmitBrake(ctx context.Context, signal string) error {
	return c.enqueue(ctx, loopEvent{kind: evBrake, halt: BrakeEngaged(signal)})
}

// ResetOdometry queues a jump of the pose estimate to pose. Wheel samples
// are kept, so the next tick integrates from the new pose.
func (c *Controller) ResetOdometry(ctx context.Context, pose odometry.Pose) error {
	if !finite(pose.X, pose.Y, pose.Theta) {
		return ErrInvalidCommand
	}
	return c.enqueue(ctx, loopEvent{kind: evReset, pose: pose})
}

func (c *Controller) enqueue(ctx context.Context, ev loopEvent) error {
	ev.received = time.Now()
	ev.actor = ActorFromContext(ctx)

	select {
	case <-c.done:
		return ErrStopped
	default:
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the last published state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.snap
	if s.Odometry != nil {
		odom := *s.Odometry
		s.Odometry = &odom
	}
	if s.Safety != nil {
		safety := *s.Safety
		s.Safety = &safety
	}
	if s.LastCommand != nil {
		t := *s.LastCommand
		s.LastCommand = &t
	}
	return s
}

func (c *Controller) updateSnapshot(fn func(s *Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.snap)
}

func (c *Controller) readPosition(ctx context.Context, ch motor.Channel) (int32, error) {
	callCtx, cancel := c.env.callCtx(ctx)
	defer cancel()

	pos, err := ch.ReadPosition(callCtx)
	if err != nil {
		c.env.fault(ch, "ReadPosition", err, "failed to read wheel position")
		return 0, err
	}
	return pos, nil
}

// writeSetpoints sends both setpoints; a failure on one wheel does not skip the other.
func (c *Controller) writeSetpoints(ctx context.Context, left, right int32) error {
	errs := []error{
		c.setVelocity(ctx, c.left, left),
		c.setVelocity(ctx, c.right, right),
	}
	return errors.Join(errs...)
}

func (c *Controller) setVelocity(ctx context.Context, ch motor.Channel, rpm int32) error {
	callCtx, cancel := c.env.callCtx(ctx)
	defer cancel()

	if err := ch.SetTargetVelocity(callCtx, rpm); err != nil {
		c.env.fault(ch, "SetTargetVelocity", err, "failed to set target velocity")
		return fmt.Errorf("%s set target velocity: %w", ch.Name(), err)
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
