package drive

import (
	"context"
	"time"

	"github.com/ez-Support/swd-ros-controllers/internal/kinematics"
	"github.com/ez-Support/swd-ros-controllers/internal/motor"
	"github.com/ez-Support/swd-ros-controllers/internal/odometry"
)

// Run drives the loop until ctx is done. On exit both wheels are commanded
// to zero velocity. Run may only be called once.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	odomTicker := time.NewTicker(c.timing.OdometryPeriod)
	defer odomTicker.Stop()
	safetyTicker := time.NewTicker(c.timing.SafetyPeriod)
	defer safetyTicker.Stop()
	powerTicker := time.NewTicker(c.timing.PowerPeriod)
	defer powerTicker.Stop()
	watchdogTimer := time.NewTimer(c.watchdog.Until(c.env.Now()))
	defer watchdogTimer.Stop()

	c.env.Logger.Infow("control loop started",
		"odometryPeriod", c.timing.OdometryPeriod,
		"safetyPeriod", c.timing.SafetyPeriod,
		"powerPeriod", c.timing.PowerPeriod)

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil

		case <-odomTicker.C:
			c.timed("odometry", func() { c.handleOdometry(ctx) })

		case <-watchdogTimer.C:
			// Events queued while the loop was busy were received before
			// the timer fired; they run first so a timely command wins.
			for n := len(c.events); n > 0; n-- {
				c.dispatch(ctx, <-c.events)
			}
			c.timed("watchdog", func() { c.handleWatchdog(ctx) })
			watchdogTimer.Reset(c.watchdog.Until(c.env.Now()))

		case <-safetyTicker.C:
			c.timed("safety", func() { c.handleSafety(ctx) })

		case <-powerTicker.C:
			c.timed("power", func() { c.handlePower(ctx) })

		case ev := <-c.events:
			if c.dispatch(ctx, ev) {
				watchdogTimer.Reset(c.watchdog.Until(c.env.Now()))
			}
		}
	}
}

// dispatch runs one queued event and reports whether it re-armed the watchdog.
func (c *Controller) dispatch(ctx context.Context, ev loopEvent) bool {
	evCtx := WithActor(ctx, ev.actor)
	switch ev.kind {
	case evCommand:
		c.timed("command", func() { c.handleCommand(evCtx, ev) })
		return true
	case evBrake:
		c.timed("brake", func() { c.handleBrake(evCtx, ev.halt) })
	case evReset:
		c.timed("reset", func() { c.handleReset(evCtx, ev) })
	}
	return false
}

func (c *Controller) timed(handler string, fn func()) {
	start := time.Now()
	fn()
	c.env.Metrics.ObserveHandler(handler, time.Since(start))
}

// handleOdometry reads both wheels and publishes the integrated pose. A failed
// read skips the tick without touching the pose or the previous samples.
func (c *Controller) handleOdometry(ctx context.Context) {
	leftPos, err := c.readPosition(ctx, c.left)
	if err != nil {
		return
	}
	rightPos, err := c.readPosition(ctx, c.right)
	if err != nil {
		return
	}

	if !c.odom.Seeded() {
		c.odom.Seed(leftPos, rightPos)
		c.publishOdometry(c.odom.Pose(), odometry.Twist{})
		return
	}

	pose, twist := c.odom.Step(leftPos, rightPos)
	c.publishOdometry(pose, twist)
}

// handleReset moves the pose estimate and publishes it with a zero twist.
func (c *Controller) handleReset(ctx context.Context, ev loopEvent) {
	c.odom.Reset(ev.pose)
	pose := c.odom.Pose()
	c.publishOdometry(pose, odometry.Twist{})

	c.env.Logger.Infow("odometry reset", "x", pose.X, "y", pose.Y, "theta", pose.Theta)
	c.env.audit(ctx, "resetOdometry", "both", "SUCCESS", time.Since(ev.received))
	c.env.event(Event{
		Type:    EventReset,
		Message: "odometry reset",
		Data:    map[string]interface{}{"x": pose.X, "y": pose.Y, "theta": pose.Theta},
	})
}

func (c *Controller) publishOdometry(pose odometry.Pose, twist odometry.Twist) {
	msg := OdometryMessage{
		Timestamp:    c.env.Now(),
		FrameID:      c.params.OdomFrame,
		ChildFrameID: c.params.BaseLink,
		Pose:         pose,
		Position:     pose.Position(),
		Orientation:  odometry.Quaternion(pose.Theta),
		Twist:        twist,
	}

	c.updateSnapshot(func(s *Snapshot) { s.Odometry = &msg })

	if err := c.env.Publisher.PublishOdometry(msg); err != nil {
		c.env.Logger.Warnw("failed to publish odometry", "error", err)
		return
	}
	c.env.Metrics.OdometryPublished()
}

// handleWatchdog stops both wheels when no command arrived within the
// timeout. The stop is repeated every period while no command arrives; only
// the first stop after a command is logged and reported.
func (c *Controller) handleWatchdog(ctx context.Context) {
	if !c.watchdog.Expire(c.env.Now()) {
		return
	}

	start := time.Now()
	left, right := kinematics.MotorRPM(kinematics.Stop(c.params.ControlMode), c.geom)
	err := c.writeSetpoints(ctx, left, right)
	c.env.Metrics.WatchdogExpired()

	if c.stopped {
		c.env.Logger.Debugw("watchdog stop repeated")
		return
	}
	c.stopped = true

	result := "SUCCESS"
	if err != nil {
		result = motor.Code(err)
	}
	c.env.Logger.Infow("no velocity command received, wheels stopped", "timeout", c.watchdog.Timeout())
	c.env.audit(ctx, "watchdogStop", "both", result, time.Since(start))
	c.env.event(Event{
		Type:    EventWatchdog,
		Message: "no velocity command received, wheels stopped",
		Data:    map[string]interface{}{"timeoutMs": c.watchdog.Timeout().Milliseconds()},
	})
	c.updateSnapshot(func(s *Snapshot) {
		s.Stopped = true
		s.WatchdogStops++
	})
}

// handleCommand re-arms the watchdog and applies the command to both wheels.
func (c *Controller) handleCommand(ctx context.Context, ev loopEvent) {
	c.watchdog.Kick(c.env.Now())
	c.stopped = false

	left, right := kinematics.MotorRPM(ev.cmd, c.geom)
	err := c.writeSetpoints(ctx, left, right)
	c.env.Metrics.Command(ev.cmd.Mode.String())

	result := "SUCCESS"
	if err != nil {
		result = motor.Code(err)
	}
	c.env.audit(ctx, "setVelocity", "both", result, time.Since(ev.received))

	data := map[string]interface{}{
		"mode":     ev.cmd.Mode.String(),
		"leftRpm":  left,
		"rightRpm": right,
	}
	if ev.cmd.Mode == kinematics.ModeTwist {
		data["linear"] = ev.cmd.Linear
		data["angular"] = ev.cmd.Angular
	} else {
		data["left"] = ev.cmd.Left
		data["right"] = ev.cmd.Right
	}
	c.env.event(Event{Type: EventCommand, Message: "velocity command applied", Data: data})

	received := ev.received
	c.updateSnapshot(func(s *Snapshot) {
		s.Stopped = false
		s.LastCommand = &received
	})
}

// handleBrake engages or releases the drive halt on both wheels. The
// watchdog is not affected.
func (c *Controller) handleBrake(ctx context.Context, halt bool) {
	start := time.Now()
	result := "SUCCESS"

	for _, ch := range []motor.Channel{c.left, c.right} {
		callCtx, cancel := c.env.callCtx(ctx)
		err := ch.SetHalt(callCtx, halt)
		cancel()
		if err != nil {
			c.env.fault(ch, "SetHalt", err, "failed to set halt")
			result = motor.Code(err)
		}
	}

	c.env.Logger.Infow("soft brake", "halt", halt, "result", result)
	c.env.audit(ctx, "softBrake", "both", result, time.Since(start))
	c.env.event(Event{
		Type:    EventBrake,
		Message: "soft brake updated",
		Data:    map[string]interface{}{"halt": halt},
	})
	c.updateSnapshot(func(s *Snapshot) { s.Halted = halt })
}

func (c *Controller) handleSafety(ctx context.Context) {
	status := c.safety.Poll(ctx)

	c.updateSnapshot(func(s *Snapshot) { s.Safety = &status })

	if err := c.env.Publisher.PublishSafety(status); err != nil {
		c.env.Logger.Warnw("failed to publish safety status", "error", err)
	}
}

func (c *Controller) handlePower(ctx context.Context) {
	if _, err := c.power.Poll(ctx); err != nil {
		c.env.Logger.Debugw("power cycle incomplete", "error", err)
	}
}

// shutdown commands zero velocity with a fresh budget since ctx is already done.
func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*c.timing.MotorCallTimeout)
	defer cancel()

	left, right := kinematics.MotorRPM(kinematics.Stop(c.params.ControlMode), c.geom)
	if err := c.writeSetpoints(ctx, left, right); err != nil {
		c.env.Logger.Warnw("failed to stop wheels on shutdown", "error", err)
	}
	c.env.Logger.Infow("control loop stopped")
}
