package drive

import (
	"context"

	"github.com/ez-Support/swd-ros-controllers/internal/config"
	"github.com/ez-Support/swd-ros-controllers/internal/motor"
)

// SafetyAggregator combines both wheels' safety functions into one status.
type SafetyAggregator struct {
	left, right motor.Channel
	ref         config.RefWheel
	env         *Env
}

// NewSafetyAggregator creates an aggregator. ref decides which wheel reports
// SDI in the positive direction: with Right the left wheel is read for
// SDIP_1 and the right wheel for SDIN_1, Left swaps them.
func NewSafetyAggregator(left, right motor.Channel, ref config.RefWheel, env *Env) *SafetyAggregator {
	env.withDefaults()
	return &SafetyAggregator{left: left, right: right, ref: ref, env: env}
}

// Poll reads every safety function once and returns the OR-combined status.
// A failed read contributes false; nothing carries over between polls.
func (a *SafetyAggregator) Poll(ctx context.Context) SafetyStatus {
	leftSTO, leftErr := a.read(ctx, a.left, motor.SafeTorqueOff)
	rightSTO, rightErr := a.read(ctx, a.right, motor.SafeTorqueOff)
	if leftErr == nil && rightErr == nil && leftSTO != rightSTO {
		a.env.Logger.Warnw("STO inconsistent between wheels", "left", leftSTO, "right", rightSTO)
		a.env.Metrics.STOInconsistent()
	}

	pos, neg := a.left, a.right
	if a.ref == config.RefLeft {
		pos, neg = a.right, a.left
	}
	sdiPos, _ := a.read(ctx, pos, motor.SafeDirectionPositive)
	sdiNeg, _ := a.read(ctx, neg, motor.SafeDirectionNegative)

	leftSLS, _ := a.read(ctx, a.left, motor.SafeLimitedSpeed)
	rightSLS, _ := a.read(ctx, a.right, motor.SafeLimitedSpeed)

	return SafetyStatus{
		Timestamp:        a.env.Now(),
		SafeTorqueOff:    leftSTO || rightSTO,
		SafeDirectionPos: sdiPos || sdiNeg,
		SafeLimitedSpeed: leftSLS || rightSLS,
	}
}

func (a *SafetyAggregator) read(ctx context.Context, ch motor.Channel, fn motor.SafetyFunction) (bool, error) {
	callCtx, cancel := a.env.callCtx(ctx)
	defer cancel()

	active, err := ch.SafetyFunction(callCtx, fn)
	if err != nil {
		a.env.fault(ch, "SafetyFunction:"+fn.String(), err, "failed to read safety function")
		return false, err
	}
	return active, nil
}
