// Package odometry integrates wheel displacement into a planar pose estimate.
//
// Positions are read from the motor drives as encoder ticks where one tick is
// one millimetre of wheel travel. Integration is first order: each step moves
// the robot along the heading it had before the step. This is accurate while
// the rotation per step stays small, which holds at the publish rates the
// controller runs at.
package odometry
