// Package drive runs the differential-drive control loop.
//
// One goroutine (Controller.Run) owns the pose, the previous wheel samples
// and the watchdog deadline. It serializes four periodic ticks (odometry,
// watchdog, safety poll, power poll) with asynchronous velocity commands and
// brake signals; every handler finishes before the next one starts.
//
// Motor calls are synchronous and bounded by Timing.MotorCallTimeout, so a
// slow wheel delays the loop by at most that budget per call.
package drive
