package drive

import (
	"errors"
	"time"

	"github.com/ez-Support/swd-ros-controllers/internal/odometry"
)

// OdometryMessage is the pose/twist estimate published every odometry tick.
// The same pose doubles as the FrameID -> ChildFrameID transform.
type OdometryMessage struct {
	Timestamp    time.Time            `json:"timestamp"`
	FrameID      string               `json:"frameId"`
	ChildFrameID string               `json:"childFrameId"`
	Pose         odometry.Pose        `json:"pose"`
	Position     odometry.Point       `json:"position"`
	Orientation  odometry.Orientation `json:"orientation"`
	Twist        odometry.Twist       `json:"twist"`
}

// SafetyStatus is the robot-level combination of both wheels' safety functions.
type SafetyStatus struct {
	Timestamp        time.Time `json:"timestamp"`
	SafeTorqueOff    bool      `json:"safe_torque_off"`
	SafeDirectionPos bool      `json:"safe_direction_indication_pos"`
	SafeLimitedSpeed bool      `json:"safe_limit_speed"`
}

// Event types emitted alongside odometry and safety.
const (
	EventCommand  = "command"
	EventBrake    = "brake"
	EventWatchdog = "watchdog"
	EventPower    = "power"
	EventReset    = "reset"
	EventFault    = "fault"
)

// Event reports a discrete controller action or motor fault.
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Wheel     string                 `json:"wheel,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Publisher receives everything the loop produces. Implementations must not
// block the loop; they are called from the loop goroutine.
type Publisher interface {
	PublishOdometry(msg OdometryMessage) error
	PublishSafety(status SafetyStatus) error
	PublishEvent(ev Event) error
}

// FanOut publishes to every publisher in order and joins their errors.
type FanOut []Publisher

func (f FanOut) PublishOdometry(msg OdometryMessage) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishOdometry(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f FanOut) PublishSafety(status SafetyStatus) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishSafety(status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f FanOut) PublishEvent(ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishEvent(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type nopPublisher struct{}

func (nopPublisher) PublishOdometry(OdometryMessage) error { return nil }
func (nopPublisher) PublishSafety(SafetyStatus) error      { return nil }
func (nopPublisher) PublishEvent(Event) error              { return nil }
