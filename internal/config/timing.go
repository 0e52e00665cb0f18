package config

import (
	"fmt"
	"time"
)

// Timing holds the control loop periods and motor call budget.
type Timing struct {
	// Odometry tick, 1/pub_freq_hz.
	OdometryPeriod time.Duration
	// Command-loss deadline, watchdog_receive_ms.
	WatchdogTimeout time.Duration
	SafetyPeriod    time.Duration
	PowerPeriod     time.Duration

	// Upper bound for every motor channel call.
	MotorCallTimeout time.Duration

	// Pending commands/brake signals accepted before Submit blocks.
	CommandQueueSize int
}

// DefaultTiming returns the baseline loop timing for the default parameters.
func DefaultTiming() Timing {
	return Timing{
		OdometryPeriod:   periodFor(DefaultPubFreqHz),
		WatchdogTimeout:  DefaultWatchdogReceive,
		SafetyPeriod:     200 * time.Millisecond,
		PowerPeriod:      1 * time.Second,
		MotorCallTimeout: 100 * time.Millisecond,
		CommandQueueSize: 16,
	}
}

// TimingFor derives the parameter-driven periods from p on top of base.
func TimingFor(p *Params, base Timing) Timing {
	t := base
	t.OdometryPeriod = periodFor(p.PubFreqHz)
	t.WatchdogTimeout = p.WatchdogReceive
	return t
}

func periodFor(hz float64) time.Duration {
	return time.Duration(float64(time.Second) / hz)
}

// ValidateTiming checks every period is usable by the loop.
func ValidateTiming(t Timing) error {
	checks := []struct {
		name string
		d    time.Duration
	}{
		{"odometry period", t.OdometryPeriod},
		{"watchdog timeout", t.WatchdogTimeout},
		{"safety period", t.SafetyPeriod},
		{"power period", t.PowerPeriod},
		{"motor call timeout", t.MotorCallTimeout},
	}
	for _, c := range checks {
		if c.d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", c.name, c.d)
		}
	}

	if t.CommandQueueSize < 1 {
		return fmt.Errorf("command queue size must be >= 1, got %d", t.CommandQueueSize)
	}

	// A motor call must not be able to swallow a whole safety period.
	if t.MotorCallTimeout > t.SafetyPeriod {
		return fmt.Errorf("motor call timeout %v exceeds safety period %v", t.MotorCallTimeout, t.SafetyPeriod)
	}

	return nil
}
