package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Motor channel kinds.
const (
	MotorKindRPC  = "rpc"
	MotorKindFake = "fake"
)

// WheelConfig describes one drive wheel and how to reach its motor.
type WheelConfig struct {
	Path       string      `yaml:"-"`
	DiameterMM float64     `yaml:"diameter_mm"`
	Reduction  float64     `yaml:"reduction"`
	ContextID  int         `yaml:"context_id"`
	Motor      MotorConfig `yaml:"motor"`
}

// MotorConfig locates the motor-driver node for a wheel.
type MotorConfig struct {
	Kind       string `yaml:"kind"`
	Endpoint   string `yaml:"endpoint"`
	Node       string `yaml:"node"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	ErrorTable string `yaml:"error_table"`
}

// Diameter returns the wheel diameter in meters.
func (w WheelConfig) Diameter() float64 {
	return w.DiameterMM / 1000.0
}

// Timeout returns the per-request motor timeout.
func (m MotorConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

// LoadWheel reads and validates a wheel file.
func LoadWheel(path string) (WheelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WheelConfig{}, fmt.Errorf("failed to read wheel config %s: %w", path, err)
	}

	w := WheelConfig{
		Motor: MotorConfig{
			Kind:       MotorKindRPC,
			TimeoutMs:  100,
			ErrorTable: "generic",
		},
	}
	if err := yaml.Unmarshal(data, &w); err != nil {
		return WheelConfig{}, fmt.Errorf("failed to parse wheel config %s: %w", path, err)
	}
	w.Path = path

	if err := validateWheel(w); err != nil {
		return WheelConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

func validateWheel(w WheelConfig) error {
	if w.DiameterMM <= 0 {
		return fmt.Errorf("%w: diameter_mm must be > 0, got %v", ErrInvalidWheelConfig, w.DiameterMM)
	}
	if w.Reduction <= 0 {
		return fmt.Errorf("%w: reduction must be > 0, got %v", ErrInvalidWheelConfig, w.Reduction)
	}
	switch w.Motor.Kind {
	case MotorKindFake:
	case MotorKindRPC:
		if w.Motor.Endpoint == "" {
			return fmt.Errorf("%w: motor.endpoint is required for kind %q", ErrInvalidWheelConfig, w.Motor.Kind)
		}
		if w.Motor.Node == "" {
			return fmt.Errorf("%w: motor.node is required for kind %q", ErrInvalidWheelConfig, w.Motor.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown motor.kind %q", ErrInvalidWheelConfig, w.Motor.Kind)
	}
	if w.Motor.TimeoutMs <= 0 {
		return fmt.Errorf("%w: motor.timeout_ms must be > 0, got %d", ErrInvalidWheelConfig, w.Motor.TimeoutMs)
	}
	return nil
}
