package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ez-Support/swd-ros-controllers/internal/kinematics"
)

// Defaults for the node parameters.
const (
	DefaultPubFreqHz       = 50.0
	DefaultWatchdogReceive = 1000 * time.Millisecond
	DefaultBaseLink        = "base_link"
	DefaultOdomFrame       = "odom"
	DefaultRefWheel        = RefRight
	DefaultControlMode     = kinematics.ModeTwist
)

// Sentinel errors for fatal configuration problems.
var (
	ErrInvalidBaseline    = errors.New("baseline_m must be set and > 0")
	ErrMissingWheelConfig = errors.New("wheel config file not set")
	ErrInvalidWheelConfig = errors.New("invalid wheel config")
)

// RefWheel selects which wheel defines the positive rotation sense.
type RefWheel int

const (
	RefLeft  RefWheel = -1
	RefRight RefWheel = 1
)

// Sign returns -1 for Left and +1 for Right.
func (r RefWheel) Sign() int {
	if r == RefLeft {
		return -1
	}
	return 1
}

func (r RefWheel) String() string {
	switch r {
	case RefLeft:
		return "Left"
	case RefRight:
		return "Right"
	default:
		return fmt.Sprintf("RefWheel(%d)", int(r))
	}
}

// ParseRefWheel accepts "Left" or "Right" (case-insensitive).
func ParseRefWheel(s string) (RefWheel, bool) {
	switch {
	case strings.EqualFold(s, "Left"):
		return RefLeft, true
	case strings.EqualFold(s, "Right"):
		return RefRight, true
	default:
		return 0, false
	}
}

// ParseControlMode accepts "Twist" or "LeftRightSpeeds" (case-insensitive).
func ParseControlMode(s string) (kinematics.Mode, bool) {
	switch {
	case strings.EqualFold(s, kinematics.ModeTwist.String()):
		return kinematics.ModeTwist, true
	case strings.EqualFold(s, kinematics.ModeWheelSpeeds.String()):
		return kinematics.ModeWheelSpeeds, true
	default:
		return 0, false
	}
}

// Params are the node parameters. Immutable after Load.
type Params struct {
	BaselineM       float64
	PubFreqHz       float64
	WatchdogReceive time.Duration
	BaseLink        string
	OdomFrame       string
	LeftConfigFile  string
	RightConfigFile string
	RefWheel        RefWheel
	ControlMode     kinematics.Mode

	Left  WheelConfig
	Right WheelConfig

	// Warnings lists every fallback applied while loading.
	Warnings []string
}

// Geometry returns the kinematic geometry described by the parameters.
func (p *Params) Geometry() kinematics.Geometry {
	return kinematics.Geometry{
		Baseline:       p.BaselineM,
		LeftDiameter:   p.Left.Diameter(),
		RightDiameter:  p.Right.Diameter(),
		LeftReduction:  p.Left.Reduction,
		RightReduction: p.Right.Reduction,
	}
}

// Config is the complete service configuration.
type Config struct {
	Params    Params
	Timing    Timing
	HTTP      HTTPConfig
	MQTT      MQTTConfig
	Auth      AuthConfig
	Log       LogConfig
	Audit     AuditConfig
	Telemetry TelemetryConfig
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// MQTTConfig configures the pub/sub bridge. An empty Broker disables it.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
}

// AuthConfig configures bearer token verification. Disabled when Enabled is false.
type AuthConfig struct {
	Enabled       bool
	HMACSecret    string
	PublicKeyFile string
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// AuditConfig configures the command journal. An empty Path disables it.
type AuditConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// TelemetryConfig configures the event hub.
type TelemetryConfig struct {
	BufferSize        int
	Retention         time.Duration
	HeartbeatInterval time.Duration
}
