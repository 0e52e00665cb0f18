package api

import (
	"context"
	"net/http"

	"github.com/ez-Support/swd-ros-controllers/internal/drive"
	"github.com/ez-Support/swd-ros-controllers/internal/kinematics"
	"github.com/ez-Support/swd-ros-controllers/internal/odometry"
	"github.com/ez-Support/swd-ros-controllers/internal/telemetry"
	"github.com/ez-Support/swd-ros-controllers/internal/transport/mqtt"
)

// ControllerPort is what the API needs from the control loop.
type ControllerPort interface {
	Mode() kinematics.Mode
	Snapshot() drive.Snapshot
	SubmitTwist(ctx context.Context, linear, angular float64) error
	SubmitWheelSpeeds(ctx context.Context, left, right float64) error
	SubmitBrake(ctx context.Context, signal string) error
	ResetOdometry(ctx context.Context, pose odometry.Pose) error
}

// TelemetryPort streams controller output to clients.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	ServeWS(w http.ResponseWriter, r *http.Request)
	Stats() telemetry.Stats
}

// BrokerPort reports the MQTT bridge state.
type BrokerPort interface {
	Stats() mqtt.Stats
}

var (
	_ ControllerPort = (*drive.Controller)(nil)
	_ TelemetryPort  = (*telemetry.Hub)(nil)
	_ BrokerPort     = (*mqtt.Bridge)(nil)
)
