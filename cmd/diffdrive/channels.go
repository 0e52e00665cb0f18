package main

import (
	"context"
	"fmt"

	"github.com/ez-Support/swd-ros-controllers/internal/config"
	"github.com/ez-Support/swd-ros-controllers/internal/motor"
	"github.com/ez-Support/swd-ros-controllers/internal/motor/fake"
	"github.com/ez-Support/swd-ros-controllers/internal/motor/rpc"
)

// buildChannel creates and initializes the motor channel for one wheel.
// An RPC node that does not answer its ping is fatal for the caller.
func buildChannel(ctx context.Context, name string, wheel config.WheelConfig) (motor.Channel, error) {
	switch wheel.Motor.Kind {
	case config.MotorKindFake:
		return fake.New(name), nil

	case config.MotorKindRPC:
		node := wheel.Motor.Node
		if node == "" {
			node = name
		}
		client := rpc.New(wheel.Motor.Endpoint, node, wheel.Motor.Timeout(),
			rpc.WithErrorTable(wheel.Motor.ErrorTable))

		initCtx, cancel := context.WithTimeout(ctx, 5*wheel.Motor.Timeout())
		defer cancel()
		if err := client.Init(initCtx); err != nil {
			return nil, fmt.Errorf("failed to initialize %s motor at %s: %w", name, wheel.Motor.Endpoint, err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown motor kind %q for %s wheel", wheel.Motor.Kind, name)
	}
}
