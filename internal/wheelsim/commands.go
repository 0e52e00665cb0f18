package wheelsim

import (
	"context"
	"fmt"
	"sort"
)

// CommandHandler handles one JSON-RPC method for a node
type CommandHandler interface {
	Handle(ctx context.Context, node *Node, args []string) ([]string, error)
	Name() string
	Description() string
	ReadOnly() bool
}

// CommandError carries the error code written into the JSON-RPC error message
type CommandError struct {
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CommandRegistry manages the available methods
type CommandRegistry struct {
	handlers map[string]CommandHandler
}

// NewCommandRegistry creates an empty registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{handlers: make(map[string]CommandHandler)}
}

// Register adds a handler, replacing any handler with the same name
func (r *CommandRegistry) Register(h CommandHandler) {
	r.handlers[h.Name()] = h
}

// Get looks up a handler by method name
func (r *CommandRegistry) Get(name string) (CommandHandler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered method names in order
func (r *CommandRegistry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// nodeCommand forwards a method to the node worker.
type nodeCommand struct {
	name        string
	description string
	readOnly    bool
	arity       int
}

func (c nodeCommand) Name() string        { return c.name }
func (c nodeCommand) Description() string { return c.description }
func (c nodeCommand) ReadOnly() bool      { return c.readOnly }

func (c nodeCommand) Handle(ctx context.Context, node *Node, args []string) ([]string, error) {
	if len(args) != c.arity {
		return nil, &CommandError{
			Code:    ErrInvalidParams,
			Message: fmt.Sprintf("%s expects %d argument(s) after the node, got %d", c.name, c.arity, len(args)),
		}
	}
	result, code := node.Execute(ctx, c.name, args)
	if code != "" {
		return nil, &CommandError{Code: code}
	}
	return result, nil
}

// RegisterDriveCommands registers the motor-drive method set
func RegisterDriveCommands(r *CommandRegistry) {
	for _, c := range []nodeCommand{
		{name: opPing, description: "Check that the node answers", readOnly: true},
		{name: opPosition, description: "Read the encoder position in mm", readOnly: true},
		{name: opTargetVelocity, description: "Set the motor velocity setpoint in rpm", arity: 1},
		{name: opSafetyFunction, description: "Read a safety function (STO, SDIP_1, SDIN_1, SLS_1)", readOnly: true, arity: 1},
		{name: opPowerState, description: "Read the power drive system state", readOnly: true},
		{name: opEnable, description: "Walk the state machine to OPERATION_ENABLED"},
		{name: opHalt, description: "Engage (true) or release (false) the drive halt", arity: 1},
	} {
		r.Register(c)
	}
}

// RegisterSimulationCommands registers the hooks used to drive the simulator from tests
func RegisterSimulationCommands(r *CommandRegistry) {
	for _, c := range []nodeCommand{
		{name: opSetSafetyFunction, description: "Force a safety function", arity: 2},
		{name: opSetPowerState, description: "Force the power drive system state", arity: 1},
		{name: opSetPosition, description: "Move the encoder", arity: 1},
	} {
		r.Register(c)
	}
}
