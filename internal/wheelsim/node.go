package wheelsim

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/ez-Support/swd-ros-controllers/internal/motor"
)

// Error codes returned in the JSON-RPC error message.
const (
	ErrInvalidRange  = "INVALID_RANGE"
	ErrBusy          = "BUSY"
	ErrUnavailable   = "UNAVAILABLE"
	ErrInternal      = "INTERNAL"
	ErrInvalidParams = "INVALID_PARAMS"
)

// Node operations processed by the worker.
const (
	opPing              = "ping"
	opPosition          = "position"
	opTargetVelocity    = "target_velocity"
	opSafetyFunction    = "safety_function"
	opSetSafetyFunction = "set_safety_function"
	opPowerState        = "pds_state"
	opSetPowerState     = "set_pds_state"
	opEnable            = "enter_operation_enabled"
	opHalt              = "halt"
	opSetPosition       = "set_position"
)

// Node is the thread-safe state of one simulated drive.
type Node struct {
	name   string
	cfg    NodeConfig
	maxRPM int32
	now    func() time.Time

	mu         sync.Mutex
	position   float64 // mm
	lastUpdate time.Time
	rpm        int32
	halted     bool
	power      motor.PowerState
	safety     map[motor.SafetyFunction]bool

	queue  chan command
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type command struct {
	op       string
	args     []string
	response chan commandResponse
}

type commandResponse struct {
	result []string
	code   string
}

func newNode(name string, cfg NodeConfig, maxRPM int32, queueSize int, now func() time.Time) *Node {
	power := motor.SwitchOnDisabled
	if cfg.StartEnabled {
		power = motor.OperationEnabled
	}
	n := &Node{
		name:       name,
		cfg:        cfg,
		maxRPM:     maxRPM,
		now:        now,
		position:   float64(cfg.InitialPosition),
		lastUpdate: now(),
		power:      power,
		safety:     make(map[motor.SafetyFunction]bool),
		queue:      make(chan command, queueSize),
		stopCh:     make(chan struct{}),
	}

	n.wg.Add(1)
	go n.worker()
	return n
}

// Name returns the node name.
func (n *Node) Name() string {
	return n.name
}

// worker processes commands in FIFO order
func (n *Node) worker() {
	defer n.wg.Done()
	for {
		select {
		case cmd := <-n.queue:
			cmd.response <- n.process(cmd)
		case <-n.stopCh:
			return
		}
	}
}

// Execute queues an operation and waits for its result.
func (n *Node) Execute(ctx context.Context, op string, args []string) ([]string, string) {
	cmd := command{
		op:       op,
		args:     args,
		response: make(chan commandResponse, 1),
	}

	select {
	case n.queue <- cmd:
	case <-n.stopCh:
		return nil, ErrUnavailable
	case <-ctx.Done():
		return nil, ErrUnavailable
	default:
		return nil, ErrBusy
	}

	select {
	case resp := <-cmd.response:
		return resp.result, resp.code
	case <-n.stopCh:
		return nil, ErrUnavailable
	case <-ctx.Done():
		return nil, ErrUnavailable
	}
}

func (n *Node) process(cmd command) commandResponse {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.advanceLocked()

	switch cmd.op {
	case opPing:
		return ok("pong")

	case opPosition:
		return ok(strconv.FormatInt(int64(n.ticksLocked()), 10))

	case opTargetVelocity:
		if len(cmd.args) != 1 {
			return fail(ErrInvalidParams)
		}
		rpm, err := strconv.ParseInt(cmd.args[0], 10, 32)
		if err != nil {
			return fail(ErrInvalidParams)
		}
		if rpm > int64(n.maxRPM) || rpm < -int64(n.maxRPM) {
			return fail(ErrInvalidRange)
		}
		n.rpm = int32(rpm)
		return ok("")

	case opSafetyFunction:
		if len(cmd.args) != 1 {
			return fail(ErrInvalidParams)
		}
		fn, err := motor.ParseSafetyFunction(cmd.args[0])
		if err != nil {
			return fail(ErrInvalidRange)
		}
		return ok(strconv.FormatBool(n.safety[fn]))

	case opSetSafetyFunction:
		if len(cmd.args) != 2 {
			return fail(ErrInvalidParams)
		}
		fn, err := motor.ParseSafetyFunction(cmd.args[0])
		if err != nil {
			return fail(ErrInvalidRange)
		}
		active, err := strconv.ParseBool(cmd.args[1])
		if err != nil {
			return fail(ErrInvalidParams)
		}
		n.setSafetyLocked(fn, active)
		return ok("")

	case opPowerState:
		return ok(n.power.String())

	case opSetPowerState:
		if len(cmd.args) != 1 {
			return fail(ErrInvalidParams)
		}
		st, err := motor.ParsePowerState(cmd.args[0])
		if err != nil {
			return fail(ErrInvalidRange)
		}
		n.power = st
		return ok("")

	case opEnable:
		if n.safety[motor.SafeTorqueOff] {
			return fail(ErrUnavailable)
		}
		n.power = motor.OperationEnabled
		return ok("")

	case opHalt:
		if len(cmd.args) != 1 {
			return fail(ErrInvalidParams)
		}
		halt, err := strconv.ParseBool(cmd.args[0])
		if err != nil {
			return fail(ErrInvalidParams)
		}
		n.halted = halt
		return ok("")

	case opSetPosition:
		if len(cmd.args) != 1 {
			return fail(ErrInvalidParams)
		}
		pos, err := strconv.ParseInt(cmd.args[0], 10, 32)
		if err != nil {
			return fail(ErrInvalidParams)
		}
		n.position = float64(pos)
		return ok("")

	default:
		return fail(ErrInternal)
	}
}

func ok(v string) commandResponse {
	return commandResponse{result: []string{v}}
}

func fail(code string) commandResponse {
	return commandResponse{code: code}
}

// advanceLocked integrates the wheel travel since the last update.
// The wheel only moves when enabled, not halted and torque is on.
func (n *Node) advanceLocked() {
	now := n.now()
	dt := now.Sub(n.lastUpdate).Seconds()
	n.lastUpdate = now
	if dt <= 0 || !n.movingLocked() {
		return
	}

	wheelRPM := float64(n.rpm) / n.cfg.Reduction
	mmPerSecond := wheelRPM * math.Pi * n.cfg.DiameterMM / 60.0
	n.position += mmPerSecond * dt
}

func (n *Node) movingLocked() bool {
	return n.rpm != 0 &&
		!n.halted &&
		n.power == motor.OperationEnabled &&
		!n.safety[motor.SafeTorqueOff]
}

// ticksLocked returns the encoder count; it wraps like a 32-bit register.
func (n *Node) ticksLocked() int32 {
	return int32(int64(math.Round(n.position)))
}

func (n *Node) setSafetyLocked(fn motor.SafetyFunction, active bool) {
	n.safety[fn] = active
	if fn == motor.SafeTorqueOff && active && n.power == motor.OperationEnabled {
		n.power = motor.SwitchOnDisabled
	}
}

// SetPosition moves the encoder.
func (n *Node) SetPosition(pos int32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advanceLocked()
	n.position = float64(pos)
}

// SetSafety forces a safety function.
func (n *Node) SetSafety(fn motor.SafetyFunction, active bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advanceLocked()
	n.setSafetyLocked(fn, active)
}

// SetPowerState forces the power drive system state.
func (n *Node) SetPowerState(st motor.PowerState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advanceLocked()
	n.power = st
}

// Status is a point-in-time view of a node.
type Status struct {
	Name     string `json:"name"`
	Position int32  `json:"position"`
	RPM      int32  `json:"rpm"`
	Halted   bool   `json:"halted"`
	Power    string `json:"power"`
}

// Status returns the current node state.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advanceLocked()
	return Status{
		Name:     n.name,
		Position: n.ticksLocked(),
		RPM:      n.rpm,
		Halted:   n.halted,
		Power:    n.power.String(),
	}
}

// Close stops the worker.
func (n *Node) Close() error {
	close(n.stopCh)

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("node %s: shutdown timeout", n.name)
	}
}
