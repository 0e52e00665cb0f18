// Package rpc implements motor.Channel over the motor-driver JSON-RPC 2.0 HTTP API.
//
// Every request carries the node name as its first parameter:
//
//	{"jsonrpc":"2.0","method":"target_velocity","params":["left","95"],"id":7}
//
// Driver error messages are normalized through motor.NormalizeDriverErrorWith
// using the configured error table.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ez-Support/swd-ros-controllers/internal/motor"
)

type request struct {
	JSONRPC string   `json:"jsonrpc"`
	Method  string   `json:"method"`
	Params  []string `json:"params,omitempty"`
	ID      uint64   `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  []string        `json:"result"`
	Error   *RemoteError    `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// RemoteError is the error member of a JSON-RPC response.
type RemoteError struct {
	Method  string `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s (rpc %d)", e.Method, e.Message, e.Code)
}

// Client is a motor.Channel for one drive node.
type Client struct {
	endpoint string
	node     string
	table    string
	http     *http.Client
	nextID   atomic.Uint64
}

var _ motor.Channel = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithErrorTable selects the driver error table ("generic", "canopen").
func WithErrorTable(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.table = name
		}
	}
}

// New creates a client for node at endpoint. timeout bounds each HTTP exchange.
func New(endpoint, node string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		node:     node,
		table:    "generic",
		http:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the node name.
func (c *Client) Name() string {
	return c.node
}

// Init checks that the node answers.
func (c *Client) Init(ctx context.Context) error {
	result, err := c.call(ctx, "ping")
	if err != nil {
		return fmt.Errorf("motor node %s at %s: %w", c.node, c.endpoint, err)
	}
	if result != "pong" {
		return fmt.Errorf("motor node %s at %s: unexpected ping reply %q: %w", c.node, c.endpoint, result, motor.ErrInternal)
	}
	return nil
}

// ReadPosition returns the encoder position in ticks.
func (c *Client) ReadPosition(ctx context.Context) (int32, error) {
	result, err := c.call(ctx, "position")
	if err != nil {
		return 0, err
	}
	pos, err := strconv.ParseInt(result, 10, 32)
	if err != nil {
		return 0, c.malformed("position", result, err)
	}
	return int32(pos), nil
}

// SetTargetVelocity sets the motor setpoint in rpm.
func (c *Client) SetTargetVelocity(ctx context.Context, rpm int32) error {
	_, err := c.call(ctx, "target_velocity", strconv.FormatInt(int64(rpm), 10))
	return err
}

// SafetyFunction reports whether fn is commanded.
func (c *Client) SafetyFunction(ctx context.Context, fn motor.SafetyFunction) (bool, error) {
	result, err := c.call(ctx, "safety_function", fn.String())
	if err != nil {
		return false, err
	}
	active, err := strconv.ParseBool(result)
	if err != nil {
		return false, c.malformed("safety_function", result, err)
	}
	return active, nil
}

// PowerState returns the power drive system state.
func (c *Client) PowerState(ctx context.Context) (motor.PowerState, error) {
	result, err := c.call(ctx, "pds_state")
	if err != nil {
		return 0, err
	}
	st, err := motor.ParsePowerState(result)
	if err != nil {
		return 0, c.malformed("pds_state", result, err)
	}
	return st, nil
}

// EnterOperationEnabled requests OPERATION_ENABLED.
func (c *Client) EnterOperationEnabled(ctx context.Context) error {
	_, err := c.call(ctx, "enter_operation_enabled")
	return err
}

// SetHalt engages or releases the drive halt.
func (c *Client) SetHalt(ctx context.Context, halt bool) error {
	_, err := c.call(ctx, "halt", strconv.FormatBool(halt))
	return err
}

// call performs one request and returns the first result element.
func (c *Client) call(ctx context.Context, method string, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", motor.NormalizeDriverErrorWith(fmt.Errorf("%s: %w", method, err), nil, c.table)
	}

	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  append([]string{c.node}, args...),
		ID:      c.nextID.Add(1),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", &motor.DriverError{Code: motor.ErrInternal, Original: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &motor.DriverError{Code: motor.ErrInternal, Original: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		// transport failures mean the node cannot be reached
		return "", &motor.DriverError{
			Code:     motor.ErrUnavailable,
			Original: fmt.Errorf("%s: %w", method, err),
		}
	}
	defer httpResp.Body.Close()

	var resp response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", &motor.DriverError{
			Code:     motor.ErrInternal,
			Original: fmt.Errorf("%s: http %d: decode response: %w", method, httpResp.StatusCode, err),
		}
	}

	if resp.Error != nil {
		resp.Error.Method = method
		return "", motor.NormalizeDriverErrorWith(resp.Error, resp.Error, c.table)
	}
	if len(resp.Result) == 0 {
		return "", nil
	}
	return resp.Result[0], nil
}

func (c *Client) malformed(method, value string, err error) error {
	return &motor.DriverError{
		Code:     motor.ErrInternal,
		Original: fmt.Errorf("%s: malformed result %q: %w", method, value, err),
	}
}
