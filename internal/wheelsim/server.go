package wheelsim

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Request represents a JSON-RPC 2.0 request. params[0] names the node.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  []string    `json:"params,omitempty"`
	ID      interface{} `json:"id"`
}

// Response represents a JSON-RPC 2.0 response
type Response struct {
	JSONRPC string       `json:"jsonrpc"`
	Result  []string     `json:"result,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
	ID      interface{}  `json:"id"`
}

// ErrorObject is the JSON-RPC error member
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Simulator serves a set of simulated drives over JSON-RPC
type Simulator struct {
	cfg      *Config
	registry *CommandRegistry
	nodes    map[string]*Node
	logger   *zap.SugaredLogger

	mu   sync.RWMutex
	mode string
}

// Option configures a Simulator
type Option func(*simOptions)

type simOptions struct {
	now    func() time.Time
	logger *zap.SugaredLogger
}

// WithClock replaces the wall clock used for motion integration
func WithClock(now func() time.Time) Option {
	return func(o *simOptions) { o.now = now }
}

// WithLogger sets the request logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *simOptions) { o.logger = l }
}

// New creates a simulator and starts one worker per node
func New(cfg *Config, opts ...Option) *Simulator {
	o := simOptions{now: time.Now, logger: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(&o)
	}

	registry := NewCommandRegistry()
	RegisterDriveCommands(registry)
	RegisterSimulationCommands(registry)

	nodes := make(map[string]*Node, len(cfg.Nodes))
	for name, nc := range cfg.Nodes {
		nodes[name] = newNode(name, nc, cfg.MaxRPM, cfg.QueueSize, o.now)
	}

	return &Simulator{
		cfg:      cfg,
		registry: registry,
		nodes:    nodes,
		logger:   o.logger,
		mode:     cfg.Mode,
	}
}

// Node returns the named node
func (s *Simulator) Node(name string) (*Node, bool) {
	n, ok := s.nodes[name]
	return n, ok
}

// Mode returns the current simulator mode
func (s *Simulator) Mode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches between normal, degraded and offline
func (s *Simulator) SetMode(mode string) error {
	if !validMode(mode) {
		return errors.New("invalid mode " + mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	return nil
}

// Handler returns the HTTP mux exposing the JSON-RPC endpoint and a status page
func (s *Simulator) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.HTTP.Path, s.HandleRequest)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

// HandleRequest handles HTTP POST requests to the JSON-RPC endpoint
func (s *Simulator) HandleRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.cfg.HTTP.ServerHeader != "" {
		w.Header().Set("Server", s.cfg.HTTP.ServerHeader)
	}

	if r.Method != http.MethodPost {
		s.writeErrorResponse(w, codeInvalidRequest, "Invalid Request", nil)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, codeParseError, "Parse error", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		s.writeErrorResponse(w, codeInvalidRequest, "Invalid Request", req.ID)
		return
	}

	resp := s.processRequest(r, &req)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warnw("failed to encode response", "method", req.Method, "error", err)
	}
}

func (s *Simulator) processRequest(r *http.Request, req *Request) *Response {
	handler, exists := s.registry.Get(req.Method)
	if !exists {
		return errorResponse(req.ID, codeMethodNotFound, "Method not found")
	}

	if len(req.Params) == 0 {
		return errorResponse(req.ID, codeInvalidParams, ErrInvalidParams)
	}
	node, ok := s.nodes[req.Params[0]]
	if !ok {
		return errorResponse(req.ID, codeInvalidParams, ErrInvalidRange)
	}

	switch s.Mode() {
	case ModeOffline:
		return errorResponse(req.ID, codeInvalidParams, ErrUnavailable)
	case ModeDegraded:
		if !handler.ReadOnly() {
			return errorResponse(req.ID, codeInvalidParams, ErrBusy)
		}
	}

	result, err := handler.Handle(r.Context(), node, req.Params[1:])
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			s.logger.Debugw("command rejected", "method", req.Method, "node", node.Name(), "code", cmdErr.Code)
			return errorResponse(req.ID, codeInvalidParams, cmdErr.Code)
		}
		s.logger.Warnw("command failed", "method", req.Method, "node", node.Name(), "error", err)
		return errorResponse(req.ID, codeInternalError, ErrInternal)
	}

	return &Response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func (s *Simulator) handleStatus(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.nodes))
	for name := range s.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	status := struct {
		Mode    string   `json:"mode"`
		Methods []string `json:"methods"`
		Nodes   []Status `json:"nodes"`
	}{Mode: s.Mode(), Methods: s.registry.Names()}
	for _, name := range names {
		status.Nodes = append(status.Nodes, s.nodes[name].Status())
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func errorResponse(id interface{}, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		Error:   &ErrorObject{Code: code, Message: message},
		ID:      id,
	}
}

func (s *Simulator) writeErrorResponse(w http.ResponseWriter, code int, message string, id interface{}) {
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(errorResponse(id, code, message))
}

// Close stops every node worker
func (s *Simulator) Close() error {
	var errs []error
	for _, n := range s.nodes {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
