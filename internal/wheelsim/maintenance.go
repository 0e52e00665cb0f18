package wheelsim

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	maintenanceMaxConns    = 10
	maintenanceIdleTimeout = 30 * time.Second
	maintenanceMaxLine     = 4 << 10
	maintenanceCallTimeout = 5 * time.Second
)

// Maintenance methods that act on the simulator rather than one node.
const (
	opSetMode = "set_mode"
	opGetMode = "get_mode"
)

// MaintenanceServer accepts newline-delimited JSON-RPC requests over TCP for
// fault injection: forcing safety functions, power states, positions and the
// simulator mode. Requests bypass the degraded and offline gates.
type MaintenanceServer struct {
	sim      *Simulator
	cfg      MaintenanceConfig
	registry *CommandRegistry
	allowed  []*net.IPNet
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewMaintenanceServer creates the fault-injection server for sim.
func NewMaintenanceServer(sim *Simulator) *MaintenanceServer {
	registry := NewCommandRegistry()
	RegisterSimulationCommands(registry)

	var allowed []*net.IPNet
	for _, cidr := range sim.cfg.Maintenance.AllowedCIDRs {
		if _, network, err := net.ParseCIDR(cidr); err == nil {
			allowed = append(allowed, network)
		}
	}

	return &MaintenanceServer{
		sim:      sim,
		cfg:      sim.cfg.Maintenance,
		registry: registry,
		allowed:  allowed,
		logger:   sim.logger.Named("maintenance"),
		conns:    make(map[net.Conn]struct{}),
		stopChan: make(chan struct{}),
	}
}

// ListenAndServe listens on the configured port.
func (s *MaintenanceServer) ListenAndServe() error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on maintenance port %d: %w", s.cfg.Port, err)
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Close.
func (s *MaintenanceServer) Serve(l net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.stopChan:
		s.mu.Unlock()
		return l.Close()
	default:
	}
	s.listener = l
	s.mu.Unlock()

	s.logger.Infow("maintenance server listening", "addr", l.Addr().String())

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warnw("failed to accept maintenance connection", "error", err)
			continue
		}

		if !s.isAllowed(conn.RemoteAddr()) {
			s.logger.Warnw("rejected maintenance connection", "remote", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}
		if !s.track(conn) {
			s.logger.Warnw("too many maintenance connections", "remote", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *MaintenanceServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) >= maintenanceMaxConns {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *MaintenanceServer) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// handleConnection serves one request per line until the peer closes or
// stays idle past the timeout.
func (s *MaintenanceServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 1024), maintenanceMaxLine)
	enc := json.NewEncoder(conn)

	for {
		_ = conn.SetDeadline(time.Now().Add(maintenanceIdleTimeout))
		if !scanner.Scan() {
			return
		}

		var resp *Response
		var req Request
		switch err := json.Unmarshal(scanner.Bytes(), &req); {
		case err != nil:
			resp = errorResponse(nil, codeParseError, "Parse error")
		case req.JSONRPC != "2.0":
			resp = errorResponse(req.ID, codeInvalidRequest, "Invalid Request")
		default:
			resp = s.process(&req)
			s.logger.Infow("maintenance command", "method", req.Method, "params", req.Params,
				"remote", conn.RemoteAddr().String(), "ok", resp.Error == nil)
		}

		if err := enc.Encode(resp); err != nil {
			s.logger.Debugw("failed to write maintenance response", "error", err)
			return
		}
	}
}

func (s *MaintenanceServer) process(req *Request) *Response {
	switch req.Method {
	case opGetMode:
		return &Response{JSONRPC: "2.0", Result: []string{s.sim.Mode()}, ID: req.ID}
	case opSetMode:
		if len(req.Params) != 1 {
			return errorResponse(req.ID, codeInvalidParams, ErrInvalidParams)
		}
		if err := s.sim.SetMode(req.Params[0]); err != nil {
			return errorResponse(req.ID, codeInvalidParams, ErrInvalidRange)
		}
		return &Response{JSONRPC: "2.0", Result: []string{""}, ID: req.ID}
	}

	handler, ok := s.registry.Get(req.Method)
	if !ok {
		return errorResponse(req.ID, codeMethodNotFound, "Method not found")
	}
	if len(req.Params) == 0 {
		return errorResponse(req.ID, codeInvalidParams, ErrInvalidParams)
	}
	node, ok := s.sim.Node(req.Params[0])
	if !ok {
		return errorResponse(req.ID, codeInvalidParams, ErrInvalidRange)
	}

	ctx, cancel := context.WithTimeout(context.Background(), maintenanceCallTimeout)
	defer cancel()
	result, err := handler.Handle(ctx, node, req.Params[1:])
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return errorResponse(req.ID, codeInvalidParams, cmdErr.Code)
		}
		return errorResponse(req.ID, codeInternalError, ErrInternal)
	}
	return &Response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func (s *MaintenanceServer) isAllowed(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, network := range s.allowed {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Close stops accepting, closes open connections and waits for handlers.
func (s *MaintenanceServer) Close() error {
	s.mu.Lock()
	select {
	case <-s.stopChan:
		s.mu.Unlock()
		return nil
	default:
		close(s.stopChan)
	}
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}
