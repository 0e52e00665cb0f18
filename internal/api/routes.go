package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ez-Support/swd-ros-controllers/internal/auth"
	"github.com/ez-Support/swd-ros-controllers/internal/drive"
	"github.com/ez-Support/swd-ros-controllers/internal/odometry"
	"github.com/ez-Support/swd-ros-controllers/internal/telemetry"
)

const maxBodyBytes = 4 << 10

// RegisterRoutes registers all v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	apiV1 := "/api/v1"
	m := s.authMiddleware

	// Health and metrics need no token.
	mux.HandleFunc(apiV1+"/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	mux.HandleFunc(apiV1+"/odometry", m.Protect(s.handleOdometry, auth.ScopeRead))
	mux.HandleFunc(apiV1+"/safety", m.Protect(s.handleSafety, auth.ScopeRead))
	mux.HandleFunc(apiV1+"/odometry/reset", m.Protect(s.handleOdometryReset, auth.ScopeControl))

	mux.HandleFunc(apiV1+"/cmd_vel", m.Protect(s.handleCmdVel, auth.ScopeControl))
	mux.HandleFunc(apiV1+"/set_speed", m.Protect(s.handleSetSpeed, auth.ScopeControl))
	mux.HandleFunc(apiV1+"/soft_brake", m.Protect(s.handleSoftBrake, auth.ScopeControl))

	mux.HandleFunc(apiV1+"/telemetry", m.Protect(s.handleTelemetry, auth.ScopeTelemetry))
	mux.HandleFunc(apiV1+"/telemetry/ws", m.Protect(s.handleTelemetryWS, auth.ScopeTelemetry))
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
		"Only "+method+" method is allowed", nil)
	return false
}

// decodeStrict reads exactly one JSON object without unknown fields.
func decodeStrict(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return NewAPIError("BAD_REQUEST", "Malformed JSON or unknown fields", http.StatusBadRequest, nil)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return NewAPIError("BAD_REQUEST", "Trailing data after JSON object", http.StatusBadRequest, nil)
	}
	return nil
}

func missing(fields ...string) error {
	return NewAPIError("BAD_REQUEST", "Missing required parameter", http.StatusBadRequest,
		map[string]interface{}{"required": fields})
}

// submitCtx bounds the wait for queue space. The actor set by the auth
// middleware travels with the request context.
func (s *Server) submitCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.submitTimeout)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	snap := s.controller.Snapshot()
	subsystems := map[string]interface{}{
		"controller": map[string]interface{}{
			"mode":          snap.Mode,
			"running":       !snap.Stopped,
			"halted":        snap.Halted,
			"watchdogStops": snap.WatchdogStops,
		},
		"auth": s.authMiddleware.Enabled(),
	}
	if s.telemetryHub != nil {
		subsystems["telemetry"] = s.telemetryHub.Stats()
	}
	if s.broker != nil {
		subsystems["mqtt"] = s.broker.Stats()
	}

	status := "ok"
	if snap.Stopped {
		status = "degraded"
	}
	health := map[string]interface{}{
		"status":     status,
		"uptimeSec":  time.Since(s.startTime).Seconds(),
		"version":    Version,
		"subsystems": subsystems,
	}

	if status != "ok" {
		WriteError(w, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
			"Control loop is not running", health)
		return
	}
	WriteSuccess(w, health)
}

// handleOdometry handles GET /odometry
func (s *Server) handleOdometry(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	snap := s.controller.Snapshot()
	if snap.Odometry == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "No odometry published yet", nil)
		return
	}
	WriteSuccess(w, snap.Odometry)
}

// handleSafety handles GET /safety
func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	snap := s.controller.Snapshot()
	if snap.Safety == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "No safety status published yet", nil)
		return
	}
	WriteSuccess(w, snap.Safety)
}

// handleCmdVel handles POST /cmd_vel
func (s *Server) handleCmdVel(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		LinearX  *float64 `json:"linearX"`
		AngularZ *float64 `json:"angularZ"`
	}
	if err := decodeStrict(w, r, &req); err != nil {
		writeAPIError(w, err)
		return
	}
	if req.LinearX == nil || req.AngularZ == nil {
		writeAPIError(w, missing("linearX", "angularZ"))
		return
	}

	ctx, cancel := s.submitCtx(r)
	defer cancel()
	if err := s.controller.SubmitTwist(ctx, *req.LinearX, *req.AngularZ); err != nil {
		s.logger.Debugw("cmd_vel rejected", "error", err)
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"linearX": *req.LinearX, "angularZ": *req.AngularZ})
}

// handleSetSpeed handles POST /set_speed
func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Left  *float64 `json:"left"`
		Right *float64 `json:"right"`
	}
	if err := decodeStrict(w, r, &req); err != nil {
		writeAPIError(w, err)
		return
	}
	if req.Left == nil || req.Right == nil {
		writeAPIError(w, missing("left", "right"))
		return
	}

	ctx, cancel := s.submitCtx(r)
	defer cancel()
	if err := s.controller.SubmitWheelSpeeds(ctx, *req.Left, *req.Right); err != nil {
		s.logger.Debugw("set_speed rejected", "error", err)
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"left": *req.Left, "right": *req.Right})
}

// handleSoftBrake handles POST /soft_brake
func (s *Server) handleSoftBrake(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Data *string `json:"data"`
	}
	if err := decodeStrict(w, r, &req); err != nil {
		writeAPIError(w, err)
		return
	}
	if req.Data == nil {
		writeAPIError(w, missing("data"))
		return
	}

	ctx, cancel := s.submitCtx(r)
	defer cancel()
	if err := s.controller.SubmitBrake(ctx, *req.Data); err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"data": *req.Data, "engaged": drive.BrakeEngaged(*req.Data)})
}

// handleOdometryReset handles POST /odometry/reset. Omitted fields are zero,
// so an empty object resets to the origin.
func (s *Server) handleOdometryReset(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var pose odometry.Pose
	if err := decodeStrict(w, r, &pose); err != nil {
		writeAPIError(w, err)
		return
	}

	ctx, cancel := s.submitCtx(r)
	defer cancel()
	if err := s.controller.ResetOdometry(ctx, pose); err != nil {
		s.logger.Debugw("odometry reset rejected", "error", err)
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, pose)
}

// handleTelemetry handles GET /telemetry (SSE)
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry service not available", nil)
		return
	}
	if _, err := telemetry.ParseTopics(r.URL.Query().Get("topics")); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	if err := s.telemetryHub.Subscribe(r.Context(), w, r); err != nil {
		if errors.Is(err, telemetry.ErrHubStopped) {
			WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry service stopped", nil)
			return
		}
		// The stream is already open; the client went away.
		s.logger.Debugw("telemetry stream ended", "error", err)
	}
}

// handleTelemetryWS handles GET /telemetry/ws
func (s *Server) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.telemetryHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry service not available", nil)
		return
	}
	s.telemetryHub.ServeWS(w, r)
}
