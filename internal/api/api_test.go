package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ez-Support/swd-ros-controllers/internal/auth"
	"github.com/ez-Support/swd-ros-controllers/internal/config"
	"github.com/ez-Support/swd-ros-controllers/internal/drive"
	"github.com/ez-Support/swd-ros-controllers/internal/kinematics"
	"github.com/ez-Support/swd-ros-controllers/internal/metrics"
	"github.com/ez-Support/swd-ros-controllers/internal/motor"
	"github.com/ez-Support/swd-ros-controllers/internal/odometry"
	"github.com/ez-Support/swd-ros-controllers/internal/telemetry"
	"github.com/ez-Support/swd-ros-controllers/internal/transport/mqtt"
)

type submission struct {
	kind   string
	a, b   float64
	signal string
	theta  float64
	actor  string
}

type fakeController struct {
	mu    sync.Mutex
	mode  kinematics.Mode
	snap  drive.Snapshot
	err   error
	calls []submission
}

func (f *fakeController) Mode() kinematics.Mode { return f.mode }

func (f *fakeController) Snapshot() drive.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) record(ctx context.Context, s submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.actor = drive.ActorFromContext(ctx)
	f.calls = append(f.calls, s)
	return f.err
}

func (f *fakeController) SubmitTwist(ctx context.Context, linear, angular float64) error {
	if f.mode != kinematics.ModeTwist {
		return fmt.Errorf("twist in %s mode: %w", f.mode, drive.ErrWrongCommandMode)
	}
	return f.record(ctx, submission{kind: "twist", a: linear, b: angular})
}

func (f *fakeController) SubmitWheelSpeeds(ctx context.Context, left, right float64) error {
	if f.mode != kinematics.ModeWheelSpeeds {
		return fmt.Errorf("speeds in %s mode: %w", f.mode, drive.ErrWrongCommandMode)
	}
	return f.record(ctx, submission{kind: "speeds", a: left, b: right})
}

func (f *fakeController) SubmitBrake(ctx context.Context, signal string) error {
	return f.record(ctx, submission{kind: "brake", signal: signal})
}

func (f *fakeController) ResetOdometry(ctx context.Context, pose odometry.Pose) error {
	return f.record(ctx, submission{kind: "reset", a: pose.X, b: pose.Y, theta: pose.Theta})
}

type fakeBroker struct{}

func (fakeBroker) Stats() mqtt.Stats { return mqtt.Stats{Connected: true, Published: 7} }

func do(t *testing.T, h http.Handler, method, target, body string, header ...string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func running() drive.Snapshot {
	return drive.Snapshot{Mode: "Twist"}
}

func TestHealth(t *testing.T) {
	ctrl := &fakeController{snap: running()}
	hub := telemetry.NewHub(config.TelemetryConfig{}, nil)
	defer hub.Stop()
	h := NewServer(config.HTTPConfig{}, ctrl, WithTelemetry(hub), WithBroker(fakeBroker{})).Handler()

	w, resp := do(t, h, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp.Result)
	assert.NotEmpty(t, resp.CorrelationID)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, Version, data["version"])
	subsystems := data["subsystems"].(map[string]interface{})
	assert.Contains(t, subsystems, "telemetry")
	assert.Equal(t, true, subsystems["mqtt"].(map[string]interface{})["connected"])

	ctrl.snap.Stopped = true
	w, resp = do(t, h, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_DEGRADED", resp.Code)

	w, resp = do(t, h, http.MethodPost, "/api/v1/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", resp.Code)
}

func TestOdometryAndSafety(t *testing.T) {
	ctrl := &fakeController{snap: running()}
	h := NewServer(config.HTTPConfig{}, ctrl).Handler()

	w, resp := do(t, h, http.MethodGet, "/api/v1/odometry", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "UNAVAILABLE", resp.Code)

	ctrl.snap.Odometry = &drive.OdometryMessage{FrameID: "odom", Pose: odometry.Pose{X: 1.5}}
	ctrl.snap.Safety = &drive.SafetyStatus{SafeLimitedSpeed: true}

	w, resp = do(t, h, http.MethodGet, "/api/v1/odometry", "")
	assert.Equal(t, http.StatusOK, w.Code)
	odom := resp.Data.(map[string]interface{})
	assert.Equal(t, "odom", odom["frameId"])
	assert.Equal(t, 1.5, odom["pose"].(map[string]interface{})["x"])

	w, resp = do(t, h, http.MethodGet, "/api/v1/safety", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["safe_limit_speed"])
}

func TestCmdVel(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"ok", http.MethodPost, `{"linearX":0.5,"angularZ":-1}`, nil, http.StatusOK, ""},
		{"get", http.MethodGet, "", nil, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{"malformed", http.MethodPost, `{"linearX":`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown_field", http.MethodPost, `{"linearX":0,"angularZ":0,"z":1}`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"trailing", http.MethodPost, `{"linearX":0,"angularZ":0}{}`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing", http.MethodPost, `{"linearX":0}`, nil, http.StatusBadRequest, "BAD_REQUEST"},
		{"stopped", http.MethodPost, `{"linearX":0,"angularZ":0}`, drive.ErrStopped, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"queue_full", http.MethodPost, `{"linearX":0,"angularZ":0}`, context.DeadlineExceeded, http.StatusServiceUnavailable, "BUSY"},
		{"not_finite", http.MethodPost, `{"linearX":0,"angularZ":0}`, drive.ErrInvalidCommand, http.StatusBadRequest, "INVALID_RANGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{mode: kinematics.ModeTwist, snap: running(), err: tt.err}
			h := NewServer(config.HTTPConfig{}, ctrl).Handler()

			w, resp := do(t, h, tt.method, "/api/v1/cmd_vel", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.wantCode == "" {
				require.Len(t, ctrl.calls, 1)
				assert.Equal(t, submission{kind: "twist", a: 0.5, b: -1, actor: "anonymous"}, ctrl.calls[0])
			}
		})
	}
}

func TestSetSpeed_WrongModeConflicts(t *testing.T) {
	ctrl := &fakeController{mode: kinematics.ModeTwist, snap: running()}
	h := NewServer(config.HTTPConfig{}, ctrl).Handler()

	w, resp := do(t, h, http.MethodPost, "/api/v1/set_speed", `{"left":1,"right":2}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "WRONG_MODE", resp.Code)

	ctrl.mode = kinematics.ModeWheelSpeeds
	w, _ = do(t, h, http.MethodPost, "/api/v1/set_speed", `{"left":1,"right":2}`)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ctrl.calls, 1)
	assert.Equal(t, submission{kind: "speeds", a: 1, b: 2, actor: "anonymous"}, ctrl.calls[0])

	w, resp = do(t, h, http.MethodPost, "/api/v1/cmd_vel", `{"linearX":1,"angularZ":0}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "WRONG_MODE", resp.Code)
}

func TestSoftBrake(t *testing.T) {
	ctrl := &fakeController{snap: running()}
	h := NewServer(config.HTTPConfig{}, ctrl).Handler()

	w, resp := do(t, h, http.MethodPost, "/api/v1/soft_brake", `{"data":"enable"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["engaged"])

	w, resp = do(t, h, http.MethodPost, "/api/v1/soft_brake", `{"data":"disable"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp.Data.(map[string]interface{})["engaged"])

	w, _ = do(t, h, http.MethodPost, "/api/v1/soft_brake", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.Len(t, ctrl.calls, 2)
	assert.Equal(t, "enable", ctrl.calls[0].signal)
	assert.Equal(t, "disable", ctrl.calls[1].signal)
}

func TestOdometryReset(t *testing.T) {
	ctrl := &fakeController{snap: running()}
	h := NewServer(config.HTTPConfig{}, ctrl).Handler()

	w, resp := do(t, h, http.MethodPost, "/api/v1/odometry/reset", `{"x":1.5,"y":-2,"theta":0.25}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"x": 1.5, "y": -2.0, "theta": 0.25}, resp.Data)

	w, _ = do(t, h, http.MethodPost, "/api/v1/odometry/reset", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, h, http.MethodPost, "/api/v1/odometry/reset", `{"z":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, h, http.MethodGet, "/api/v1/odometry/reset", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	require.Len(t, ctrl.calls, 2)
	assert.Equal(t, submission{kind: "reset", a: 1.5, b: -2, theta: 0.25, actor: "anonymous"}, ctrl.calls[0])
	assert.Equal(t, submission{kind: "reset", actor: "anonymous"}, ctrl.calls[1])
}

func TestAuthScopes(t *testing.T) {
	const secret = "api-test-secret"
	verifier, err := auth.NewVerifier(auth.VerifierConfig{HMACSecret: secret})
	require.NoError(t, err)

	sign := func(scopes ...interface{}) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":    "alice",
			"scopes": scopes,
			"exp":    time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		return "Bearer " + tok
	}

	ctrl := &fakeController{mode: kinematics.ModeTwist, snap: running()}
	h := NewServer(config.HTTPConfig{}, ctrl, WithAuth(auth.NewMiddleware(verifier))).Handler()
	body := `{"linearX":0.1,"angularZ":0}`

	w, _ := do(t, h, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code, "health is open")

	w, resp := do(t, h, http.MethodPost, "/api/v1/cmd_vel", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", resp.Code)

	w, resp = do(t, h, http.MethodPost, "/api/v1/cmd_vel", body, "Authorization", sign(auth.ScopeRead))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", resp.Code)

	w, _ = do(t, h, http.MethodPost, "/api/v1/cmd_vel", body, "Authorization", sign(auth.ScopeControl))
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ctrl.calls, 1)
	assert.Equal(t, "alice", ctrl.calls[0].actor)

	w, _ = do(t, h, http.MethodGet, "/api/v1/telemetry", "", "Authorization", sign(auth.ScopeRead))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTelemetry(t *testing.T) {
	ctrl := &fakeController{snap: running()}
	h := NewServer(config.HTTPConfig{}, ctrl).Handler()
	w, resp := do(t, h, http.MethodGet, "/api/v1/telemetry", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "UNAVAILABLE", resp.Code)

	hub := telemetry.NewHub(config.TelemetryConfig{HeartbeatInterval: time.Hour}, nil)
	defer hub.Stop()
	srv := httptest.NewServer(NewServer(config.HTTPConfig{}, ctrl, WithTelemetry(hub)).Handler())
	defer srv.Close()

	bad, err := http.Get(srv.URL + "/api/v1/telemetry?topics=weather")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/telemetry?topics=safety", nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, http.StatusOK, stream.StatusCode)

	line, err := bufio.NewReader(stream.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ready\n", line)
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New()
	m.WatchdogExpired()
	h := NewServer(config.HTTPConfig{}, &fakeController{snap: running()}, WithMetrics(m.Handler())).Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "watchdog")
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   string
		wantStatus int
	}{
		{"api_error", NewAPIError("X", "x", http.StatusTeapot, nil), "X", http.StatusTeapot},
		{"bad_request", fmt.Errorf("decode: %w", ErrBadRequest), "BAD_REQUEST", http.StatusBadRequest},
		{"not_found", ErrNotFound, "NOT_FOUND", http.StatusNotFound},
		{"wrong_mode", drive.ErrWrongCommandMode, "WRONG_MODE", http.StatusConflict},
		{"invalid", drive.ErrInvalidCommand, "INVALID_RANGE", http.StatusBadRequest},
		{"stopped", drive.ErrStopped, "UNAVAILABLE", http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, "BUSY", http.StatusServiceUnavailable},
		{"motor_busy", &motor.DriverError{Code: motor.ErrBusy, Original: errors.New("BUSY")}, "BUSY", http.StatusServiceUnavailable},
		{"motor_range", motor.ErrInvalidRange, "INVALID_RANGE", http.StatusBadRequest},
		{"motor_unavailable", fmt.Errorf("left: %w", motor.ErrUnavailable), "UNAVAILABLE", http.StatusServiceUnavailable},
		{"motor_timeout", motor.NormalizeDriverError(fmt.Errorf("position: %w", context.DeadlineExceeded), nil), "UNAVAILABLE", http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), "INTERNAL", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToAPIError(tt.err)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantStatus, got.StatusCode)
		})
	}
}
