package drive

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ez-Support/swd-ros-controllers/internal/config"
	"github.com/ez-Support/swd-ros-controllers/internal/kinematics"
	"github.com/ez-Support/swd-ros-controllers/internal/motor/fake"
)

func testParams() *config.Params {
	return &config.Params{
		BaselineM:       0.5,
		PubFreqHz:       50,
		WatchdogReceive: time.Second,
		BaseLink:        "base_link",
		OdomFrame:       "odom",
		RefWheel:        config.RefRight,
		ControlMode:     kinematics.ModeTwist,
		Left:            config.WheelConfig{DiameterMM: 200, Reduction: 1},
		Right:           config.WheelConfig{DiameterMM: 200, Reduction: 1},
	}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu       sync.Mutex
	odometry []OdometryMessage
	safety   []SafetyStatus
	events   []Event
}

func (p *recordingPublisher) PublishOdometry(msg OdometryMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.odometry = append(p.odometry, msg)
	return nil
}

func (p *recordingPublisher) PublishSafety(status SafetyStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.safety = append(p.safety, status)
	return nil
}

func (p *recordingPublisher) PublishEvent(ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Odometry() []OdometryMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OdometryMessage(nil), p.odometry...)
}

func (p *recordingPublisher) Safety() []SafetyStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SafetyStatus(nil), p.safety...)
}

func (p *recordingPublisher) EventsOfType(typ string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type auditRecord struct {
	action, wheel, result string
}

type recordingAudit struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *recordingAudit) LogAction(_ context.Context, action, wheel, result string, _ time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, auditRecord{action, wheel, result})
}

func (a *recordingAudit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r.action)
	}
	return out
}

type harness struct {
	ctrl  *Controller
	left  *fake.Channel
	right *fake.Channel
	pub   *recordingPublisher
	audit *recordingAudit
	clock *testClock
	logs  *observer.ObservedLogs
}

func newObservedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

// newHarness builds a controller around two fake wheels with a manual clock.
// setup runs on the wheels before New reads the initial positions.
func newHarness(t *testing.T, params *config.Params, timing config.Timing, setup func(left, right *fake.Channel)) *harness {
	t.Helper()
	clock := newTestClock()
	return buildHarness(t, params, timing, setup, clock, clock.Now)
}

// newLiveHarness is newHarness on the wall clock, for tests that call Run.
func newLiveHarness(t *testing.T, params *config.Params, timing config.Timing, setup func(left, right *fake.Channel)) *harness {
	t.Helper()
	return buildHarness(t, params, timing, setup, nil, time.Now)
}

func buildHarness(t *testing.T, params *config.Params, timing config.Timing, setup func(left, right *fake.Channel), clock *testClock, now func() time.Time) *harness {
	t.Helper()

	h := &harness{
		left:  fake.New("left"),
		right: fake.New("right"),
		pub:   &recordingPublisher{},
		audit: &recordingAudit{},
		clock: clock,
	}
	if setup != nil {
		setup(h.left, h.right)
	}

	logger, logs := newObservedLogger()
	h.logs = logs

	ctrl, err := New(context.Background(), params, timing, h.left, h.right, Env{
		Logger:    logger,
		Publisher: h.pub,
		Audit:     h.audit,
		Now:       now,
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	h.ctrl = ctrl
	return h
}

// fastTiming is used by tests that run the real loop.
func fastTiming() config.Timing {
	return config.Timing{
		OdometryPeriod:   10 * time.Millisecond,
		WatchdogTimeout:  80 * time.Millisecond,
		SafetyPeriod:     20 * time.Millisecond,
		PowerPeriod:      30 * time.Millisecond,
		MotorCallTimeout: 10 * time.Millisecond,
		CommandQueueSize: 16,
	}
}

type harnessLogs struct {
	logs *observer.ObservedLogs
}

func (h *harnessLogs) count(msg string) int {
	return h.logs.FilterMessage(msg).Len()
}
