package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ez-Support/swd-ros-controllers/internal/config"
	"github.com/ez-Support/swd-ros-controllers/internal/drive"
	"github.com/ez-Support/swd-ros-controllers/internal/kinematics"
	"github.com/ez-Support/swd-ros-controllers/internal/odometry"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu         sync.Mutex
	open       bool
	subscribed map[string]paho.MessageHandler
	published  []published
}

func newFakeClient() *fakeClient {
	return &fakeClient{open: true, subscribed: make(map[string]paho.MessageHandler)}
}

func (c *fakeClient) IsConnected() bool { return c.IsConnectionOpen() }
func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
func (c *fakeClient) Connect() paho.Token { return doneToken{} }
func (c *fakeClient) Disconnect(uint)     {}
func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return doneToken{}
}
func (c *fakeClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed[topic] = cb
	return doneToken{}
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return doneToken{err: errors.New("not supported")}
}
func (c *fakeClient) Unsubscribe(...string) paho.Token        { return doneToken{} }
func (c *fakeClient) AddRoute(string, paho.MessageHandler)    {}
func (c *fakeClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func (c *fakeClient) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for t := range c.subscribed {
		out = append(out, t)
	}
	return out
}

func (c *fakeClient) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	c.mu.Lock()
	cb, ok := c.subscribed[topic]
	c.mu.Unlock()
	require.True(t, ok, "not subscribed to %s", topic)
	cb(c, fakeMessage{topic: topic, payload: []byte(payload)})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type call struct {
	name  string
	a, b  float64
	brake string
	actor string
}

type fakeCommander struct {
	mode  kinematics.Mode
	err   error
	calls []call
}

func (f *fakeCommander) Mode() kinematics.Mode { return f.mode }

func (f *fakeCommander) SubmitTwist(ctx context.Context, linear, angular float64) error {
	f.calls = append(f.calls, call{name: "twist", a: linear, b: angular, actor: drive.ActorFromContext(ctx)})
	return f.err
}

func (f *fakeCommander) SubmitWheelSpeeds(ctx context.Context, left, right float64) error {
	f.calls = append(f.calls, call{name: "speeds", a: left, b: right, actor: drive.ActorFromContext(ctx)})
	return f.err
}

func (f *fakeCommander) SubmitBrake(ctx context.Context, signal string) error {
	f.calls = append(f.calls, call{name: "brake", brake: signal, actor: drive.ActorFromContext(ctx)})
	return f.err
}

func newTestBridge(prefix string, cmd Commander) (*Bridge, *fakeClient) {
	b := newBridge(config.MQTTConfig{Broker: "tcp://test:1883", TopicPrefix: prefix, QoS: 1}, cmd, nil)
	client := newFakeClient()
	b.client = client
	return b, client
}

func TestNew_Validates(t *testing.T) {
	_, err := New(config.MQTTConfig{}, nil)
	assert.Error(t, err)

	_, err = New(config.MQTTConfig{Broker: "tcp://localhost:1883", QoS: 3}, nil)
	assert.Error(t, err)

	b, err := New(config.MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "diffdrive"}, nil)
	require.NoError(t, err)
	assert.False(t, b.Stats().Connected)
}

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "odom"},
		{"robot1", "robot1/odom"},
		{"robot1/", "robot1/odom"},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			b, _ := newTestBridge(tt.prefix, &fakeCommander{})
			assert.Equal(t, tt.want, b.Topic(TopicOdom))
		})
	}
}

func TestOnConnect_SubscribesByMode(t *testing.T) {
	b, client := newTestBridge("base", &fakeCommander{mode: kinematics.ModeTwist})
	b.onConnect(client)
	assert.ElementsMatch(t, []string{"base/cmd_vel", "base/soft_brake"}, client.topics())

	b, client = newTestBridge("base", &fakeCommander{mode: kinematics.ModeWheelSpeeds})
	b.onConnect(client)
	assert.ElementsMatch(t, []string{"base/set_speed", "base/soft_brake"}, client.topics())
}

func TestCommands_SubmittedWithActor(t *testing.T) {
	cmd := &fakeCommander{mode: kinematics.ModeTwist}
	b, client := newTestBridge("", cmd)
	b.onConnect(client)

	client.deliver(t, "cmd_vel", `{"linear":{"x":0.5,"y":9},"angular":{"z":-0.25}}`)
	client.deliver(t, "soft_brake", `{"data":"enable"}`)
	client.deliver(t, "soft_brake", `"disable"`)
	client.deliver(t, "soft_brake", `on`)

	want := []call{
		{name: "twist", a: 0.5, b: -0.25, actor: Actor},
		{name: "brake", brake: "enable", actor: Actor},
		{name: "brake", brake: "disable", actor: Actor},
		{name: "brake", brake: "on", actor: Actor},
	}
	if diff := cmp.Diff(want, cmd.calls, cmp.AllowUnexported(call{})); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(4), b.Stats().Received)
	assert.Zero(t, b.Stats().Rejected)
}

func TestCommands_WheelSpeeds(t *testing.T) {
	cmd := &fakeCommander{mode: kinematics.ModeWheelSpeeds}
	b, client := newTestBridge("", cmd)
	b.onConnect(client)

	client.deliver(t, "set_speed", `{"left":1.5,"right":-2}`)
	require.Len(t, cmd.calls, 1)
	assert.Equal(t, call{name: "speeds", a: 1.5, b: -2, actor: Actor}, cmd.calls[0])
}

func TestCommands_Rejected(t *testing.T) {
	cmd := &fakeCommander{mode: kinematics.ModeTwist}
	b, client := newTestBridge("", cmd)
	b.onConnect(client)

	client.deliver(t, "cmd_vel", `not json`)
	assert.Empty(t, cmd.calls)

	cmd.err = drive.ErrStopped
	client.deliver(t, "cmd_vel", `{"linear":{"x":1}}`)
	assert.Len(t, cmd.calls, 1)

	stats := b.Stats()
	assert.Equal(t, int64(2), stats.Received)
	assert.Equal(t, int64(2), stats.Rejected)
}

func TestPublishOdometry_OdomAndTF(t *testing.T) {
	b, client := newTestBridge("r1", &fakeCommander{})

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := drive.OdometryMessage{
		Timestamp:    ts,
		FrameID:      "odom",
		ChildFrameID: "base_link",
		Pose:         odometry.Pose{X: 1, Y: 2, Theta: 0},
		Orientation:  odometry.Quaternion(0),
		Twist:        odometry.Twist{Linear: 0.5},
	}
	require.NoError(t, b.PublishOdometry(msg))
	require.NoError(t, b.PublishSafety(drive.SafetyStatus{SafeTorqueOff: true}))

	require.Len(t, client.published, 3)
	assert.Equal(t, "r1/odom", client.published[0].topic)
	assert.Equal(t, "r1/tf", client.published[1].topic)
	assert.Equal(t, "r1/safety", client.published[2].topic)
	assert.Equal(t, byte(1), client.published[0].qos)

	var odom drive.OdometryMessage
	require.NoError(t, json.Unmarshal(client.published[0].payload, &odom))
	if diff := cmp.Diff(msg, odom); diff != "" {
		t.Errorf("odom mismatch (-want +got):\n%s", diff)
	}

	var tf TransformMessage
	require.NoError(t, json.Unmarshal(client.published[1].payload, &tf))
	want := TransformMessage{
		Timestamp:    ts,
		FrameID:      "odom",
		ChildFrameID: "base_link",
		Translation:  Vector3{X: 1, Y: 2},
		Rotation:     odometry.Orientation{W: 1},
	}
	if diff := cmp.Diff(want, tf); diff != "" {
		t.Errorf("tf mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(3), b.Stats().Published)
}

func TestPublish_DropsWhileDisconnected(t *testing.T) {
	b, client := newTestBridge("", &fakeCommander{})
	client.open = false

	require.NoError(t, b.PublishEvent(drive.Event{Type: drive.EventWatchdog}))
	require.NoError(t, b.PublishSafety(drive.SafetyStatus{}))

	assert.Empty(t, client.published)
	stats := b.Stats()
	assert.False(t, stats.Connected)
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Zero(t, stats.Published)
}

func TestStartStop(t *testing.T) {
	b, _ := newTestBridge("", nil)
	assert.Error(t, b.Start(context.Background(), nil))
	require.NoError(t, b.Start(context.Background(), &fakeCommander{}))
	b.Stop()
	b.Stop()
}

func TestOnConnect_WithoutCommander(t *testing.T) {
	b, client := newTestBridge("", nil)
	b.onConnect(client)
	assert.Empty(t, client.topics())
}
