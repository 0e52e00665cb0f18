// Package mqtt bridges the controller to an MQTT broker.
//
// The bridge subscribes to one velocity topic, chosen by the controller's
// mode (cmd_vel for Twist, set_speed for LeftRightSpeeds), and to soft_brake.
// It publishes odom, tf, safety and events as JSON. Every topic is relative
// to the configured prefix.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ez-Support/swd-ros-controllers/internal/config"
	"github.com/ez-Support/swd-ros-controllers/internal/drive"
	"github.com/ez-Support/swd-ros-controllers/internal/kinematics"
	"github.com/ez-Support/swd-ros-controllers/internal/odometry"
)

// Topic names below the prefix.
const (
	TopicCmdVel    = "cmd_vel"
	TopicSetSpeed  = "set_speed"
	TopicSoftBrake = "soft_brake"
	TopicOdom      = "odom"
	TopicTF        = "tf"
	TopicSafety    = "safety"
	TopicEvents    = "events"
)

// Actor is the audit principal for commands that arrive over MQTT.
const Actor = "mqtt"

const (
	submitTimeout  = 100 * time.Millisecond
	publishTimeout = 2 * time.Second
	pendingSize    = 64
)

// Commander is the part of the controller the bridge drives.
type Commander interface {
	Mode() kinematics.Mode
	SubmitTwist(ctx context.Context, linear, angular float64) error
	SubmitWheelSpeeds(ctx context.Context, left, right float64) error
	SubmitBrake(ctx context.Context, signal string) error
}

// Vector3 is a ROS-style three component vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// TwistMessage is the cmd_vel payload. Only linear.x and angular.z are used.
type TwistMessage struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// WheelSpeedsMessage is the set_speed payload in rad/s at the wheel.
type WheelSpeedsMessage struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// BrakeMessage is the soft_brake payload. A bare string payload is accepted too.
type BrakeMessage struct {
	Data string `json:"data"`
}

// TransformMessage is the odom -> base_link transform published on tf.
type TransformMessage struct {
	Timestamp    time.Time            `json:"timestamp"`
	FrameID      string               `json:"frameId"`
	ChildFrameID string               `json:"childFrameId"`
	Translation  Vector3              `json:"translation"`
	Rotation     odometry.Orientation `json:"rotation"`
}

// Stats counts bridge traffic.
type Stats struct {
	Connected bool  `json:"connected"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Received  int64 `json:"received"`
	Rejected  int64 `json:"rejected"`
}

type pendingPublish struct {
	topic string
	token paho.Token
}

// Bridge is a paho client wired to a controller.
type Bridge struct {
	cfg    config.MQTTConfig
	cmd    Commander
	logger *zap.SugaredLogger
	client paho.Client

	mu  sync.RWMutex
	ctx context.Context

	published atomic.Int64
	dropped   atomic.Int64
	received  atomic.Int64
	rejected  atomic.Int64

	pending  chan pendingPublish
	done     chan struct{}
	stopOnce sync.Once
}

var _ drive.Publisher = (*Bridge)(nil)

// New creates a bridge for cfg. Nothing connects until Start.
func New(cfg config.MQTTConfig, logger *zap.SugaredLogger) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}
	b := newBridge(cfg, nil, logger)

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(b.onConnectionLost)

	b.client = paho.NewClient(opts)
	return b, nil
}

func newBridge(cfg config.MQTTConfig, cmd Commander, logger *zap.SugaredLogger) *Bridge {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &Bridge{
		cfg:     cfg,
		cmd:     cmd,
		logger:  logger,
		ctx:     context.Background(),
		pending: make(chan pendingPublish, pendingSize),
		done:    make(chan struct{}),
	}
}

// Start connects to the broker and forwards received commands to cmd under
// ctx. An unreachable broker is not an error: the client keeps retrying in
// the background and subscribes once connected.
func (b *Bridge) Start(ctx context.Context, cmd Commander) error {
	if cmd == nil {
		return errors.New("mqtt bridge needs a commander")
	}
	b.mu.Lock()
	b.ctx = ctx
	b.cmd = cmd
	b.mu.Unlock()

	go b.watchPublishes()

	b.logger.Infow("connecting to mqtt broker", "broker", b.cfg.Broker, "clientId", b.cfg.ClientID)
	token := b.client.Connect()
	if !token.WaitTimeout(b.cfg.ConnectTimeout) {
		b.logger.Warnw("mqtt broker not reachable yet, retrying in background", "broker", b.cfg.Broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", b.cfg.Broker, err)
	}
	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		if b.client != nil {
			b.client.Disconnect(250)
		}
		b.logger.Info("mqtt bridge stopped")
	})
}

// Topic returns the full topic for name.
func (b *Bridge) Topic(name string) string {
	prefix := b.cfg.TopicPrefix
	if prefix == "" {
		return name
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + name
}

// Stats returns the current counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Connected: b.client != nil && b.client.IsConnectionOpen(),
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Received:  b.received.Load(),
		Rejected:  b.rejected.Load(),
	}
}

// onConnect runs on every (re)connect. The session is clean, so the
// subscriptions are made again each time.
func (b *Bridge) onConnect(client paho.Client) {
	b.mu.RLock()
	cmd := b.cmd
	b.mu.RUnlock()
	if cmd == nil {
		b.logger.Error("mqtt connected before a commander was attached")
		return
	}

	velocity, handler := TopicCmdVel, b.onCmdVel
	if cmd.Mode() == kinematics.ModeWheelSpeeds {
		velocity, handler = TopicSetSpeed, b.onSetSpeed
	}

	subs := []struct {
		topic   string
		handler paho.MessageHandler
	}{
		{b.Topic(velocity), handler},
		{b.Topic(TopicSoftBrake), b.onSoftBrake},
	}
	for _, s := range subs {
		token := client.Subscribe(s.topic, b.cfg.QoS, s.handler)
		if !token.WaitTimeout(b.cfg.ConnectTimeout) {
			b.logger.Errorw("mqtt subscription timeout", "topic", s.topic)
			continue
		}
		if err := token.Error(); err != nil {
			b.logger.Errorw("mqtt subscription failed", "topic", s.topic, "error", err)
			continue
		}
		b.logger.Infow("subscribed to mqtt topic", "topic", s.topic, "qos", b.cfg.QoS)
	}
}

func (b *Bridge) onConnectionLost(_ paho.Client, err error) {
	b.logger.Warnw("mqtt connection lost", "error", err)
}

func (b *Bridge) onCmdVel(_ paho.Client, msg paho.Message) {
	b.handle(msg, func(ctx context.Context, cmd Commander, payload []byte) error {
		var m TwistMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return fmt.Errorf("invalid cmd_vel payload: %w", err)
		}
		return cmd.SubmitTwist(ctx, m.Linear.X, m.Angular.Z)
	})
}

func (b *Bridge) onSetSpeed(_ paho.Client, msg paho.Message) {
	b.handle(msg, func(ctx context.Context, cmd Commander, payload []byte) error {
		var m WheelSpeedsMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			return fmt.Errorf("invalid set_speed payload: %w", err)
		}
		return cmd.SubmitWheelSpeeds(ctx, m.Left, m.Right)
	})
}

func (b *Bridge) onSoftBrake(_ paho.Client, msg paho.Message) {
	b.handle(msg, func(ctx context.Context, cmd Commander, payload []byte) error {
		return cmd.SubmitBrake(ctx, brakeSignal(payload))
	})
}

// brakeSignal reads {"data": "..."} or a bare string.
func brakeSignal(payload []byte) string {
	var m BrakeMessage
	if err := json.Unmarshal(payload, &m); err == nil {
		return m.Data
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(payload))
}

// handle submits one inbound message. Paho calls handlers from its router,
// so the submission is bounded by submitTimeout.
func (b *Bridge) handle(msg paho.Message, submit func(ctx context.Context, cmd Commander, payload []byte) error) {
	b.received.Add(1)

	b.mu.RLock()
	base, cmd := b.ctx, b.cmd
	b.mu.RUnlock()

	ctx, cancel := context.WithTimeout(drive.WithActor(base, Actor), submitTimeout)
	defer cancel()

	if err := submit(ctx, cmd, msg.Payload()); err != nil {
		b.rejected.Add(1)
		b.logger.Warnw("mqtt command rejected", "topic", msg.Topic(), "error", err)
	}
}

// PublishOdometry implements drive.Publisher. It publishes odom and tf.
func (b *Bridge) PublishOdometry(msg drive.OdometryMessage) error {
	tf := TransformMessage{
		Timestamp:    msg.Timestamp,
		FrameID:      msg.FrameID,
		ChildFrameID: msg.ChildFrameID,
		Translation:  Vector3{X: msg.Pose.X, Y: msg.Pose.Y},
		Rotation:     msg.Orientation,
	}
	return errors.Join(b.publish(TopicOdom, msg), b.publish(TopicTF, tf))
}

// PublishSafety implements drive.Publisher.
func (b *Bridge) PublishSafety(status drive.SafetyStatus) error {
	return b.publish(TopicSafety, status)
}

// PublishEvent implements drive.Publisher.
func (b *Bridge) PublishEvent(ev drive.Event) error {
	return b.publish(TopicEvents, ev)
}

// publish hands payload to paho without waiting for the broker. While the
// connection is down messages are dropped and counted.
func (b *Bridge) publish(name string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if !b.client.IsConnectionOpen() {
		b.dropped.Add(1)
		return nil
	}

	topic := b.Topic(name)
	token := b.client.Publish(topic, b.cfg.QoS, false, payload)
	b.published.Add(1)

	select {
	case b.pending <- pendingPublish{topic: topic, token: token}:
	default:
	}
	return nil
}

// watchPublishes logs publishes that fail or never complete.
func (b *Bridge) watchPublishes() {
	for {
		select {
		case <-b.done:
			return
		case p := <-b.pending:
			if !p.token.WaitTimeout(publishTimeout) {
				b.logger.Warnw("mqtt publish timeout", "topic", p.topic)
				continue
			}
			if err := p.token.Error(); err != nil {
				b.logger.Warnw("mqtt publish failed", "topic", p.topic, "error", err)
			}
		}
	}
}
