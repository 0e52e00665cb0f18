// Package telemetry fans controller output out to streaming clients.
//
// Every published item gets a hub-wide monotonic ID and is kept in a bounded
// per-topic ring buffer. Clients subscribe over Server-Sent Events or
// WebSocket, may filter by topic, and resume after a disconnect by sending the
// last ID they saw (Last-Event-ID header or lastEventId query parameter).
package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ez-Support/swd-ros-controllers/internal/config"
	"github.com/ez-Support/swd-ros-controllers/internal/drive"
)

// Topics.
const (
	TopicOdometry = "odometry"
	TopicSafety   = "safety"
	TopicFault    = "fault"
	TopicCommand  = "command"
)

// Topics lists every buffered topic.
var Topics = []string{TopicOdometry, TopicSafety, TopicFault, TopicCommand}

// Event is one item on the stream. Type is the SSE event name.
type Event struct {
	ID    int64       `json:"id"`
	Topic string      `json:"topic"`
	Type  string      `json:"type"`
	Time  time.Time   `json:"ts"`
	Data  interface{} `json:"data"`
}

// Stats counts hub activity.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
	LastID      int64 `json:"lastId"`
}

// Hub manages telemetry distribution with per-topic buffering.
//
// Lock order: h.mu before ringBuffer.mu.
type Hub struct {
	cfg    config.TelemetryConfig
	logger *zap.SugaredLogger
	now    func() time.Time

	mu      sync.RWMutex
	clients map[string]*subscriber
	buffers map[string]*ringBuffer

	nextID    atomic.Int64
	clientSeq atomic.Int64
	published atomic.Int64
	dropped   atomic.Int64

	done     chan struct{}
	stopOnce sync.Once
}

var _ drive.Publisher = (*Hub)(nil)

type subscriber struct {
	id     string
	topics map[string]bool
	events chan Event
}

func (s *subscriber) wants(topic string) bool {
	return len(s.topics) == 0 || s.topics[topic]
}

// NewHub creates a hub. Zero config values fall back to defaults.
func NewHub(cfg config.TelemetryConfig, logger *zap.SugaredLogger) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 50
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	h := &Hub{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		clients: make(map[string]*subscriber),
		buffers: make(map[string]*ringBuffer, len(Topics)),
		done:    make(chan struct{}),
	}
	for _, t := range Topics {
		h.buffers[t] = newRingBuffer(cfg.BufferSize)
	}
	return h
}

// Publish assigns the next ID, buffers the event and hands it to every
// matching subscriber. Slow subscribers lose the event; Publish never blocks.
func (h *Hub) Publish(topic, typ string, data interface{}) Event {
	ev := Event{
		ID:    h.nextID.Add(1),
		Topic: topic,
		Type:  typ,
		Time:  h.now().UTC(),
		Data:  data,
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if buf, ok := h.buffers[topic]; ok {
		buf.add(ev)
	}
	for _, c := range h.clients {
		if !c.wants(topic) {
			continue
		}
		select {
		case c.events <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	return ev
}

// PublishOdometry implements drive.Publisher.
func (h *Hub) PublishOdometry(msg drive.OdometryMessage) error {
	h.Publish(TopicOdometry, "odometry", msg)
	return nil
}

// PublishSafety implements drive.Publisher.
func (h *Hub) PublishSafety(status drive.SafetyStatus) error {
	h.Publish(TopicSafety, "safety", status)
	return nil
}

// PublishEvent implements drive.Publisher. Faults go to the fault topic,
// every other controller action to the command topic.
func (h *Hub) PublishEvent(ev drive.Event) error {
	topic := TopicCommand
	if ev.Type == drive.EventFault {
		topic = TopicFault
	}
	h.Publish(topic, ev.Type, ev)
	return nil
}

// subscribe registers a client and returns the buffered events after lastID.
// Registration and the replay snapshot happen under one lock so that no
// event is both replayed and delivered, or neither.
func (h *Hub) subscribe(topics map[string]bool, lastID int64) (*subscriber, []Event, error) {
	select {
	case <-h.done:
		return nil, nil, ErrHubStopped
	default:
	}

	c := &subscriber{
		id:     fmt.Sprintf("client_%d", h.clientSeq.Add(1)),
		topics: topics,
		events: make(chan Event, h.cfg.BufferSize*2),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var replay []Event
	if lastID > 0 {
		var cutoff time.Time
		if h.cfg.Retention > 0 {
			cutoff = h.now().Add(-h.cfg.Retention)
		}
		for topic, buf := range h.buffers {
			if c.wants(topic) {
				replay = append(replay, buf.after(lastID, cutoff)...)
			}
		}
		sort.Slice(replay, func(i, j int) bool { return replay[i].ID < replay[j].ID })
	}

	h.clients[c.id] = c
	return c, replay, nil
}

func (h *Hub) unsubscribe(c *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
}

func (h *Hub) heartbeat() Event {
	return Event{
		Type: "heartbeat",
		Time: h.now().UTC(),
		Data: map[string]interface{}{"ts": h.now().UTC().Format(time.RFC3339)},
	}
}

func (h *Hub) ready(c *subscriber) Event {
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	if len(topics) == 0 {
		topics = append(topics, Topics...)
	}
	sort.Strings(topics)

	return Event{
		Type: "ready",
		Time: h.now().UTC(),
		Data: map[string]interface{}{
			"clientId": c.id,
			"topics":   topics,
			"lastId":   h.nextID.Load(),
		},
	}
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		Subscribers: n,
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		LastID:      h.nextID.Load(),
	}
}

// Stop ends every open stream. Publishing after Stop still buffers.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// ParseTopics reads a comma-separated topic filter. Empty means all topics.
func ParseTopics(s string) (map[string]bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	out := make(map[string]bool)
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if _, ok := topicSet[t]; !ok {
			return nil, fmt.Errorf("unknown topic %q", t)
		}
		out[t] = true
	}
	return out, nil
}

var topicSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Topics))
	for _, t := range Topics {
		m[t] = struct{}{}
	}
	return m
}()

// ringBuffer keeps the most recent events of one topic.
type ringBuffer struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{events: make([]Event, capacity)}
}

func (b *ringBuffer) add(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[b.next] = ev
	b.next = (b.next + 1) % len(b.events)
	if b.next == 0 {
		b.full = true
	}
}

// after returns buffered events with ID > lastID, oldest first, skipping
// events older than cutoff.
func (b *ringBuffer) after(lastID int64, cutoff time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var ordered []Event
	if b.full {
		ordered = append(ordered, b.events[b.next:]...)
	}
	ordered = append(ordered, b.events[:b.next]...)

	var out []Event
	for _, ev := range ordered {
		if ev.ID > lastID && !ev.Time.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

func (b *ringBuffer) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.full {
		return len(b.events)
	}
	return b.next
}
