package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrHubStopped is returned when subscribing to a stopped hub.
var ErrHubStopped = errors.New("telemetry hub stopped")

// lastEventID reads the resume point from the Last-Event-ID header or the
// lastEventId query parameter.
func lastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// Subscribe streams events to w as Server-Sent Events until ctx is done, the
// client goes away or the hub stops. The optional topics query parameter
// filters the stream.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("streaming unsupported")
	}
	topics, err := ParseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		return err
	}

	c, replay, err := h.subscribe(topics, lastEventID(r))
	if err != nil {
		return err
	}
	defer h.unsubscribe(c)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, h.ready(c)); err != nil {
		return err
	}
	for _, ev := range replay {
		if err := writeSSE(w, ev); err != nil {
			return err
		}
	}
	flusher.Flush()

	h.logger.Debugw("telemetry client connected", "client", c.id, "transport", "sse", "replayed", len(replay))
	defer h.logger.Debugw("telemetry client disconnected", "client", c.id)

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.Context().Done():
			return nil
		case <-h.done:
			return nil
		case <-heartbeat.C:
			if err := writeSSE(w, h.heartbeat()); err != nil {
				return err
			}
			flusher.Flush()
		case ev := <-c.events:
			if err := writeSSE(w, ev); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// writeSSE formats one event. Events without an ID (ready, heartbeat) do
// not move the client's resume point.
func writeSSE(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if ev.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", ev.ID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
