package telemetry

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 5 * time.Second
	wsReadLimit = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS streams events as JSON text frames over a WebSocket. It accepts the
// same topics and lastEventId query parameters as the SSE stream. Inbound
// frames are discarded; a ping is sent every heartbeat interval.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	topics, err := ParseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	c, replay, err := h.subscribe(topics, lastEventID(r))
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()),
			time.Now().Add(wsWriteWait))
		return
	}
	defer h.unsubscribe(c)

	h.logger.Debugw("telemetry client connected", "client", c.id, "transport", "ws", "replayed", len(replay))
	defer h.logger.Debugw("telemetry client disconnected", "client", c.id)

	// The reader only exists to notice the peer going away.
	closed := make(chan struct{})
	conn.SetReadLimit(wsReadLimit)
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev Event) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev) == nil
	}

	if !send(h.ready(c)) {
		return
	}
	for _, ev := range replay {
		if !send(ev) {
			return
		}
	}

	ping := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(wsWriteWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case ev := <-c.events:
			if !send(ev) {
				return
			}
		}
	}
}
