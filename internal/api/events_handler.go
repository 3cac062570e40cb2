package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
)

// StreamEvents handles GET /api/events. Every published event is written to
// the websocket as JSON. A client that falls behind misses events.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	sub := h.events.Subscribe()
	defer h.events.Unsubscribe(sub)

	h.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("event stream opened")

	// The read loop only handles control frames and notices disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			h.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("event stream closed by client")
			return
		case <-h.runCtx.Done():
			h.closeStream(conn, websocket.CloseGoingAway)
			return
		case ev, ok := <-sub:
			if !ok {
				h.closeStream(conn, websocket.CloseGoingAway)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug().Err(err).Msg("failed to write event")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) closeStream(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "server shutting down")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
