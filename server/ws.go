package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/gilibot/streamclips/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleNotificationsWS streams every emitted notification to the client as
// JSON. A slow client drops payloads rather than backing up the dispatcher.
func (s *Server) handleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	if s.Dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "notification feed not configured")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("err", err), slog.String("component", "server"))
		return
	}
	defer conn.Close()

	feed := make(chan notify.Payload, 64)
	sink := func(p notify.Payload) {
		select {
		case feed <- p:
		default:
		}
	}
	if err := s.Dispatcher.Subscribe(sink); err != nil {
		slog.Warn("websocket subscribe failed", slog.Any("err", err), slog.String("component", "server"))
		return
	}
	defer func() {
		if err := s.Dispatcher.Unsubscribe(sink); err != nil {
			slog.Warn("websocket unsubscribe failed", slog.Any("err", err), slog.String("component", "server"))
		}
	}()

	// Reader only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case p := <-feed:
			if err := conn.WriteJSON(p); err != nil {
				return
			}
		}
	}
}
