package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/neoraffle/internal/events"
)

const (
	streamBuffer    = 64
	streamWriteWait = 10 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStream pushes notifications to a websocket client as they occur. An
// optional ?type= narrows the stream. Slow clients lose notifications rather
// than stalling the engine.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filterType := events.Type(r.URL.Query().Get("type"))
	queue := make(chan events.Notification, streamBuffer)
	unsubscribe := s.events.SubscribeFiltered(
		func(n events.Notification) bool { return filterType == "" || n.Type == filterType },
		func(n events.Notification) {
			select {
			case queue <- n:
			default:
				s.log.WithField("sequence", n.Sequence).Warn("stream client too slow, notification dropped")
			}
		},
	)
	defer unsubscribe()

	// Subscribed before the handshake completes so the client sees every
	// notification after its connection is accepted.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithContext(r.Context()).WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case n := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
