package channel

import (
	"log/slog"
	"net/http"
	"time"

	"gardenbot/internal/bus"

	"github.com/gorilla/websocket"
)

const (
	wsBufferSize   = 32
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReplayWindow = 5 * time.Minute
)

// EventSource is the event bus as the progress stream sees it.
type EventSource interface {
	On(eventType string, handler bus.EventHandler) string
	Off(eventType, handlerID string)
	Replay(eventType string, since time.Time) []bus.Event
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the dashboard is served from another origin; auth still applies
	},
}

// eventStream pushes analysis progress to WebSocket clients. Clients only
// listen; anything they send is discarded.
type eventStream struct {
	events EventSource
	status func() map[string]any
	logger *slog.Logger
}

func (s *eventStream) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// A slow client loses events rather than stalling the emitter.
	out := make(chan bus.Event, wsBufferSize)
	id := s.events.On("*", func(e bus.Event) {
		select {
		case out <- e:
		default:
			s.logger.Debug("websocket client lagging, event dropped", "event", e.Type)
		}
	})
	defer s.events.Off("*", id)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("websocket read error", "err", err)
				}
				return
			}
		}
	}()

	s.logger.Info("websocket client connected", "remote", r.RemoteAddr)
	defer s.logger.Info("websocket client disconnected", "remote", r.RemoteAddr)

	hello := bus.Event{Type: "status", Source: "gateway", Payload: s.status(), Timestamp: time.Now()}
	if err := s.write(conn, hello); err != nil {
		return
	}
	for _, e := range s.events.Replay("*", time.Now().Add(-wsReplayWindow)) {
		if err := s.write(conn, e); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case e := <-out:
			if err := s.write(conn, e); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *eventStream) write(conn *websocket.Conn, e bus.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(e); err != nil {
		s.logger.Debug("websocket write failed", "err", err)
		return err
	}
	return nil
}
