package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hostpulse/hostpulse/internal/metrics"
	"github.com/hostpulse/hostpulse/pkg/types"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsQueueCapacity = 256
)

// snapshotMessage is the first frame on every connection: the client's
// initial state before the live stream begins.
type snapshotMessage struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Snapshot  types.Snapshot `json:"snapshot"`
}

// handleWebSocket upgrades the connection and streams engine events. The
// snapshot goes out first, so a client never sees a gap between its initial
// state and the live updates that follow.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.engine.Subscribe(wsQueueCapacity)
	if sub == nil {
		conn.Close()
		return
	}

	metrics.WebSocketConnections.Inc()
	s.logger.Debug("websocket connected",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("remote", r.RemoteAddr))

	defer func() {
		s.engine.Unsubscribe(sub.ID)
		conn.Close()
		metrics.WebSocketConnections.Dec()
		s.logger.Debug("websocket closed", zap.String("subscription_id", sub.ID.String()))
	}()

	// Reader goroutine: clients send nothing meaningful, but reading is how
	// we notice a peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap := snapshotMessage{
		Type:      "snapshot",
		Timestamp: time.Now(),
		Snapshot:  s.engine.Snapshot(0, 0),
	}
	if err := s.writeWS(conn, snap); err != nil {
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return

		case event, ok := <-sub.Events():
			if !ok {
				// Engine shut down; tell the client before hanging up.
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"),
					deadline)
				return
			}
			if err := s.writeWS(conn, event); err != nil {
				return
			}

		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeWS(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}

// checkOrigin admits the configured origins; "*" admits everything. Requests
// without an Origin header (non-browser clients) always pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
