package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/archon-ai/mcp-controlplane/internal/ctlerr"
)

// logFrame is one frame the socket emits, per spec.md §6: `{type:
// "connection"|"ping"|<log>}`.
type logFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Entry   any    `json:"entry,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const logStreamPingInterval = 30 * time.Second

// handleLogsStream upgrades to a WebSocket and fans out log ring updates
// for server_id, per spec.md §6's /api/mcp/logs/stream.
func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	serverID := r.URL.Query().Get("server_id")
	if serverID == "" {
		writeError(w, ctlerr.New(ctlerr.KindValidation, "server_id is required"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("log stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go drainClient(conn, cancel)

	if err := conn.WriteJSON(logFrame{Type: "connection", Message: "connected"}); err != nil {
		return
	}

	ticker := time.NewTicker(logStreamPingInterval)
	defer ticker.Stop()

	var lastSeen int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(logFrame{Type: "ping"}); err != nil {
				return
			}
		default:
		}

		ring := s.supervisor.LogRing(serverID)
		if ring == nil {
			time.Sleep(500 * time.Millisecond)
			continue
		}
		entries := ring.Tail(0)
		if len(entries) > lastSeen {
			for _, e := range entries[lastSeen:] {
				if err := conn.WriteJSON(logFrame{Type: "log", Entry: e}); err != nil {
					return
				}
			}
			lastSeen = len(entries)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

// drainClient discards inbound client frames (this socket is server→client
// only) and cancels ctx once the client disconnects.
func drainClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

