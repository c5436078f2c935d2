package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/archon-ai/mcp-controlplane/internal/bridge"
	"github.com/archon-ai/mcp-controlplane/internal/ctlerr"
	"github.com/archon-ai/mcp-controlplane/internal/transport"
)

var bridgeUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleBridgeAttach upgrades the caller's connection to a WebSocket
// Adapter, attaches a stdio Adapter to server_id's running container via
// the Exec Stream Handler (Supervisor.Attach), and couples the two through
// a fresh Bridge, per spec.md §4.4: "clients open a Bridge session anchored
// to a worker; the Bridge attaches a stdio Adapter whose stream is the Exec
// Stream Handler." Messages flow bidirectionally until either side
// disconnects.
func (s *Server) handleBridgeAttach(w http.ResponseWriter, r *http.Request) {
	serverID := r.URL.Query().Get("server_id")
	if serverID == "" {
		writeError(w, ctlerr.New(ctlerr.KindValidation, "server_id is required"))
		return
	}

	stream, err := s.supervisor.Attach(r.Context(), serverID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := bridgeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("bridge attach upgrade failed: %v", err)
		stream.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	stdio := transport.NewStdioAdapter(stream.Stdin, stream.Stdout, stream.Stderr, stream.Close)
	ws := transport.NewWebSocketAdapter(conn)
	b := bridge.New()
	b.Couple(stdio, ws)
	b.Couple(ws, stdio)

	if err := stdio.Connect(ctx); err != nil {
		cancel()
		conn.Close()
		stream.Close()
		return
	}
	if err := ws.Connect(ctx); err != nil {
		cancel()
		stdio.Disconnect()
		conn.Close()
		return
	}

	go func() {
		transport.RunReceiveLoop(ctx, stdio, b.HandleIncoming)
		cancel()
	}()
	transport.RunReceiveLoop(ctx, ws, b.HandleIncoming)

	cancel()
	stdio.Disconnect()
	ws.Disconnect()
}
