package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

// WebSocketAdapter maps send/receive directly onto WebSocket text frames;
// binary frames are read but handled out-of-band (forwarded to a raw byte
// sink rather than parsed as JSON-RPC), per spec.md §4.4.
type WebSocketAdapter struct {
	conn *websocket.Conn

	mu         sync.Mutex
	connected  bool
	inbound    chan mcpctl.MCPMessage
	BinarySink func([]byte)
}

// NewWebSocketAdapter wraps an already-dialed/upgraded connection.
func NewWebSocketAdapter(conn *websocket.Conn) *WebSocketAdapter {
	return &WebSocketAdapter{
		conn:      conn,
		connected: true,
		inbound:   make(chan mcpctl.MCPMessage, mcpctl.MessageQueueCapacity),
	}
}

func (a *WebSocketAdapter) Variant() mcpctl.AdapterVariant { return mcpctl.AdapterWebSocket }

func (a *WebSocketAdapter) Connect(ctx context.Context) error {
	go a.readLoop()
	return nil
}

func (a *WebSocketAdapter) readLoop() {
	defer close(a.inbound)
	for {
		kind, data, err := a.conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			a.connected = false
			a.mu.Unlock()
			return
		}
		switch kind {
		case websocket.TextMessage:
			m, err := mcpctl.FromJSONRPC(data)
			if err != nil {
				log.Warningf("websocket adapter dropped unparseable frame: %v", err)
				continue
			}
			m.Timestamp = time.Now().UTC()
			m.Protocol = "websocket"
			select {
			case a.inbound <- m:
			default:
			}
		case websocket.BinaryMessage:
			if a.BinarySink != nil {
				a.BinarySink(data)
			}
		}
	}
}

func (a *WebSocketAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return a.conn.Close()
}

func (a *WebSocketAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *WebSocketAdapter) Send(ctx context.Context, m mcpctl.MCPMessage) (bool, error) {
	if !a.IsConnected() {
		return false, nil
	}
	body, err := m.ToJSONRPC()
	if err != nil {
		return false, err
	}
	if err := a.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return false, err
	}
	return true, nil
}

func (a *WebSocketAdapter) Receive(ctx context.Context, timeout time.Duration) (*mcpctl.MCPMessage, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case m, ok := <-a.inbound:
		if !ok {
			return nil, fmt.Errorf("websocket adapter closed")
		}
		return &m, nil
	case <-timer:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
