package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

var testUpgrader = websocket.Upgrader{}

func newWebSocketTestPair(t *testing.T, onServerConn func(*websocket.Conn)) (*WebSocketAdapter, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		onServerConn(conn)
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	a := NewWebSocketAdapter(clientConn)
	require.NoError(t, a.Connect(context.Background()))
	return a, srv.Close
}

func TestWebSocketAdapter_ReceiveParsesTextFrame(t *testing.T) {
	a, closeSrv := newWebSocketTestPair(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"ping"}`))
	})
	defer closeSrv()

	msg, err := a.Receive(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "ping", msg.Method)
	assert.Equal(t, "websocket", msg.Protocol)
}

func TestWebSocketAdapter_BinaryFrameRoutedToSink(t *testing.T) {
	received := make(chan []byte, 1)
	a, closeSrv := newWebSocketTestPair(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("raw-bytes"))
	})
	defer closeSrv()
	a.BinarySink = func(b []byte) { received <- b }

	select {
	case b := <-received:
		assert.Equal(t, "raw-bytes", string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("binary sink never invoked")
	}
}

func TestWebSocketAdapter_SendWritesTextFrame(t *testing.T) {
	received := make(chan string, 1)
	a, closeSrv := newWebSocketTestPair(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err == nil {
			received <- string(data)
		}
	})
	defer closeSrv()

	ok, err := a.Send(context.Background(), mcpctl.MCPMessage{Kind: mcpctl.KindNotification, Method: "ping"})
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case body := <-received:
		assert.Contains(t, body, `"method":"ping"`)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received frame")
	}
}
