package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-ai/mcp-controlplane/internal/backend"
	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
	"github.com/archon-ai/mcp-controlplane/internal/supervisor"
)

// fakeBackend mirrors the supervisor package's own test double: an
// in-memory backend.Driver so routes can be exercised without a real
// Docker daemon or Kubernetes cluster.
type fakeBackend struct {
	mu        sync.Mutex
	workloads map[string]backend.WorkloadStatus
	healthErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{workloads: map[string]backend.WorkloadStatus{}}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Create(ctx context.Context, spec backend.WorkloadSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workloads[spec.ServerID] = backend.WorkloadStatus{Phase: "Running", Ready: true, Found: true}
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workloads, serverID)
	return nil
}

func (f *fakeBackend) Status(ctx context.Context) (map[string]backend.WorkloadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]backend.WorkloadStatus{}
	for k, v := range f.workloads {
		out[k] = v
	}
	return out, nil
}

func (f *fakeBackend) Logs(ctx context.Context, serverID string, limit int) ([]mcpctl.LogEntry, error) {
	return []mcpctl.LogEntry{{Message: "hello"}}, nil
}

func (f *fakeBackend) Exec(ctx context.Context, serverID string) (*backend.ExecStream, error) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	go io.Copy(stdoutW, stdinR) // echo: anything written to stdin comes back out stdout
	return &backend.ExecStream{
		Stdin:  stdinW,
		Stdout: stdoutR,
		Stderr: strings.NewReader(""),
		Close:  func() error { stdinW.Close(); stdoutW.Close(); return nil },
	}, nil
}

func (f *fakeBackend) Health(ctx context.Context) error { return f.healthErr }

func newTestServer(t *testing.T) (*httptest.Server, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend()
	sup := supervisor.New(fb, mcpctl.ModeDocker, supervisor.Config{MaxConcurrentServers: 10})
	return httptest.NewServer(New(sup)), fb
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestHandleHealth_OKWhenBackendHealthy(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.True(t, env.Success)
	assert.Equal(t, "healthy", env.Status)
}

func TestHandleHealth_ServiceUnavailableWhenBackendUnhealthy(t *testing.T) {
	srv, fb := newTestServer(t)
	defer srv.Close()
	fb.healthErr = assert.AnError

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.False(t, env.Success)
	assert.Equal(t, "unhealthy", env.Status)
}

func TestHandleStart_CreatesInstanceAndReturnsServerID(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(startRequest{
		ServerType: mcpctl.ServerTypeNPX,
		Name:       "brave",
		Package:    "@modelcontextprotocol/server-brave-search",
		Transport:  mcpctl.TransportStdio,
	})
	resp, err := http.Post(srv.URL+"/servers/start", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.True(t, env.Success)
	assert.Contains(t, env.ServerID, "npx-brave-")
}

func TestHandleStart_InvalidBodyReturnsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/servers/start", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	assert.False(t, env.Success)
}

func TestHandleStop_UnknownServerIDReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(stopRequest{ServerID: "npx-missing-1"})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/servers/stop", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleList_ReturnsTotalCount(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(startRequest{ServerType: mcpctl.ServerTypeNPX, Name: "brave", Package: "server-brave-search"})
	resp, err := http.Post(srv.URL+"/servers/start", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/servers/list")
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload struct {
		Servers    []mcpctl.ServerInstance `json:"servers"`
		TotalCount int                     `json:"total_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, 1, payload.TotalCount)
}

func TestHandleLogs_MissingServerIDReturnsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/logs")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleLogsStream_SendsConnectionFrame(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/api/mcp/logs/stream?server_id=npx-brave-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame logFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "connection", frame.Type)
}

func TestHandleBridgeAttach_MissingServerIDReturnsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/mcp/bridge")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleBridgeAttach_UnknownServerIDReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/mcp/bridge?server_id=missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleBridgeAttach_RoundTripsMessageToStdio(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	body, _ := json.Marshal(startRequest{ServerType: mcpctl.ServerTypeNPX, Name: "brave", Package: "server-brave-search"})
	startResp, err := http.Post(srv.URL+"/servers/start", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	env := decodeEnvelope(t, startResp)
	startResp.Body.Close()
	serverID := env.ServerID

	wsURL := "ws" + srv.URL[len("http"):] + "/api/mcp/bridge?server_id=" + serverID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	req := mcpctl.MCPMessage{ID: "1", Kind: mcpctl.KindRequest, Method: "ping"}
	reqBody, err := req.ToJSONRPC()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, reqBody))

	// The bridge answers the unregistered "ping" with its own
	// method-not-found reply before the request's copy comes back through
	// the stdio echo, so read until the echoed request arrives.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var echoed mcpctl.MCPMessage
	for echoed.Method != "ping" {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		echoed, err = mcpctl.FromJSONRPC(data)
		require.NoError(t, err)
	}
	assert.Equal(t, "1", echoed.ID)
	assert.Equal(t, mcpctl.KindRequest, echoed.Kind)
}
