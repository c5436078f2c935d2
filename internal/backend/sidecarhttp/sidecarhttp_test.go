package sidecarhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-ai/mcp-controlplane/internal/backend"
	"github.com/archon-ai/mcp-controlplane/internal/ctlerr"
	"github.com/archon-ai/mcp-controlplane/internal/manifest"
)

func TestDriver_Create_SuccessEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers/start", r.URL.Path)
		w.Write([]byte(`{"success":true,"server_id":"npx-brave-1"}`))
	}))
	defer srv.Close()

	d := New(srv.URL)
	err := d.Create(context.Background(), backend.WorkloadSpec{ServerID: "npx-brave-1", Manifest: manifest.Manifest{Image: "x"}})
	require.NoError(t, err)
}

func TestDriver_Create_RejectedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"bad config"}`))
	}))
	defer srv.Close()

	d := New(srv.URL)
	err := d.Create(context.Background(), backend.WorkloadSpec{ServerID: "npx-brave-1"})
	require.Error(t, err)
	var ce *ctlerr.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ctlerr.KindBackendPermanent, ce.Kind)
}

func TestDriver_Delete_NotFoundStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"status":"not_found","message":"unknown server"}`))
	}))
	defer srv.Close()

	d := New(srv.URL)
	err := d.Delete(context.Background(), "missing")
	require.Error(t, err)
	var ce *ctlerr.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ctlerr.KindNotFound, ce.Kind)
}

func TestDriver_Status_ParsesServerList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers/list", r.URL.Path)
		w.Write([]byte(`{"servers":[{"server_id":"npx-brave-1","status":"Running","ready":true}],"total_count":1}`))
	}))
	defer srv.Close()

	d := New(srv.URL)
	status, err := d.Status(context.Background())
	require.NoError(t, err)
	require.Contains(t, status, "npx-brave-1")
	assert.Equal(t, "Running", status["npx-brave-1"].Phase)
	assert.True(t, status["npx-brave-1"].Ready)
}

func TestDriver_Logs_ParsesTimestampedEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "server_id=npx-brave-1")
		w.Write([]byte(`{"logs":[{"timestamp":"2024-01-15T10:30:00Z","level":"INFO","message":"ready"}]}`))
	}))
	defer srv.Close()

	d := New(srv.URL)
	entries, err := d.Logs(context.Background(), "npx-brave-1", 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ready", entries[0].Message)
}

func TestDriver_Exec_ReturnsProtocolError(t *testing.T) {
	d := New("http://unused")
	_, err := d.Exec(context.Background(), "npx-brave-1")
	require.Error(t, err)
	var ce *ctlerr.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ctlerr.KindProtocol, ce.Kind)
}

func TestDriver_Health_UnhealthyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer srv.Close()

	d := New(srv.URL)
	err := d.Health(context.Background())
	require.Error(t, err)
	var ce *ctlerr.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ctlerr.KindUnavailable, ce.Kind)
}

func TestDriver_Do_ServerErrorSurfacesAsUnavailableThroughHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	// Health wraps whatever getJSON/do returns (backend_transient for a 5xx)
	// in KindUnavailable, per spec.md §7's backend-health mapping.
	d := New(srv.URL)
	err := d.Health(context.Background())
	require.Error(t, err)
	var ce *ctlerr.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ctlerr.KindUnavailable, ce.Kind)
}

func TestProbe_ReturnsTrueOnHealthyOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.True(t, Probe(context.Background(), srv.URL, time.Second))
}

func TestProbe_ReturnsFalseWhenUnreachable(t *testing.T) {
	assert.False(t, Probe(context.Background(), "http://127.0.0.1:1", 200*time.Millisecond))
}
