// Package sidecarhttp implements backend.Driver for kubernetes-sidecar
// mode: the control plane does not talk to the Kubernetes API itself but
// delegates to a companion HTTP service (spec.md's glossary "Sidecar"
// entry), using the control-plane HTTP surface described in spec.md §6.
// Grounded on original_source/python/src/server/api_routes/mcp_api.py's
// MCPSidecarClient usage pattern (probed via grep; the client itself is a
// plain JSON HTTP caller).
package sidecarhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/archon-ai/mcp-controlplane/internal/backend"
	"github.com/archon-ai/mcp-controlplane/internal/ctlerr"
	"github.com/archon-ai/mcp-controlplane/internal/logging"
	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

var log = logging.Get("backend.sidecar")

// Driver calls a sidecar process's control-plane HTTP surface.
type Driver struct {
	baseURL string
	client  *http.Client
}

// New constructs a Driver pointed at baseURL (e.g. http://localhost:8053).
func New(baseURL string) *Driver {
	return &Driver{baseURL: baseURL, client: &http.Client{Timeout: 30 * time.Second}}
}

// Probe reports whether the sidecar answers a health check within
// timeout, per spec.md §4.1's resolution step 1.
func Probe(ctx context.Context, baseURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (d *Driver) Name() string { return "kubernetes-sidecar" }

type startRequest struct {
	ServerType string            `json:"server_type"`
	Name       string             `json:"name,omitempty"`
	Transport  string             `json:"transport"`
	Image      string             `json:"image,omitempty"`
	Port       int                `json:"port,omitempty"`
	Env        map[string]string  `json:"env,omitempty"`
}

type envelope struct {
	Success  bool            `json:"success"`
	Status   string          `json:"status,omitempty"`
	Message  string          `json:"message,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	ServerID string          `json:"server_id,omitempty"`
}

func (d *Driver) Create(ctx context.Context, spec backend.WorkloadSpec) error {
	body := startRequest{
		Transport: spec.Manifest.Labels["transport"],
		Image:     spec.Manifest.Image,
	}
	var env envelope
	if err := d.postJSON(ctx, "/servers/start", body, &env); err != nil {
		return err
	}
	if !env.Success {
		return ctlerr.New(ctlerr.KindBackendPermanent, "sidecar rejected start for %s: %s", spec.ServerID, env.Message)
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, serverID string) error {
	var env envelope
	if err := d.postJSON(ctx, "/servers/stop", map[string]string{"server_id": serverID}, &env); err != nil {
		return err
	}
	if !env.Success {
		if env.Status == "not_found" {
			return ctlerr.New(ctlerr.KindNotFound, "sidecar: %s", env.Message)
		}
		return ctlerr.New(ctlerr.KindBackendPermanent, "sidecar rejected stop for %s: %s", serverID, env.Message)
	}
	return nil
}

type listedServer struct {
	ServerID string `json:"server_id"`
	Status   string `json:"status"`
	Ready    bool   `json:"ready"`
	Reason   string `json:"reason,omitempty"`
}

func (d *Driver) Status(ctx context.Context) (map[string]backend.WorkloadStatus, error) {
	var payload struct {
		Servers    []listedServer `json:"servers"`
		TotalCount int            `json:"total_count"`
	}
	if err := d.getJSON(ctx, "/servers/list", &payload); err != nil {
		return nil, err
	}
	out := map[string]backend.WorkloadStatus{}
	for _, s := range payload.Servers {
		out[s.ServerID] = backend.WorkloadStatus{Phase: s.Status, Ready: s.Ready, Reason: s.Reason, Found: true}
	}
	return out, nil
}

func (d *Driver) Logs(ctx context.Context, serverID string, limit int) ([]mcpctl.LogEntry, error) {
	var payload struct {
		Logs []struct {
			Timestamp string `json:"timestamp"`
			Level     string `json:"level"`
			Message   string `json:"message"`
		} `json:"logs"`
	}
	path := fmt.Sprintf("/logs?limit=%d&server_id=%s", limit, serverID)
	if err := d.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}
	entries := make([]mcpctl.LogEntry, 0, len(payload.Logs))
	for _, l := range payload.Logs {
		ts, err := time.Parse(time.RFC3339, l.Timestamp)
		if err != nil {
			ts = time.Now().UTC()
		}
		entries = append(entries, mcpctl.LogEntry{Timestamp: ts, Level: mcpctl.LogLevel(l.Level), Message: l.Message})
	}
	return entries, nil
}

// Exec is not supported over the sidecar-HTTP surface: stdio bridging for
// sidecar mode is handled by the sidecar process itself, not by this
// control plane reaching into the container directly.
func (d *Driver) Exec(ctx context.Context, serverID string) (*backend.ExecStream, error) {
	return nil, ctlerr.New(ctlerr.KindProtocol, "exec is not supported in kubernetes-sidecar mode for %s", serverID)
}

func (d *Driver) Health(ctx context.Context) error {
	var payload struct {
		Status string `json:"status"`
	}
	if err := d.getJSON(ctx, "/health", &payload); err != nil {
		return ctlerr.Wrap(ctlerr.KindUnavailable, err, "sidecar unreachable")
	}
	if payload.Status != "healthy" {
		return ctlerr.New(ctlerr.KindUnavailable, "sidecar reports status %q", payload.Status)
	}
	return nil
}

func (d *Driver) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req, out)
}

func (d *Driver) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return err
	}
	return d.do(req, out)
}

func (d *Driver) do(req *http.Request, out any) error {
	resp, err := d.client.Do(req)
	if err != nil {
		log.Warningf("sidecar request %s failed: %v", req.URL, err)
		return ctlerr.Wrap(ctlerr.KindBackendTransient, err, "sidecar request to %s", req.URL.Path)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return ctlerr.New(ctlerr.KindBackendTransient, "sidecar %s returned %d", req.URL.Path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return ctlerr.New(ctlerr.KindBackendPermanent, "sidecar %s returned %d", req.URL.Path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
