// Package backend defines the contract every deployment backend (Docker,
// Kubernetes, sidecar-HTTP) implements, grounded on the teacher's
// runtime.ContainerRuntime interface but generalized to pod/container
// lifecycle in terms of the Supervisor's manifest and status model rather
// than the gateway's tool-invocation model.
package backend

import (
	"context"
	"io"

	"github.com/archon-ai/mcp-controlplane/internal/manifest"
	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

// WorkloadSpec is what the Supervisor hands a backend to create a worker:
// a server id, the computed manifest, and a namespace/context hint that
// Docker backends ignore.
type WorkloadSpec struct {
	ServerID  string
	PodName   string
	Namespace string
	Manifest  manifest.Manifest
}

// WorkloadStatus is a backend's observation of one workload, prior to the
// Supervisor's phase-to-Status mapping (spec.md §4.3's reconciliation
// table operates on the Phase/Ready/Reason fields here).
type WorkloadStatus struct {
	Phase    string // backend-native phase string, e.g. "Running", "Pending", "Succeeded", "Failed"
	Ready    bool
	Reason   string
	Found    bool
}

// ExecStream is a bound, channel-multiplexed stdio connection to a running
// workload's primary container. Stdin is written to; Stdout/Stderr are
// read from. Close tears down the underlying exec/attach channel.
type ExecStream struct {
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader
	Close  func() error
}

// Driver is the uniform contract the Dispatcher binds to exactly one
// implementation of, and the Supervisor calls exclusively through.
type Driver interface {
	// Name identifies the backend for logs and the DeploymentBinding.
	Name() string

	// Create submits a workload for creation. It returns once the backend
	// has accepted the request (not once the workload is Running).
	Create(ctx context.Context, spec WorkloadSpec) error

	// Delete tears down a workload by server id. Deleting an unknown id
	// returns an error wrapping ctlerr.NotFound.
	Delete(ctx context.Context, serverID string) error

	// Status lists all workloads matching the control plane's label
	// selector and returns each one's observed status keyed by server id.
	Status(ctx context.Context) (map[string]WorkloadStatus, error)

	// Logs returns up to limit of the most recent log lines for a
	// workload, newest last.
	Logs(ctx context.Context, serverID string, limit int) ([]mcpctl.LogEntry, error)

	// Exec attaches a stdio channel to the workload's running container,
	// for use by the Exec Stream Handler / stdio Adapter.
	Exec(ctx context.Context, serverID string) (*ExecStream, error)

	// Health reports whether the backend itself is reachable (Kubernetes
	// API list-namespace, Docker daemon ping, or sidecar /health).
	Health(ctx context.Context) error
}
