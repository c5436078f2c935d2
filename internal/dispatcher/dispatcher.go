// Package dispatcher implements the Deployment-Mode Dispatcher of
// spec.md §4.1: a one-shot factory that resolves exactly one backend
// driver for the process lifetime. Resolution runs under a singleflight
// guard (golang.org/x/sync/singleflight) so concurrent first callers share
// one outcome, grounded on the teacher's NewGateway constructor branching
// on provisioner type in cmd/docker-mcp/internal/gateway/run.go.
package dispatcher

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/archon-ai/mcp-controlplane/internal/backend"
	backenddocker "github.com/archon-ai/mcp-controlplane/internal/backend/docker"
	backendk8s "github.com/archon-ai/mcp-controlplane/internal/backend/kubernetes"
	"github.com/archon-ai/mcp-controlplane/internal/backend/sidecarhttp"
	"github.com/archon-ai/mcp-controlplane/internal/logging"
	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

var log = logging.Get("dispatcher")

const resolveKey = "resolve"

// Options carries the environment hints the resolution order consults;
// most are read from process environment by NewOptionsFromEnv but exposed
// as a struct so tests can inject fixed values.
type Options struct {
	SidecarURL       string // MCP_SIDECAR_URL, or a mode-dependent default
	DeploymentMode   string // DEPLOYMENT_MODE
	Namespace        string
	Kubeconfig       string
	KubeContext      string
	SidecarProbeFunc func(ctx context.Context, baseURL string, timeout time.Duration) bool
	DockerNewFunc    func() (backend.Driver, error)
	K8sNewFunc       func(ns, kubeconfig, kubeContext string) (backend.Driver, error)
}

// NewOptionsFromEnv reads the recognized environment variables of
// spec.md §6.
func NewOptionsFromEnv() Options {
	sidecar := os.Getenv("MCP_SIDECAR_URL")
	if sidecar == "" {
		if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
			sidecar = "http://localhost:8053"
		} else {
			sidecar = "http://archon-sidecar:8053"
		}
	}
	ns := os.Getenv("KUBERNETES_NAMESPACE")
	if ns == "" {
		ns = "default"
	}
	return Options{
		SidecarURL:     sidecar,
		DeploymentMode: os.Getenv("DEPLOYMENT_MODE"),
		Namespace:      ns,
	}
}

// Dispatcher holds the once-resolved DeploymentBinding.
type Dispatcher struct {
	opts    Options
	group   singleflight.Group
	binding atomic.Pointer[mcpctl.DeploymentBinding]
}

// New constructs an unresolved Dispatcher. Resolve must be called (and is
// called lazily by Driver) before the binding is usable.
func New(opts Options) *Dispatcher {
	return &Dispatcher{opts: opts}
}

// Resolve determines the deployment mode per spec.md §4.1's resolution
// order, caching the result for the process lifetime. Safe for concurrent
// use: concurrent first callers share one resolution via singleflight;
// subsequent calls short-circuit on the cached atomic pointer without
// taking the singleflight lock at all.
func (d *Dispatcher) Resolve(ctx context.Context) (mcpctl.DeploymentBinding, error) {
	if b := d.binding.Load(); b != nil {
		return *b, nil
	}
	v, err, _ := d.group.Do(resolveKey, func() (any, error) {
		if b := d.binding.Load(); b != nil {
			return *b, nil
		}
		binding := d.resolveOnce(ctx)
		d.binding.Store(&binding)
		return binding, nil
	})
	if err != nil {
		return mcpctl.DeploymentBinding{}, err
	}
	return v.(mcpctl.DeploymentBinding), nil
}

// Driver returns the resolved backend.Driver, resolving first if needed.
// Resolution never errors (spec.md §4.1: "never panics... falls through to
// the next candidate"); an unavailable environment yields a nil driver with
// ModeUnavailable, not an error.
func (d *Dispatcher) Driver(ctx context.Context) (backend.Driver, mcpctl.Mode, error) {
	binding, err := d.Resolve(ctx)
	if err != nil {
		return nil, "", err
	}
	drv, _ := binding.Driver.(backend.Driver)
	return drv, binding.Mode, nil
}

func (d *Dispatcher) resolveOnce(ctx context.Context) mcpctl.DeploymentBinding {
	probe := d.opts.SidecarProbeFunc
	if probe == nil {
		probe = sidecarhttp.Probe
	}
	if d.opts.SidecarURL != "" && probe(ctx, d.opts.SidecarURL, 5*time.Second) {
		log.Infof("resolved deployment mode kubernetes-sidecar at %s", d.opts.SidecarURL)
		return mcpctl.DeploymentBinding{
			Mode:   mcpctl.ModeKubernetesSidecar,
			Driver: backend.Driver(sidecarhttp.New(d.opts.SidecarURL)),
		}
	}

	if d.opts.DeploymentMode == "kubernetes" {
		drv, err := d.newKubernetesDriver()
		if err == nil {
			log.Info("resolved deployment mode kubernetes-native")
			return mcpctl.DeploymentBinding{Mode: mcpctl.ModeKubernetesNative, Driver: drv}
		}
		log.Warningf("DEPLOYMENT_MODE=kubernetes but kubernetes client init failed, falling through: %v", err)
	}

	if drv, err := d.newDockerDriver(); err == nil {
		if err := drv.Health(ctx); err == nil {
			log.Info("resolved deployment mode docker")
			return mcpctl.DeploymentBinding{Mode: mcpctl.ModeDocker, Driver: drv}
		}
	}

	log.Warning("no backend available, resolved deployment mode unavailable")
	return mcpctl.DeploymentBinding{Mode: mcpctl.ModeUnavailable, Driver: backend.Driver(nil)}
}

func (d *Dispatcher) newDockerDriver() (backend.Driver, error) {
	if d.opts.DockerNewFunc != nil {
		return d.opts.DockerNewFunc()
	}
	return backenddocker.New()
}

func (d *Dispatcher) newKubernetesDriver() (backend.Driver, error) {
	if d.opts.K8sNewFunc != nil {
		return d.opts.K8sNewFunc(d.opts.Namespace, d.opts.Kubeconfig, d.opts.KubeContext)
	}
	return backendk8s.New(backendk8s.Config{
		Namespace:   d.opts.Namespace,
		Kubeconfig:  d.opts.Kubeconfig,
		KubeContext: d.opts.KubeContext,
	})
}
