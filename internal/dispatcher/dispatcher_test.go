package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-ai/mcp-controlplane/internal/backend"
	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

type fakeDriver struct {
	name      string
	healthErr error
}

func (f *fakeDriver) Name() string                                         { return f.name }
func (f *fakeDriver) Create(context.Context, backend.WorkloadSpec) error   { return nil }
func (f *fakeDriver) Delete(context.Context, string) error                 { return nil }
func (f *fakeDriver) Status(context.Context) (map[string]backend.WorkloadStatus, error) {
	return nil, nil
}
func (f *fakeDriver) Logs(context.Context, string, int) ([]mcpctl.LogEntry, error) { return nil, nil }
func (f *fakeDriver) Exec(context.Context, string) (*backend.ExecStream, error)    { return nil, nil }
func (f *fakeDriver) Health(context.Context) error                                 { return f.healthErr }

func TestResolve_SidecarTakesPrecedence(t *testing.T) {
	opts := Options{
		SidecarURL: "http://sidecar.local:8053",
		SidecarProbeFunc: func(ctx context.Context, baseURL string, timeout time.Duration) bool {
			return baseURL == "http://sidecar.local:8053"
		},
	}
	d := New(opts)
	binding, err := d.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mcpctl.ModeKubernetesSidecar, binding.Mode)
}

func TestResolve_DeploymentModeKubernetesWhenSidecarUnavailable(t *testing.T) {
	opts := Options{
		SidecarURL:       "http://sidecar.local:8053",
		SidecarProbeFunc: func(context.Context, string, time.Duration) bool { return false },
		DeploymentMode:   "kubernetes",
		K8sNewFunc: func(ns, kubeconfig, kubeContext string) (backend.Driver, error) {
			return &fakeDriver{name: "kubernetes-native"}, nil
		},
	}
	d := New(opts)
	binding, err := d.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mcpctl.ModeKubernetesNative, binding.Mode)
}

func TestResolve_FallsThroughToDocker(t *testing.T) {
	opts := Options{
		SidecarProbeFunc: func(context.Context, string, time.Duration) bool { return false },
		DeploymentMode:   "",
		DockerNewFunc: func() (backend.Driver, error) {
			return &fakeDriver{name: "docker"}, nil
		},
	}
	d := New(opts)
	binding, err := d.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mcpctl.ModeDocker, binding.Mode)
}

func TestResolve_UnavailableWhenNothingReachable(t *testing.T) {
	opts := Options{
		SidecarProbeFunc: func(context.Context, string, time.Duration) bool { return false },
		DockerNewFunc: func() (backend.Driver, error) {
			return nil, errors.New("no docker socket")
		},
	}
	d := New(opts)
	binding, err := d.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mcpctl.ModeUnavailable, binding.Mode)
}

func TestResolve_CachesAcrossConcurrentCallers(t *testing.T) {
	var calls int32
	opts := Options{
		SidecarProbeFunc: func(context.Context, string, time.Duration) bool { return false },
		DockerNewFunc: func() (backend.Driver, error) {
			calls++
			return &fakeDriver{name: "docker"}, nil
		},
	}
	d := New(opts)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Resolve(context.Background())
		}()
	}
	wg.Wait()

	binding, err := d.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, mcpctl.ModeDocker, binding.Mode)
	assert.Equal(t, int32(1), calls)
}
