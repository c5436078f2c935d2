package mcpctl

// Mode names the resolved deployment backend. Once a DeploymentBinding is
// set it does not change for the process lifetime.
type Mode string

const (
	ModeDocker            Mode = "docker"
	ModeKubernetesSidecar Mode = "kubernetes-sidecar"
	ModeKubernetesNative  Mode = "kubernetes-native"
	ModeUnavailable       Mode = "unavailable"
)

// DeploymentBinding is the Dispatcher's set-once result: a mode plus an
// opaque driver reference (the concrete backend implementation). Driver is
// typed as `any` here because mcpctl sits below the backend package in the
// dependency order; callers type-assert to their own backend interface.
type DeploymentBinding struct {
	Mode   Mode
	Driver any
}
