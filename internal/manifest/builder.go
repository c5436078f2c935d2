// Package manifest computes the (image, command, args, env, ports, probes,
// stdin_open) tuple for a ServerConfig, per spec.md §4.2. It is grounded on
// original_source/python/src/sidecar/mcp_kubernetes/sidecar/pod_manager.py's
// get_server_image_and_config/create_pod_manifest, generalized from the
// Python original's per-type if/elif chain into a Go switch with the same
// defaults.
package manifest

import (
	"fmt"

	"github.com/google/shlex"

	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

// PortMapping describes a single container port to expose.
type PortMapping struct {
	ContainerPort int
	Name          string
}

// Probe describes an HTTP liveness/readiness check.
type Probe struct {
	Path string
	Port int
}

// SecurityContext carries the fixed non-root defaults of spec.md §4.2,
// supplemented from original_source's SecurityConfig pydantic model.
type SecurityContext struct {
	RunAsNonRoot             bool
	RunAsUser                int64
	RunAsGroup               int64
	ReadOnlyRootFilesystem   bool
	AllowPrivilegeEscalation bool
	CapabilitiesDrop         []string
}

// DefaultSecurityContext is the compiled-in constant every manifest uses.
func DefaultSecurityContext() SecurityContext {
	return SecurityContext{
		RunAsNonRoot:             true,
		RunAsUser:                1001,
		RunAsGroup:               1001,
		ReadOnlyRootFilesystem:   false,
		AllowPrivilegeEscalation: false,
		CapabilitiesDrop:         []string{"ALL"},
	}
}

// ResourceLimits carries the fixed resource defaults, supplemented from
// original_source's PodResourceConfig.
type ResourceLimits struct {
	CPURequest    string
	CPULimit      string
	MemoryRequest string
	MemoryLimit   string
}

// DefaultResourceLimits is the compiled-in constant every manifest uses.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		CPURequest:    "250m",
		CPULimit:      "500m",
		MemoryRequest: "256Mi",
		MemoryLimit:   "512Mi",
	}
}

// Manifest is the deterministic output of Build: everything a backend
// driver needs to create the worker's container/pod.
type Manifest struct {
	Image      string
	Command    []string
	Args       []string
	Env        map[string]string
	Ports      []PortMapping
	Liveness   *Probe
	Readiness  *Probe
	StdinOpen  bool
	TTY        bool
	Labels     map[string]string
	Annotation string // serialized ServerConfig, for reconstruction after restart
	Security   SecurityContext
	Resources  ResourceLimits
}

// labelComponent/labelCreatedBy are the fixed label values of spec.md
// §4.2/§6.
const (
	labelComponent = "mcp-server"
	labelCreatedBy = "archon-sidecar"
)

// Build computes a Manifest from a normalized ServerConfig. Callers must
// pass ServerConfig.Normalized() so Transport/Port/TimeoutSeconds defaults
// are already applied.
func Build(cfg mcpctl.ServerConfig, envDefaults EnvDefaults) (Manifest, error) {
	if err := cfg.Validate(); err != nil {
		return Manifest{}, err
	}

	m := Manifest{
		Env:       map[string]string{},
		Security:  DefaultSecurityContext(),
		Resources: DefaultResourceLimits(),
	}

	switch cfg.ServerType {
	case mcpctl.ServerTypeArchon:
		m.Image = envDefaults.ArchonImageOr("archon-mcp:latest")
		m.Command = []string{"python"}
		m.Args = []string{"-m", "src.mcp.mcp_server"}
		m.Env["ARCHON_MCP_HOST"] = "0.0.0.0"
		m.Env["ARCHON_MCP_PORT"] = fmt.Sprintf("%d", cfg.Port)
		m.Env["DEPLOYMENT_MODE"] = "kubernetes"
		m.Env["KUBERNETES_NAMESPACE"] = envDefaults.Namespace

	case mcpctl.ServerTypeNPX:
		m.Image = "node:18-alpine"
		m.Command = []string{"npx"}
		args := []string{"-y", cfg.Package}
		if cfg.Transport == mcpctl.TransportStdio {
			args = append(args, "stdio")
		}
		m.Args = args
		m.Env["NODE_ENV"] = "production"

	case mcpctl.ServerTypeUV:
		m.Image = "python:3.12-slim"
		m.Command = []string{"sh", "-c"}
		script := fmt.Sprintf("pip install uv && uv run --with %s", cfg.Package)
		if cfg.Transport == mcpctl.TransportStdio {
			script += " stdio"
		}
		m.Args = []string{script}
		m.Env["PYTHONUNBUFFERED"] = "1"

	case mcpctl.ServerTypePython:
		m.Image = "python:3.12-slim"
		m.Command = []string{"python"}
		if len(cfg.Args) > 0 {
			m.Args = append([]string{}, cfg.Args...)
		} else {
			args := []string{"-m", cfg.Package}
			if cfg.Transport == mcpctl.TransportStdio {
				args = append(args, "stdio")
			}
			m.Args = args
		}
		m.Env["PYTHONUNBUFFERED"] = "1"

	case mcpctl.ServerTypeDocker:
		image := cfg.Image
		if image == "" {
			image = "alpine:latest"
		}
		m.Image = image
		cmdArgs, err := shlex.Split(cfg.Command)
		if err != nil {
			return Manifest{}, fmt.Errorf("splitting docker command: %w", err)
		}
		m.Command = cmdArgs
		m.Args = append([]string{}, cfg.Args...)

	default:
		return Manifest{}, fmt.Errorf("unhandled server_type %q", cfg.ServerType)
	}

	// config.env overlays the type defaults.
	for k, v := range cfg.Env {
		m.Env[k] = v
	}

	if cfg.Transport == mcpctl.TransportSSE || cfg.Transport == mcpctl.TransportHTTP {
		if cfg.ServerType == mcpctl.ServerTypeArchon {
			m.Ports = []PortMapping{{ContainerPort: cfg.Port, Name: "http"}}
			m.Liveness = &Probe{Path: "/health", Port: cfg.Port}
			m.Readiness = &Probe{Path: "/health", Port: cfg.Port}
		}
	}
	if cfg.Transport == mcpctl.TransportStdio {
		m.StdinOpen = true
		m.TTY = false
	}

	m.Labels = map[string]string{
		"app":         envDefaults.LabelPrefix(),
		"component":   labelComponent,
		"server-type": string(cfg.ServerType),
		"transport":   string(cfg.Transport),
		"created-by":  labelCreatedBy,
	}

	ann, err := annotateConfig(cfg)
	if err != nil {
		return Manifest{}, err
	}
	m.Annotation = ann

	return m, nil
}

// EnvDefaults supplies the environment-derived values the Builder needs
// but does not own (spec.md §6's recognized environment variables).
type EnvDefaults struct {
	ArchonMCPImage string
	Namespace      string
	Prefix         string
}

func (e EnvDefaults) ArchonImageOr(fallback string) string {
	if e.ArchonMCPImage != "" {
		return e.ArchonMCPImage
	}
	return fallback
}

func (e EnvDefaults) LabelPrefix() string {
	if e.Prefix != "" {
		return e.Prefix
	}
	return "mcp"
}
