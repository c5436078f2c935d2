package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

func TestBuild_NPXStdio(t *testing.T) {
	cfg := mcpctl.ServerConfig{
		ServerType: mcpctl.ServerTypeNPX,
		Name:       "brave",
		Package:    "@modelcontextprotocol/server-brave-search",
		Transport:  mcpctl.TransportStdio,
		Env:        map[string]string{"BRAVE_API_KEY": "X"},
	}.Normalized()

	m, err := Build(cfg, EnvDefaults{Namespace: "default"})
	require.NoError(t, err)

	assert.Equal(t, "node:18-alpine", m.Image)
	assert.Equal(t, []string{"npx"}, m.Command)
	assert.Equal(t, []string{"-y", "@modelcontextprotocol/server-brave-search", "stdio"}, m.Args)
	assert.Equal(t, "production", m.Env["NODE_ENV"])
	assert.Equal(t, "X", m.Env["BRAVE_API_KEY"])
	assert.True(t, m.StdinOpen)
	assert.Empty(t, m.Ports)
}

func TestBuild_UVInjectsPipInstall(t *testing.T) {
	cfg := mcpctl.ServerConfig{
		ServerType: mcpctl.ServerTypeUV,
		Package:    "mcp-server-fetch",
		Transport:  mcpctl.TransportStdio,
	}.Normalized()

	m, err := Build(cfg, EnvDefaults{})
	require.NoError(t, err)

	assert.Equal(t, "python:3.12-slim", m.Image)
	assert.Equal(t, []string{"sh", "-c"}, m.Command)
	require.Len(t, m.Args, 1)
	assert.Contains(t, m.Args[0], "pip install uv")
	assert.Contains(t, m.Args[0], "mcp-server-fetch")
	assert.Equal(t, "1", m.Env["PYTHONUNBUFFERED"])
}

func TestBuild_ArchonSSEExposesHealthProbes(t *testing.T) {
	cfg := mcpctl.ServerConfig{
		ServerType: mcpctl.ServerTypeArchon,
		Transport:  mcpctl.TransportSSE,
	}.Normalized()

	m, err := Build(cfg, EnvDefaults{ArchonMCPImage: "registry.local/archon-mcp:1.2.3", Namespace: "archon"})
	require.NoError(t, err)

	assert.Equal(t, "registry.local/archon-mcp:1.2.3", m.Image)
	assert.Equal(t, "8051", m.Env["ARCHON_MCP_PORT"])
	assert.Equal(t, "archon", m.Env["KUBERNETES_NAMESPACE"])
	require.NotNil(t, m.Liveness)
	assert.Equal(t, "/health", m.Liveness.Path)
	assert.Equal(t, 8051, m.Liveness.Port)
	require.Len(t, m.Ports, 1)
}

func TestBuild_NonArchonSSEHasNoProbes(t *testing.T) {
	cfg := mcpctl.ServerConfig{
		ServerType: mcpctl.ServerTypePython,
		Package:    "some.module",
		Transport:  mcpctl.TransportSSE,
	}.Normalized()

	m, err := Build(cfg, EnvDefaults{})
	require.NoError(t, err)

	assert.Nil(t, m.Liveness)
	assert.Nil(t, m.Readiness)
	assert.Empty(t, m.Ports)
}

func TestBuild_DockerRequiresCommand(t *testing.T) {
	cfg := mcpctl.ServerConfig{ServerType: mcpctl.ServerTypeDocker}.Normalized()

	_, err := Build(cfg, EnvDefaults{})
	assert.Error(t, err)
}

func TestBuild_DockerUsesConfigImageAndCommand(t *testing.T) {
	cfg := mcpctl.ServerConfig{
		ServerType: mcpctl.ServerTypeDocker,
		Image:      "myorg/mytool:latest",
		Command:    "mytool --flag value",
		Args:       []string{"extra"},
	}.Normalized()

	m, err := Build(cfg, EnvDefaults{})
	require.NoError(t, err)

	assert.Equal(t, "myorg/mytool:latest", m.Image)
	assert.Equal(t, []string{"mytool", "--flag", "value"}, m.Command)
	assert.Equal(t, []string{"extra"}, m.Args)
}

func TestBuild_LabelsAndAnnotation(t *testing.T) {
	cfg := mcpctl.ServerConfig{
		ServerType: mcpctl.ServerTypeNPX,
		Name:       "brave",
		Package:    "pkg",
		Transport:  mcpctl.TransportStdio,
	}.Normalized()

	m, err := Build(cfg, EnvDefaults{Prefix: "archon"})
	require.NoError(t, err)

	assert.Equal(t, "archon", m.Labels["app"])
	assert.Equal(t, "mcp-server", m.Labels["component"])
	assert.Equal(t, "npx", m.Labels["server-type"])
	assert.Equal(t, "archon-sidecar", m.Labels["created-by"])
	require.NotEmpty(t, m.Annotation)

	decoded, err := DecodeAnnotation(m.Annotation)
	require.NoError(t, err)
	assert.Equal(t, cfg.ServerType, decoded.ServerType)
	assert.Equal(t, cfg.Package, decoded.Package)
}
