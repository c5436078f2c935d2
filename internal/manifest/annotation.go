package manifest

import (
	"encoding/json"

	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

// serverConfigJSON mirrors mcpctl.ServerConfig's exported fields for the
// pod annotation payload (spec.md §6: annotation "server-config" = JSON
// ServerConfig, used to rehydrate tracking on process restart).
type serverConfigJSON struct {
	ServerType     mcpctl.ServerType `json:"server_type"`
	Name           string            `json:"name,omitempty"`
	Package        string            `json:"package,omitempty"`
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Transport      mcpctl.Transport  `json:"transport"`
	Image          string            `json:"image,omitempty"`
	Port           int               `json:"port,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

func annotateConfig(cfg mcpctl.ServerConfig) (string, error) {
	payload := serverConfigJSON{
		ServerType:     cfg.ServerType,
		Name:           cfg.Name,
		Package:        cfg.Package,
		Command:        cfg.Command,
		Args:           cfg.Args,
		Env:            cfg.Env,
		Transport:      cfg.Transport,
		Image:          cfg.Image,
		Port:           cfg.Port,
		TimeoutSeconds: cfg.TimeoutSeconds,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeAnnotation parses a pod's "server-config" annotation back into a
// ServerConfig, for reconstruction after a process restart.
func DecodeAnnotation(raw string) (mcpctl.ServerConfig, error) {
	var payload serverConfigJSON
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return mcpctl.ServerConfig{}, err
	}
	return mcpctl.ServerConfig{
		ServerType:     payload.ServerType,
		Name:           payload.Name,
		Package:        payload.Package,
		Command:        payload.Command,
		Args:           payload.Args,
		Env:            payload.Env,
		Transport:      payload.Transport,
		Image:          payload.Image,
		Port:           payload.Port,
		TimeoutSeconds: payload.TimeoutSeconds,
	}, nil
}
