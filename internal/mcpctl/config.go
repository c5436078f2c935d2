// Package mcpctl holds the data model shared by every control-plane
// subsystem: server configuration, tracked instances, protocol messages,
// adapter variants and message queues, the deployment binding, and log
// entries.
package mcpctl

import (
	"fmt"
	"time"
)

// ServerType enumerates the supported MCP worker flavors.
type ServerType string

const (
	ServerTypeArchon ServerType = "archon"
	ServerTypeNPX    ServerType = "npx"
	ServerTypeUV     ServerType = "uv"
	ServerTypePython ServerType = "python"
	ServerTypeDocker ServerType = "docker"
)

func (t ServerType) Valid() bool {
	switch t {
	case ServerTypeArchon, ServerTypeNPX, ServerTypeUV, ServerTypePython, ServerTypeDocker:
		return true
	default:
		return false
	}
}

// Transport enumerates the supported wire transports between a client and
// a worker, and correspondingly the Adapter variant that carries it.
type Transport string

const (
	TransportStdio     Transport = "stdio"
	TransportSSE       Transport = "sse"
	TransportHTTP      Transport = "http"
	TransportWebsocket Transport = "websocket"
)

func (t Transport) Valid() bool {
	switch t {
	case TransportStdio, TransportSSE, TransportHTTP, TransportWebsocket:
		return true
	default:
		return false
	}
}

// DefaultTimeoutSeconds is ServerConfig.TimeoutSeconds's default.
const DefaultTimeoutSeconds = 300

// ServerConfig is immutable once validated. It is the input to the
// Supervisor's start operation and the sole input to the Pod Manifest
// Builder.
type ServerConfig struct {
	ServerType     ServerType
	Name           string
	Package        string
	Command        string
	Args           []string
	Env            map[string]string
	Transport      Transport
	Image          string
	Port           int
	TimeoutSeconds int
}

// Validate enforces the invariants of spec.md §3: server_type/package-or-
// command presence consistency, and transport membership. It never mutates
// the receiver; callers should treat a validated ServerConfig as frozen.
func (c ServerConfig) Validate() error {
	if !c.ServerType.Valid() {
		return fmt.Errorf("unknown server_type %q", c.ServerType)
	}
	if c.Transport == "" {
		c.Transport = TransportStdio
	}
	if !c.Transport.Valid() {
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	switch c.ServerType {
	case ServerTypeNPX, ServerTypeUV:
		if c.Package == "" {
			return fmt.Errorf("server_type %q requires package", c.ServerType)
		}
	case ServerTypeDocker:
		if c.Command == "" {
			return fmt.Errorf("server_type %q requires command", c.ServerType)
		}
	}
	return nil
}

// Normalized returns a copy with defaults applied: Transport defaults to
// stdio, Port defaults per server type when the transport exposes a port,
// and TimeoutSeconds defaults to DefaultTimeoutSeconds.
func (c ServerConfig) Normalized() ServerConfig {
	out := c
	if out.Transport == "" {
		out.Transport = TransportStdio
	}
	if out.TimeoutSeconds == 0 {
		out.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if out.Port == 0 && (out.Transport == TransportSSE || out.Transport == TransportHTTP) {
		if out.ServerType == ServerTypeArchon {
			out.Port = 8051
		} else {
			out.Port = 8080
		}
	}
	if out.Env == nil {
		out.Env = map[string]string{}
	}
	return out
}

// DisplayName returns Name if set, otherwise "default" — the fragment used
// to compose a server id and pod name.
func (c ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return "default"
}

// InstanceKey identifies uniqueness for the "same (server_type, name)
// already Running" check in spec.md §4.3.
type InstanceKey struct {
	ServerType ServerType
	Name       string
}

func (c ServerConfig) Key() InstanceKey {
	return InstanceKey{ServerType: c.ServerType, Name: c.DisplayName()}
}

// NewServerID formats a server id as {type}-{name|"default"}-{unix_ts},
// per spec.md's Server id glossary entry.
func NewServerID(c ServerConfig, now time.Time) string {
	return fmt.Sprintf("%s-%s-%d", c.ServerType, c.DisplayName(), now.Unix())
}
