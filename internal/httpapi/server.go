package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/archon-ai/mcp-controlplane/internal/ctlerr"
	"github.com/archon-ai/mcp-controlplane/internal/logging"
	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
	"github.com/archon-ai/mcp-controlplane/internal/supervisor"
)

var log = logging.Get("httpapi")

// Server exposes the Supervisor over HTTP, per spec.md §6.
type Server struct {
	supervisor *supervisor.Supervisor
	mux        *http.ServeMux
}

// New wires every route spec.md §6 names onto sup.
func New(sup *supervisor.Supervisor) *Server {
	s := &Server{supervisor: sup, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /servers/start", s.handleStart)
	s.mux.HandleFunc("POST /servers/stop", s.handleStop)
	s.mux.HandleFunc("GET /servers/list", s.handleList)
	s.mux.HandleFunc("GET /logs", s.handleLogs)

	// Main-service-facing thin wrappers, spec.md §6.
	s.mux.HandleFunc("POST /api/mcp/start", s.handleStart)
	s.mux.HandleFunc("POST /api/mcp/stop", s.handleStop)
	s.mux.HandleFunc("GET /api/mcp/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/mcp/logs", s.handleLogs)
	s.mux.HandleFunc("GET /api/mcp/tools", s.handleTools)
	s.mux.HandleFunc("GET /api/mcp/config", s.handleConfig)
	s.mux.HandleFunc("GET /api/mcp/logs/stream", s.handleLogsStream)
	s.mux.HandleFunc("GET /api/mcp/bridge", s.handleBridgeAttach)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{
			Success: false, Status: "unhealthy", Message: err.Error(), Timestamp: now(),
		})
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Status: "healthy", Timestamp: now()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.supervisor.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, "", "", report)
}

type startRequest struct {
	ServerType mcpctl.ServerType `json:"server_type"`
	Name       string            `json:"name,omitempty"`
	Transport  mcpctl.Transport  `json:"transport,omitempty"`
	Image      string            `json:"image,omitempty"`
	Command    string            `json:"command,omitempty"`
	Package    string            `json:"package,omitempty"`
	Port       int               `json:"port,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ctlerr.New(ctlerr.KindValidation, "invalid request body: %v", err))
		return
	}
	cfg := mcpctl.ServerConfig{
		ServerType: req.ServerType,
		Name:       req.Name,
		Transport:  req.Transport,
		Image:      req.Image,
		Command:    req.Command,
		Package:    req.Package,
		Port:       req.Port,
		Env:        req.Env,
	}
	inst, err := s.supervisor.Start(r.Context(), cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, inst.ServerID, "server started", inst)
}

type stopRequest struct {
	ServerID string `json:"server_id,omitempty"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, ctlerr.New(ctlerr.KindValidation, "invalid request body: %v", err))
			return
		}
	}

	if req.ServerID != "" {
		if err := s.supervisor.Stop(r.Context(), req.ServerID); err != nil {
			writeError(w, err)
			return
		}
		writeOK(w, req.ServerID, "server stopped", nil)
		return
	}

	results := s.supervisor.StopAll(r.Context())
	type stopOutcome struct {
		ServerID string `json:"server_id"`
		Success  bool   `json:"success"`
		Error    string `json:"error,omitempty"`
	}
	outcomes := make([]stopOutcome, 0, len(results))
	failures := 0
	for _, res := range results {
		o := stopOutcome{ServerID: res.ServerID, Success: res.Err == nil}
		if res.Err != nil {
			o.Error = res.Err.Error()
			failures++
		}
		outcomes = append(outcomes, o)
	}
	if failures > 0 && failures < len(results) {
		writePartial(w, "stop-all completed with partial failures", outcomes)
		return
	}
	if failures > 0 && failures == len(results) && len(results) > 0 {
		writeJSON(w, http.StatusInternalServerError, envelope{
			Success: false, Status: "error", Message: "all stops failed", Data: outcomes, Timestamp: now(),
		})
		return
	}
	writeOK(w, "", "all servers stopped", outcomes)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	instances := s.supervisor.ListExternal()
	writeJSON(w, http.StatusOK, map[string]any{
		"servers":     instances,
		"total_count": len(instances),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	serverID := r.URL.Query().Get("server_id")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if serverID == "" {
		writeError(w, ctlerr.New(ctlerr.KindValidation, "server_id is required"))
		return
	}
	entries, err := s.supervisor.Logs(r.Context(), serverID, limit)
	if err != nil {
		writeError(w, ctlerr.New(ctlerr.KindNotFound, "%s", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

// handleTools is a thin wrapper spec.md §6 names but does not detail the
// payload of; it reports the external (non-archon) instances whose tools
// a caller could enumerate via their own bridge session.
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	instances := s.supervisor.ListExternal()
	writeJSON(w, http.StatusOK, map[string]any{"servers": instances})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"mode": s.supervisor.Mode()})
}
