// Package httpapi implements the control-plane HTTP surface of spec.md
// §6: the supervisor-facing routes (/health, /status, /servers/*, /logs),
// the main-service-facing thin wrappers (/api/mcp/*), and the
// /api/mcp/logs/stream WebSocket log fan-out. Grounded on
// original_source/.../sidecar/server.py's FastAPI route handlers for the
// response envelope and status-code mapping, reimplemented with stdlib
// net/http + a small chi-free mux (matching the teacher's preference for
// stdlib routing over a web framework) plus gorilla/websocket for the
// streaming socket.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/archon-ai/mcp-controlplane/internal/ctlerr"
)

// envelope is the response shape every route in spec.md §6 shares:
// {success, status?, message, data?, server_id?, timestamp}.
type envelope struct {
	Success   bool   `json:"success"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	ServerID  string `json:"server_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, serverID, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{
		Success:   true,
		Status:    "ok",
		Message:   message,
		Data:      data,
		ServerID:  serverID,
		Timestamp: now(),
	})
}

func writePartial(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{
		Success:   false,
		Status:    "partial",
		Message:   message,
		Data:      data,
		Timestamp: now(),
	})
}

// writeError maps a ctlerr.Kind onto spec.md §6's HTTP status codes: 400
// invalid config, 404 unknown id, 503 backend unavailable, 500 internal.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if ce, ok := err.(*ctlerr.Error); ok {
		switch ce.Kind {
		case ctlerr.KindValidation:
			status = http.StatusBadRequest
		case ctlerr.KindNotFound:
			status = http.StatusNotFound
		case ctlerr.KindUnavailable, ctlerr.KindBackendTransient:
			status = http.StatusServiceUnavailable
		case ctlerr.KindThrottled, ctlerr.KindAlreadyRunning:
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, envelope{
		Success:   false,
		Status:    "error",
		Message:   err.Error(),
		Timestamp: now(),
	})
}
