package mcpctl

import (
	"encoding/json"
	"time"
)

// Kind distinguishes the four shapes an MCPMessage can take.
type Kind string

const (
	KindRequest      Kind = "request"
	KindResponse     Kind = "response"
	KindNotification Kind = "notification"
	KindError        Kind = "error"
)

// JSONRPCVersion is the only wire version this bridge speaks.
const JSONRPCVersion = "2.0"

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 error codes used by the Bridge (spec.md §4.4).
const (
	ErrCodeMethodNotFound = -32601
	ErrCodeInternal       = -32603
	ErrCodeParse          = -32700
)

// MCPMessage is the transient, in-process representation of a single
// JSON-RPC frame. Responses carry either Result xor Error; notifications
// carry no ID.
type MCPMessage struct {
	ID        string
	Kind      Kind
	Method    string
	Params    json.RawMessage
	Result    json.RawMessage
	Error     *RPCError
	Timestamp time.Time
	Protocol  string
}

// jsonrpcWire is the over-the-wire JSON-RPC 2.0 shape.
type jsonrpcWire struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// ToJSONRPC serializes m into its JSON-RPC 2.0 wire form.
func (m MCPMessage) ToJSONRPC() ([]byte, error) {
	w := jsonrpcWire{
		JSONRPC: JSONRPCVersion,
		Method:  m.Method,
		Params:  m.Params,
		Result:  m.Result,
		Error:   m.Error,
	}
	if m.ID != "" {
		id, err := json.Marshal(m.ID)
		if err != nil {
			return nil, err
		}
		w.ID = id
	}
	return json.Marshal(w)
}

// FromJSONRPC parses a JSON-RPC 2.0 frame into an MCPMessage, inferring
// Kind from the presence of Method/Result/Error. Timestamp and Protocol
// are left zero; callers stamp them (per spec.md §8's round-trip
// invariant, which holds modulo those two fields).
func FromJSONRPC(raw []byte) (MCPMessage, error) {
	var w jsonrpcWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return MCPMessage{}, err
	}
	m := MCPMessage{
		Method: w.Method,
		Params: w.Params,
		Result: w.Result,
		Error:  w.Error,
	}
	if len(w.ID) > 0 {
		var id string
		if err := json.Unmarshal(w.ID, &id); err != nil {
			// Numeric ids are coerced to their string form so correlation
			// keys stay uniform across adapters.
			m.ID = string(w.ID)
		} else {
			m.ID = id
		}
	}
	switch {
	case w.Error != nil:
		m.Kind = KindError
	case w.Method != "" && m.ID != "":
		m.Kind = KindRequest
	case w.Method != "" && m.ID == "":
		m.Kind = KindNotification
	default:
		m.Kind = KindResponse
	}
	return m, nil
}

// ToSSE renders m as a single Server-Sent Events "data:" frame, newline
// terminated, per spec.md §4.4's sse adapter contract.
func (m MCPMessage) ToSSE() ([]byte, error) {
	body, err := m.ToJSONRPC()
	if err != nil {
		return nil, err
	}
	out := append([]byte("data: "), body...)
	out = append(out, '\n', '\n')
	return out, nil
}
