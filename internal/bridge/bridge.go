// Package bridge implements the Protocol Bridge of spec.md §4.4:
// correlates requests with responses by id, dispatches incoming method
// calls to registered handlers, and forwards messages between bridged
// adapters. Grounded on
// original_source/python/src/server/mcp_kubernetes/protocols/adapters.py's
// ProtocolBridge/send_request/handle_incoming_message, reimplemented
// without the source's module-level `_protocol_bridge` singleton —
// every Bridge is an explicitly owned value (spec.md §9).
package bridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/archon-ai/mcp-controlplane/internal/logging"
	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
	"github.com/archon-ai/mcp-controlplane/internal/transport"
)

var log = logging.Get("bridge")

// MethodHandler serves one registered JSON-RPC method. Returning an error
// is wrapped into a -32603 Internal error response. A panic in a request
// handler is not recovered; a panic in a notification handler is recovered
// and logged.
type MethodHandler func(ctx context.Context, params []byte) (result any, err error)

// pending is the completion handle for one in-flight send_request call.
type pending struct {
	resultCh chan mcpctl.MCPMessage
	once     sync.Once
}

func (p *pending) complete(m mcpctl.MCPMessage) {
	p.once.Do(func() { p.resultCh <- m })
}

// Bridge serves zero or more adapters (tracked by the caller, not stored
// here) and holds the correlation state and method handler table shared
// across them.
type Bridge struct {
	mu       sync.Mutex
	pendings map[string]*pending
	handlers map[string]MethodHandler
	bridges  map[transport.Adapter][]transport.Adapter // source -> forward targets
}

// New constructs an empty Bridge.
func New() *Bridge {
	return &Bridge{
		pendings: map[string]*pending{},
		handlers: map[string]MethodHandler{},
		bridges:  map[transport.Adapter][]transport.Adapter{},
	}
}

// RegisterHandler installs the handler for method. Re-registering replaces
// the previous handler.
func (b *Bridge) RegisterHandler(method string, h MethodHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[method] = h
}

// Couple forwards every message received on src to every one of targets'
// Send. Forwarding errors per target are isolated from one another.
func (b *Bridge) Couple(src transport.Adapter, targets ...transport.Adapter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bridges[src] = append(b.bridges[src], targets...)
}

func newCorrelationID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// SendRequest assigns a fresh id, installs a completion handle, issues
// Send on adapter, and waits up to timeout. A timeout removes the handle
// and returns a StreamFailure-adjacent timeout error (spec.md §4.4).
func (b *Bridge) SendRequest(ctx context.Context, adapter transport.Adapter, method string, params []byte, timeout time.Duration) (mcpctl.MCPMessage, error) {
	id := newCorrelationID()
	p := &pending{resultCh: make(chan mcpctl.MCPMessage, 1)}

	b.mu.Lock()
	b.pendings[id] = p
	b.mu.Unlock()

	ok, err := adapter.Send(ctx, mcpctl.MCPMessage{
		ID:     id,
		Kind:   mcpctl.KindRequest,
		Method: method,
		Params: params,
	})
	if err != nil || !ok {
		b.mu.Lock()
		delete(b.pendings, id)
		b.mu.Unlock()
		if err != nil {
			return mcpctl.MCPMessage{}, err
		}
		return mcpctl.MCPMessage{}, fmt.Errorf("adapter not connected")
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case result := <-p.resultCh:
		return result, nil
	case <-time.After(timeout):
		b.mu.Lock()
		delete(b.pendings, id)
		b.mu.Unlock()
		return mcpctl.MCPMessage{}, fmt.Errorf("request %s timed out after %s: RequestTimeout", id, timeout)
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pendings, id)
		b.mu.Unlock()
		return mcpctl.MCPMessage{}, ctx.Err()
	}
}

// SendNotification sends method/params with no id and no completion
// handle.
func (b *Bridge) SendNotification(ctx context.Context, adapter transport.Adapter, method string, params []byte) error {
	_, err := adapter.Send(ctx, mcpctl.MCPMessage{Kind: mcpctl.KindNotification, Method: method, Params: params})
	return err
}

// HandleIncoming implements transport.IncomingHandler: it is the single
// entry point every adapter's receive loop calls for each parsed message.
func (b *Bridge) HandleIncoming(ctx context.Context, from transport.Adapter, m mcpctl.MCPMessage) {
	switch m.Kind {
	case mcpctl.KindRequest:
		b.handleRequest(ctx, from, m)
	case mcpctl.KindResponse, mcpctl.KindError:
		b.handleResponse(m)
	case mcpctl.KindNotification:
		b.handleNotification(ctx, m)
	}
	b.forward(ctx, from, m)
}

func (b *Bridge) handleRequest(ctx context.Context, from transport.Adapter, m mcpctl.MCPMessage) {
	b.mu.Lock()
	h, ok := b.handlers[m.Method]
	b.mu.Unlock()

	if !ok {
		b.replyError(ctx, from, m.ID, mcpctl.ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", m.Method))
		return
	}
	result, err := h(ctx, m.Params)
	if err != nil {
		b.replyError(ctx, from, m.ID, mcpctl.ErrCodeInternal, err.Error())
		return
	}
	payload, err := jsonMarshal(result)
	if err != nil {
		b.replyError(ctx, from, m.ID, mcpctl.ErrCodeInternal, err.Error())
		return
	}
	_, _ = from.Send(ctx, mcpctl.MCPMessage{ID: m.ID, Kind: mcpctl.KindResponse, Result: payload})
}

func (b *Bridge) replyError(ctx context.Context, to transport.Adapter, id string, code int, msg string) {
	_, _ = to.Send(ctx, mcpctl.MCPMessage{
		ID:    id,
		Kind:  mcpctl.KindResponse,
		Error: &mcpctl.RPCError{Code: code, Message: msg},
	})
}

func (b *Bridge) handleResponse(m mcpctl.MCPMessage) {
	if m.ID == "" {
		return
	}
	b.mu.Lock()
	p, ok := b.pendings[m.ID]
	if ok {
		delete(b.pendings, m.ID)
	}
	b.mu.Unlock()
	if !ok {
		// Late response after timeout/cancellation: drop silently.
		return
	}
	p.complete(m)
}

func (b *Bridge) handleNotification(ctx context.Context, m mcpctl.MCPMessage) {
	b.mu.Lock()
	h, ok := b.handlers[m.Method]
	b.mu.Unlock()
	if !ok {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("notification handler %s panicked: %v", m.Method, r)
			}
		}()
		if _, err := h(ctx, m.Params); err != nil {
			log.Warningf("notification handler %s returned error: %v", m.Method, err)
		}
	}()
}

func (b *Bridge) forward(ctx context.Context, from transport.Adapter, m mcpctl.MCPMessage) {
	b.mu.Lock()
	targets := append([]transport.Adapter{}, b.bridges[from]...)
	b.mu.Unlock()
	for _, t := range targets {
		if _, err := t.Send(ctx, m); err != nil {
			log.Warningf("forwarding message to adapter %s failed: %v", t.Variant(), err)
		}
	}
}
