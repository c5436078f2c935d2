// Package transport implements the pluggable Transport Adapters of
// spec.md §4.4: stdio, sse and websocket, all sharing one
// connect/disconnect/send/receive contract. There is no http adapter type
// here; the control plane's HTTP surface lives in internal/httpapi.
// Grounded on
// original_source/python/src/server/mcp_kubernetes/protocols/adapters.py's
// ProtocolAdapter ABC, reimplemented without the Python source's module-
// level singleton (spec.md §9's "Global singletons" design note).
package transport

import (
	"context"
	"time"

	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

// Adapter is the contract every transport implementation satisfies.
type Adapter interface {
	// Variant identifies which AdapterVariant this is, for logging.
	Variant() mcpctl.AdapterVariant

	// Connect establishes the underlying transport.
	Connect(ctx context.Context) error

	// Disconnect tears down the underlying transport. Safe to call more
	// than once.
	Disconnect() error

	// Send serializes and delivers m. Returns false (not an error) when
	// the adapter is not connected, matching spec.md's `send(...) → bool`
	// contract; callers that need the distinction check IsConnected first.
	Send(ctx context.Context, m mcpctl.MCPMessage) (bool, error)

	// Receive blocks for up to timeout (zero means block until the next
	// message or Disconnect) and returns the next inbound message, or nil
	// on timeout.
	Receive(ctx context.Context, timeout time.Duration) (*mcpctl.MCPMessage, error)

	// IsConnected reports current connection state.
	IsConnected() bool
}

// IncomingHandler is invoked by an adapter's receive loop for every parsed
// inbound message; Bridge.HandleIncoming satisfies this.
type IncomingHandler func(ctx context.Context, from Adapter, m mcpctl.MCPMessage)

// RunReceiveLoop drives a.Receive in a loop, calling handler for every
// message, until ctx is cancelled or the adapter disconnects. It is the
// shared "each runs a receive loop that delivers incoming messages to the
// bridge" behavior spec.md §4.4 describes for every adapter.
func RunReceiveLoop(ctx context.Context, a Adapter, handler IncomingHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, err := a.Receive(ctx, 0)
		if err != nil {
			if !a.IsConnected() {
				return
			}
			continue
		}
		if msg == nil {
			continue
		}
		handler(ctx, a, *msg)
	}
}
