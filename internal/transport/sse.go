package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

// SSEAdapter sends JSON-RPC payloads by POSTing to <base>/send and
// receives by consuming the server's event stream, extracting `data:`
// lines. Per spec.md §8's boundary behavior, a frame split across two
// `data:` lines is never reassembled — each `data:` line is a complete
// JSON-RPC frame.
type SSEAdapter struct {
	baseURL string
	client  *http.Client

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	inbound   chan mcpctl.MCPMessage
}

// NewSSEAdapter constructs an adapter against baseURL (e.g.
// http://worker:8080).
func NewSSEAdapter(baseURL string) *SSEAdapter {
	return &SSEAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		inbound: make(chan mcpctl.MCPMessage, mcpctl.MessageQueueCapacity),
	}
}

func (a *SSEAdapter) Variant() mcpctl.AdapterVariant { return mcpctl.AdapterSSE }

func (a *SSEAdapter) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, a.baseURL+"/events", nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := a.client.Do(req)
	if err != nil {
		cancel()
		return err
	}
	a.mu.Lock()
	a.connected = true
	a.cancel = cancel
	a.mu.Unlock()
	go a.readLoop(resp)
	return nil
}

func (a *SSEAdapter) readLoop(resp *http.Response) {
	defer resp.Body.Close()
	defer close(a.inbound)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(payload) == 0 {
			continue
		}
		m, err := mcpctl.FromJSONRPC(payload)
		if err != nil {
			log.Warningf("sse adapter dropped unparseable frame: %v", err)
			continue
		}
		m.Timestamp = time.Now().UTC()
		m.Protocol = "sse"
		select {
		case a.inbound <- m:
		default:
		}
	}
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
}

func (a *SSEAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	a.connected = false
	return nil
}

func (a *SSEAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *SSEAdapter) Send(ctx context.Context, m mcpctl.MCPMessage) (bool, error) {
	if !a.IsConnected() {
		return false, nil
	}
	body, err := m.ToJSONRPC()
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("sse send: unexpected status %d", resp.StatusCode)
	}
	return true, nil
}

func (a *SSEAdapter) Receive(ctx context.Context, timeout time.Duration) (*mcpctl.MCPMessage, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case m, ok := <-a.inbound:
		if !ok {
			return nil, fmt.Errorf("sse adapter closed")
		}
		return &m, nil
	case <-timer:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
