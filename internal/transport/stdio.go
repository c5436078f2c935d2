package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/archon-ai/mcp-controlplane/internal/logging"
	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

var log = logging.Get("transport")

// StdioAdapter writes frames straight to stdin, queues parsed stdout frames
// on one bounded inbound channel, and taps stderr into the debug log. When
// stdout ends the adapter reports itself disconnected. Its
// Stdin/Stdout/Stderr streams are supplied by the Exec Stream Handler (backend.ExecStream) bound to a worker's container.
type StdioAdapter struct {
	mu        sync.Mutex
	stdin     io.WriteCloser
	stdout    io.Reader
	stderr    io.Reader
	stdoutBuf *bufio.Scanner
	connected bool
	closed    bool
	inbound   chan mcpctl.MCPMessage
	closeFn   func() error
}

// NewStdioAdapter wraps an already-established exec stream.
func NewStdioAdapter(stdin io.WriteCloser, stdout, stderr io.Reader, closeFn func() error) *StdioAdapter {
	return &StdioAdapter{
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		stdoutBuf: bufio.NewScanner(stdout),
		inbound:   make(chan mcpctl.MCPMessage, mcpctl.MessageQueueCapacity),
		closeFn:   closeFn,
	}
}

func (a *StdioAdapter) Variant() mcpctl.AdapterVariant { return mcpctl.AdapterStdio }

func (a *StdioAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	go a.readLoop()
	go a.stderrTap()
	return nil
}

func (a *StdioAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	// closeFn runs once, even when the read loop has already marked the
	// adapter disconnected because stdout ended.
	if a.closeFn != nil && !a.closed {
		a.closed = true
		return a.closeFn()
	}
	return nil
}

func (a *StdioAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Send JSON-serializes m and writes a newline-terminated frame to stdin;
// the paired Exec Stream Handler forwards it to the worker container.
func (a *StdioAdapter) Send(ctx context.Context, m mcpctl.MCPMessage) (bool, error) {
	if !a.IsConnected() {
		return false, nil
	}
	body, err := m.ToJSONRPC()
	if err != nil {
		return false, err
	}
	body = append(body, '\n')
	if _, err := a.stdin.Write(body); err != nil {
		return false, err
	}
	return true, nil
}

// Receive dequeues from the stdout read loop, parses JSON-RPC, and tags
// protocol=stdio.
func (a *StdioAdapter) Receive(ctx context.Context, timeout time.Duration) (*mcpctl.MCPMessage, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case m, ok := <-a.inbound:
		if !ok {
			return nil, fmt.Errorf("stdio adapter closed")
		}
		return &m, nil
	case <-timer:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *StdioAdapter) readLoop() {
	defer close(a.inbound)
	for a.stdoutBuf.Scan() {
		line := a.stdoutBuf.Bytes()
		if len(line) == 0 {
			continue
		}
		m, err := mcpctl.FromJSONRPC(line)
		if err != nil {
			log.Warningf("stdio adapter dropped unparseable frame: %v", err)
			continue
		}
		m.Timestamp = time.Now().UTC()
		m.Protocol = "stdio"
		select {
		case a.inbound <- m:
		default:
			// Oldest-drop semantics per spec.md §5 backpressure rule.
			select {
			case <-a.inbound:
			default:
			}
			a.inbound <- m
		}
	}
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
}

func (a *StdioAdapter) stderrTap() {
	scanner := bufio.NewScanner(a.stderr)
	for scanner.Scan() {
		log.Debugf("stderr: %s", scanner.Text())
	}
}
