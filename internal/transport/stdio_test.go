package transport

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-ai/mcp-controlplane/internal/mcpctl"
)

// syncBuffer is a concurrency-safe io.WriteCloser wrapping bytes.Buffer, so
// Send (called from the test goroutine) and any reader (none, here) don't
// race on the stdin side.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
func (b *syncBuffer) Close() error { return nil }
func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestStdioAdapter_SendWritesNewlineTerminatedJSONRPC(t *testing.T) {
	stdin := &syncBuffer{}
	// An open pipe keeps stdout from ending, so the adapter stays connected.
	stdout, stdoutW := io.Pipe()
	defer stdoutW.Close()
	stderr := bytes.NewBufferString("")

	a := NewStdioAdapter(stdin, stdout, stderr, nil)
	require.NoError(t, a.Connect(context.Background()))

	ok, err := a.Send(context.Background(), mcpctl.MCPMessage{ID: "1", Kind: mcpctl.KindRequest, Method: "ping"})
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool { return len(stdin.String()) > 0 }, time.Second, 10*time.Millisecond)
	assert.Contains(t, stdin.String(), `"method":"ping"`)
	assert.True(t, bytes.HasSuffix([]byte(stdin.String()), []byte("\n")))
}

func TestStdioAdapter_ReceiveParsesStdoutLines(t *testing.T) {
	stdout := bytes.NewBufferString(`{"jsonrpc":"2.0","id":"7","result":42}` + "\n")
	stderr := bytes.NewBufferString("")

	a := NewStdioAdapter(&syncBuffer{}, stdout, stderr, nil)
	require.NoError(t, a.Connect(context.Background()))

	msg, err := a.Receive(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "7", msg.ID)
	assert.Equal(t, "stdio", msg.Protocol)
}

func TestStdioAdapter_SendAfterDisconnectReturnsFalse(t *testing.T) {
	a := NewStdioAdapter(&syncBuffer{}, bytes.NewBufferString(""), bytes.NewBufferString(""), nil)
	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Disconnect())

	ok, err := a.Send(context.Background(), mcpctl.MCPMessage{Kind: mcpctl.KindNotification, Method: "ping"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStdioAdapter_DisconnectCallsCloseFn(t *testing.T) {
	var closed bool
	closeFn := func() error { closed = true; return nil }

	a := NewStdioAdapter(&syncBuffer{}, bytes.NewBufferString(""), bytes.NewBufferString(""), closeFn)
	require.NoError(t, a.Connect(context.Background()))
	require.NoError(t, a.Disconnect())
	assert.True(t, closed)
	assert.False(t, a.IsConnected())
}

var _ io.Reader = (*bytes.Buffer)(nil)
