package execstream

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory wsConn double: inbound frames are fed by the
// test via push(); outbound frames written by Handler land in written().
type fakeConn struct {
	mu      sync.Mutex
	inbound chan []byte
	written [][]byte
	closed  bool
	readErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (f *fakeConn) push(channel byte, payload string) {
	frame := append([]byte{channel}, []byte(payload)...)
	f.inbound <- frame
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	frame, ok := <-f.inbound
	if !ok {
		return 0, nil, f.readErrOrDefault()
	}
	return websocket.BinaryMessage, frame, nil
}

func (f *fakeConn) readErrOrDefault() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return f.readErr
	}
	return io.EOF
}

func (f *fakeConn) WriteMessage(kind int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("conn closed")
	}
	cp := append([]byte{}, data...)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	close(f.inbound)
	return nil
}

func (f *fakeConn) writtenFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func TestHandler_DemultiplexesStdoutAndStderr(t *testing.T) {
	conn := newFakeConn()
	h := newHandler(conn)

	conn.push(ChannelStdout, "hello ")
	conn.push(ChannelStdout, "world")
	conn.push(ChannelStderr, "uh oh")

	stdout := make([]byte, 11)
	_, err := io.ReadFull(h.Stdout(), stdout)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(stdout))

	stderr := make([]byte, 5)
	_, err = io.ReadFull(h.Stderr(), stderr)
	require.NoError(t, err)
	assert.Equal(t, "uh oh", string(stderr))
}

func TestHandler_DiscardsUnknownChannelByte(t *testing.T) {
	conn := newFakeConn()
	h := newHandler(conn)

	conn.push(3, "ignored")
	conn.push(ChannelStdout, "ok")

	buf := make([]byte, 2)
	_, err := io.ReadFull(h.Stdout(), buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf))
}

func TestHandler_WritePrefixesStdinChannelByte(t *testing.T) {
	conn := newFakeConn()
	h := newHandler(conn)

	n, err := h.Write([]byte("ls -la"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	require.Eventually(t, func() bool { return len(conn.writtenFrames()) == 1 }, time.Second, 10*time.Millisecond)
	frame := conn.writtenFrames()[0]
	require.Len(t, frame, 7)
	assert.Equal(t, ChannelStdin, frame[0])
	assert.Equal(t, "ls -la", string(frame[1:]))
}

func TestHandler_WriteNoopOnEmptyPayload(t *testing.T) {
	conn := newFakeConn()
	h := newHandler(conn)

	_, err := h.Write(nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, conn.writtenFrames())
}

func TestHandler_ReadErrorMarksStateAndDrainsWithEOF(t *testing.T) {
	conn := newFakeConn()
	conn.mu.Lock()
	conn.readErr = errors.New("connection reset")
	conn.mu.Unlock()
	close(conn.inbound)

	h := newHandler(conn)

	buf := make([]byte, 1)
	_, err := h.Stdout().Read(buf)
	assert.ErrorIs(t, err, io.EOF)

	require.Eventually(t, func() bool {
		_, writeErr := h.Write([]byte("x"))
		return writeErr != nil
	}, time.Second, 10*time.Millisecond)
}

func TestHandler_CloseMarksClosedAndStopsWrites(t *testing.T) {
	conn := newFakeConn()
	h := newHandler(conn)

	require.NoError(t, h.Close())

	_, err := h.Write([]byte("late"))
	assert.Error(t, err)

	buf := make([]byte, 1)
	_, err = h.Stdout().Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}
