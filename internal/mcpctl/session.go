package mcpctl

// AdapterVariant names which transport backs an adapter.
type AdapterVariant string

const (
	AdapterStdio     AdapterVariant = "stdio"
	AdapterSSE       AdapterVariant = "sse"
	AdapterWebSocket AdapterVariant = "websocket"
	AdapterHTTP      AdapterVariant = "http"
)

// MessageQueueCapacity bounds every adapter's send/receive queue at 1000
// entries (spec.md §4.4, §5: "adapter message queues are bounded (1000)").
const MessageQueueCapacity = 1000

// MessageQueue is a bounded ring channel: pushing past capacity drops the
// oldest queued message rather than blocking the producer, matching
// spec.md §5's backpressure rule for the log/message rings. Request queues
// are self-limited by the caller's waiting completer and do not rely on
// this eviction behavior in practice, but share the same bounded type.
type MessageQueue struct {
	ch chan MCPMessage
}

// NewMessageQueue allocates a queue at MessageQueueCapacity.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{ch: make(chan MCPMessage, MessageQueueCapacity)}
}

// Push enqueues m, dropping the oldest queued message if the queue is full.
func (q *MessageQueue) Push(m MCPMessage) {
	for {
		select {
		case q.ch <- m:
			return
		default:
		}
		select {
		case <-q.ch:
		default:
		}
	}
}

// Chan exposes the underlying channel for select-based receive loops.
func (q *MessageQueue) Chan() <-chan MCPMessage {
	return q.ch
}

// Close closes the underlying channel; further Push calls will panic, so
// callers must stop producing before closing.
func (q *MessageQueue) Close() {
	close(q.ch)
}
