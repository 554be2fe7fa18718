package bus

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO between handlers and the Telegram sender. Handlers
// publish replies and relays; a single sender goroutine consumes them, which
// keeps per-chat outbound order stable.
type Queue struct {
	outbound chan OutboundMessage
	closed   bool
	mu       sync.RWMutex
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{
		outbound: make(chan OutboundMessage, size),
	}
}

// Publish enqueues a message. Publishing to a closed queue is a no-op so
// handlers finishing during shutdown do not panic.
func (q *Queue) Publish(msg OutboundMessage) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	q.outbound <- msg
}

// Consume blocks until a message is available, the queue is closed, or ctx
// is done. The second return value is false when no more messages will come.
func (q *Queue) Consume(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-q.outbound:
		if !ok {
			return OutboundMessage{}, false
		}
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Close stops the queue. Messages already enqueued are still delivered to
// the consumer before Consume starts returning false.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.outbound)
}

// Len reports the number of queued messages, for observability.
func (q *Queue) Len() int {
	return len(q.outbound)
}
