package relay

import "sync"

// Queue is an unbounded FIFO of byte buffers. Any number of goroutines may
// Push; a single consumer waits on Ready and calls Drain.
type Queue struct {
	mu    sync.Mutex
	items [][]byte
	ready chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends data and wakes the consumer. It never blocks on the consumer.
func (q *Queue) Push(data []byte) {
	q.mu.Lock()
	q.items = append(q.items, data)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready receives a value after at least one Push since the last receive.
// A wake-up may find the queue already drained.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Drain removes and returns everything queued, oldest first.
func (q *Queue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len is the number of buffers waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
