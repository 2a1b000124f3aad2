package host

import (
	"sync"

	"github.com/mattjoyce/pluginhost/internal/protocol"
)

// Queue is an unbounded FIFO of job output records. Push never blocks.
type Queue struct {
	mu    sync.Mutex
	items []protocol.JobOutput
	head  int
}

// Push appends r and returns the resulting depth.
func (q *Queue) Push(r protocol.JobOutput) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, r)
	return len(q.items) - q.head
}

// Drain removes and returns up to limit records in FIFO order. An empty queue
// yields nil.
func (q *Queue) Drain(limit int) []protocol.JobOutput {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items) - q.head
	if n == 0 || limit <= 0 {
		return nil
	}
	if n > limit {
		n = limit
	}
	out := make([]protocol.JobOutput, n)
	copy(out, q.items[q.head:q.head+n])
	q.head += n
	q.compact()
	return out
}

// DrainAll removes and returns everything queued.
func (q *Queue) DrainAll() []protocol.JobOutput {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items) - q.head
	if n == 0 {
		return nil
	}
	out := make([]protocol.JobOutput, n)
	copy(out, q.items[q.head:])
	q.items = nil
	q.head = 0
	return out
}

// Len returns the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// compact releases the consumed prefix once it dominates the backing array.
// Caller holds mu.
func (q *Queue) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 1024 && q.head*2 >= len(q.items) {
		rest := make([]protocol.JobOutput, len(q.items)-q.head)
		copy(rest, q.items[q.head:])
		q.items = rest
		q.head = 0
	}
}
