// Package memory provides in-process queue implementations.
package memory

// Queue is an unbounded FIFO. It is not safe for concurrent use; callers
// serialize access with their own lock.
type Queue[T any] struct {
	items []T
	head  int
}

// NewQueue constructs an empty queue with room for capacity items before the
// first reallocation.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{items: make([]T, 0, capacity)}
}

// Push appends item to the tail of the queue.
func (q *Queue[T]) Push(item T) {
	q.items = append(q.items, item)
}

// Pop removes and returns the head of the queue. ok is false when the queue is
// empty.
func (q *Queue[T]) Pop() (item T, ok bool) {
	if q.head >= len(q.items) {
		return item, false
	}
	item = q.items[q.head]
	var zero T
	q.items[q.head] = zero
	q.head++
	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head > 64 && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item, true
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items) - q.head
}

// Drain removes every queued item and returns them in FIFO order.
func (q *Queue[T]) Drain() []T {
	out := append([]T(nil), q.items[q.head:]...)
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	return out
}
