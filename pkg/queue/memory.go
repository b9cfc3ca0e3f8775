package queue

import (
	"fmt"
	"sync"
)

const (
	// DefaultQueueSize is the capacity used when a non-positive size is requested
	DefaultQueueSize = 1024
)

// InMemoryQueue is a FIFO queue with a soft capacity. Enqueue refuses items once
// the capacity is reached; Push always accepts them.
type InMemoryQueue[T any] struct {
	items []T
	size  int
	lock  sync.Mutex
}

// NewInMemoryQueue creates a new queue whose Enqueue accepts at most size items.
func NewInMemoryQueue[T any](size int) *InMemoryQueue[T] {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &InMemoryQueue[T]{
		items: make([]T, 0, size),
		size:  size,
	}
}

// Enqueue adds an item to the end of the queue. It never blocks: a full queue
// returns an error and the item is dropped.
func (q *InMemoryQueue[T]) Enqueue(item T) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.items) >= q.size {
		return fmt.Errorf("queue is full (%d items)", q.size)
	}
	q.items = append(q.items, item)
	return nil
}

// Push adds an item to the end of the queue regardless of its capacity.
func (q *InMemoryQueue[T]) Push(item T) {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.items = append(q.items, item)
}

// Size returns the current size of the queue.
func (q *InMemoryQueue[T]) Size() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return len(q.items)
}

// ReadAll drains the items that were pending when it was called, in FIFO order.
func (q *InMemoryQueue[T]) ReadAll() []T {
	q.lock.Lock()
	defer q.lock.Unlock()

	items := q.items
	q.items = make([]T, 0, min(len(items), q.size))
	return items
}

// Clear removes all pending items.
func (q *InMemoryQueue[T]) Clear() {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.items = q.items[:0]
}
