package queue

// Queue hands items from producer goroutines to a single consumer that drains it
// once per tick. Enqueue may drop an item when the queue is full; Push never does.
type Queue[T any] interface {
	Enqueue(item T) error
	Push(item T)
	Size() int
	ReadAll() []T
	Clear()
}

var _ Queue[struct{}] = (*InMemoryQueue[struct{}])(nil)
