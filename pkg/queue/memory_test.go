package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_ReadAllPreservesOrder(t *testing.T) {
	q := NewInMemoryQueue[int](8)
	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Enqueue(i))
	}

	assert.Equal(t, 5, q.Size())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, q.ReadAll())
	assert.Equal(t, 0, q.Size())
	assert.Empty(t, q.ReadAll())
}

func TestInMemoryQueue_FullQueueDrops(t *testing.T) {
	q := NewInMemoryQueue[string](2)
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))
	assert.Error(t, q.Enqueue("c"))
	assert.Equal(t, []string{"a", "b"}, q.ReadAll())
}

func TestInMemoryQueue_PushIgnoresCapacity(t *testing.T) {
	q := NewInMemoryQueue[string](2)
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))
	assert.Error(t, q.Enqueue("c"))
	q.Push("d")

	assert.Equal(t, 3, q.Size())
	assert.Equal(t, []string{"a", "b", "d"}, q.ReadAll())
	require.NoError(t, q.Enqueue("e"))
}

func TestInMemoryQueue_Clear(t *testing.T) {
	q := NewInMemoryQueue[int](0)
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(i))
	}
	q.Clear()
	assert.Equal(t, 0, q.Size())
}

func TestInMemoryQueue_ConcurrentProducers(t *testing.T) {
	q := NewInMemoryQueue[int](1000)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = q.Enqueue(i)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, q.ReadAll(), 400)
}
