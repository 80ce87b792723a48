package agent

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueueFIFO(t *testing.T) {
	q := newWorkQueue()

	var order []int
	for i := 0; i < workQueueSize; i++ {
		require.NoError(t, q.enqueue(func(priv any) {
			order = append(order, priv.(int))
		}, i))
	}

	q.drain()

	require.Len(t, order, workQueueSize)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
	assert.Equal(t, 0, q.len())
}

func TestWorkQueueFullRejectsNinth(t *testing.T) {
	q := newWorkQueue()

	for i := 0; i < workQueueSize; i++ {
		require.NoError(t, q.enqueue(func(any) {}, nil))
	}

	err := q.enqueue(func(any) {}, nil)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, workQueueSize, q.len())
}

func TestWorkQueueDrainEmptyDoesNotBlock(t *testing.T) {
	q := newWorkQueue()
	q.drain() // must return immediately
}

func TestWorkQueueConcurrentProducers(t *testing.T) {
	q := newWorkQueue()

	var wg sync.WaitGroup
	accepted := make(chan struct{}, workQueueSize*2)
	for i := 0; i < workQueueSize*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if q.enqueue(func(any) {}, nil) == nil {
				accepted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(accepted)

	count := 0
	for range accepted {
		count++
	}
	// No more than capacity can be accepted without an intervening drain.
	assert.Equal(t, workQueueSize, count)
}

func TestWorkQueueEnqueueDuringDrain(t *testing.T) {
	q := newWorkQueue()

	ran := 0
	require.NoError(t, q.enqueue(func(any) {
		ran++
		// Re-enqueue from inside a callback; executed in the same drain
		// because the item is visible before drain checks again.
		require.NoError(t, q.enqueue(func(any) { ran++ }, nil))
	}, nil))

	q.drain()
	assert.Equal(t, 2, ran)
}
