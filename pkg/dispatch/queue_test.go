package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type op struct {
	producer int
	seq      int
}

func TestQueueFIFOAcrossProducers(t *testing.T) {
	q := New[op]("test-fifo")
	defer q.Close()

	const producers, perProducer = 4, 250

	var (
		mu  sync.Mutex
		got []op
	)
	record := func(o op) {
		mu.Lock()
		got = append(got, o)
		mu.Unlock()
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.True(t, q.Enqueue(op{producer: p, seq: i}, record))
			}
		}(p)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Sync(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, producers*perProducer)

	// each producer's operations come out in the order it enqueued them
	next := make([]int, producers)
	for _, o := range got {
		assert.Equal(t, next[o.producer], o.seq, "producer %d", o.producer)
		next[o.producer]++
	}
}

func TestQueueSerialExecution(t *testing.T) {
	q := New[int]("test-serial")
	defer q.Close()

	var (
		running int32
		mu      sync.Mutex
		overlap bool
	)
	for i := 0; i < 100; i++ {
		q.Enqueue(i, func(int) {
			mu.Lock()
			running++
			if running > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(10 * time.Microsecond)
			mu.Lock()
			running--
			mu.Unlock()
		})
	}
	require.NoError(t, q.Sync(context.Background()))
	assert.False(t, overlap)
	assert.Equal(t, 0, q.Len())
}

func TestQueuePanicDoesNotStopWorker(t *testing.T) {
	q := New[string]("test-panic")
	defer q.Close()

	var ran []string
	q.Enqueue("a", func(s string) { panic("boom") })
	q.Enqueue("b", func(s string) { ran = append(ran, s) })
	require.NoError(t, q.Sync(context.Background()))
	assert.Equal(t, []string{"b"}, ran)
}

func TestQueueCloseDrains(t *testing.T) {
	q := New[int]("test-close")

	var n int
	for i := 0; i < 10; i++ {
		q.Enqueue(i, func(int) { n++ })
	}
	q.Close()
	assert.Equal(t, 10, n)

	assert.False(t, q.Enqueue(0, func(int) { n++ }))
	assert.Error(t, q.Sync(context.Background()))
}
