package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFO_OrderPreserved(t *testing.T) {
	q := New[int]()
	for i := 0; i < 1000; i++ {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 1000, q.Len())

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestFIFO_PopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)

	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before any push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("hello")
	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after push")
	}
}

func TestFIFO_PopHonoursContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFIFO_CloseDiscardsAndWakes(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Close()
	q.Close() // idempotent

	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Push(3))

	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFIFO_CloseWakesBlockedConsumers(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Pop(context.Background())
			assert.ErrorIs(t, err, ErrClosed)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumers not woken by Close")
	}
}

func TestFIFO_ConcurrentProducersConsumers(t *testing.T) {
	q := New[int]()
	const producers, perProducer = 4, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(i)
			}
		}()
	}

	var mu sync.Mutex
	count := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var consumers sync.WaitGroup
	for c := 0; c < 3; c++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				if _, err := q.Pop(ctx); err != nil {
					return
				}
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == producers*perProducer
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	consumers.Wait()
}
