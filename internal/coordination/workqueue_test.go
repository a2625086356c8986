package coordination

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/routemesh-go/pkg/coordination"
)

func openMemoryQueue(t *testing.T, c clock.Clock) *BadgerWorkQueue {
	t.Helper()
	q, err := OpenBadgerWorkQueue(QueueConfig{
		Name:         "reaper",
		InMemory:     true,
		PollInterval: 5 * time.Millisecond,
		LeaseTimeout: time.Minute,
		Clock:        c,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueueConfig_Validate(t *testing.T) {
	c := QueueConfig{}
	assert.ErrorIs(t, c.Validate(), ErrEmptyQueueName)

	c.Name = "q"
	assert.ErrorIs(t, c.Validate(), ErrMissingDir)

	c.InMemory = true
	assert.NoError(t, c.Validate())

	c.SetDefaults()
	assert.Equal(t, 5*time.Minute, c.LeaseTimeout)
	assert.Equal(t, time.Second, c.PollInterval)
	assert.NotNil(t, c.Clock)
}

func TestBadgerWorkQueue_DeliversInOrder(t *testing.T) {
	q := openMemoryQueue(t, clock.New())
	ctx := context.Background()

	for _, item := range []string{"a", "b", "c"} {
		require.NoError(t, q.AddOne(ctx, item))
	}
	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var mu sync.Mutex
	var got []string
	require.NoError(t, q.RegisterTaskProcessor(func(_ context.Context, item string) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, item)
		return nil
	}, 1))

	require.Eventually(t, func() bool {
		n, _ := q.Len()
		return n == 0
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestBadgerWorkQueue_FailedItemIsRedelivered(t *testing.T) {
	q := openMemoryQueue(t, clock.New())
	var attempts atomic.Int32

	require.NoError(t, q.RegisterTaskProcessor(func(_ context.Context, item string) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, 2))
	require.NoError(t, q.AddOne(context.Background(), "node-2"))

	require.Eventually(t, func() bool {
		n, _ := q.Len()
		return n == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestBadgerWorkQueue_PanicIsRedelivered(t *testing.T) {
	q := openMemoryQueue(t, clock.New())
	var attempts atomic.Int32

	require.NoError(t, q.RegisterTaskProcessor(func(_ context.Context, item string) error {
		if attempts.Add(1) == 1 {
			panic("boom")
		}
		return nil
	}, 1))
	require.NoError(t, q.AddOne(context.Background(), "node-2"))

	require.Eventually(t, func() bool {
		n, _ := q.Len()
		return n == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestBadgerWorkQueue_ExpiredLeaseIsRedelivered(t *testing.T) {
	mock := clock.NewMock()
	q := openMemoryQueue(t, mock)

	release := make(chan struct{})
	var calls atomic.Int32
	require.NoError(t, q.RegisterTaskProcessor(func(ctx context.Context, item string) error {
		if calls.Add(1) == 1 {
			// simulates a worker that hangs mid-task
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return nil
	}, 2))
	require.NoError(t, q.AddOne(context.Background(), "node-2"))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		mock.Add(30 * time.Second)
		return calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		n, _ := q.Len()
		return n == 0
	}, time.Second, time.Millisecond)
	close(release)
}

func TestBadgerWorkQueue_StopAndReregister(t *testing.T) {
	q := openMemoryQueue(t, clock.New())
	ctx := context.Background()
	var processed atomic.Int32
	fn := func(context.Context, string) error {
		processed.Add(1)
		return nil
	}

	require.NoError(t, q.RegisterTaskProcessor(fn, 1))
	assert.ErrorIs(t, q.RegisterTaskProcessor(fn, 1), ErrAlreadyProcessing)
	assert.ErrorIs(t, q.RegisterTaskProcessor(fn, 0), ErrInvalidParallelism)

	require.NoError(t, q.StopProcessing())
	require.NoError(t, q.StopProcessing())
	require.NoError(t, q.AddOne(ctx, "node-2"))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), processed.Load(), "stopped queue must not pull")

	require.NoError(t, q.RegisterTaskProcessor(fn, 1))
	require.Eventually(t, func() bool { return processed.Load() == 1 }, time.Second, time.Millisecond)
}

func TestBadgerWorkQueue_StatusListeners(t *testing.T) {
	q, err := OpenBadgerWorkQueue(QueueConfig{Name: "status", InMemory: true})
	require.NoError(t, err)
	assert.Equal(t, coordination.QueueActive, q.Status())

	var got []coordination.QueueStatus
	remove := q.AddStatusListener(func(s coordination.QueueStatus) { got = append(got, s) })

	q.Suspend()
	q.Suspend()
	q.Resume()
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	q.Resume()

	assert.Equal(t, []coordination.QueueStatus{
		coordination.QueueSuspended,
		coordination.QueueActive,
		coordination.QueueInactive,
	}, got)
	assert.Equal(t, coordination.QueueInactive, q.Status())
	remove()

	assert.ErrorIs(t, q.AddOne(context.Background(), "x"), ErrQueueClosed)
	assert.ErrorIs(t, q.RegisterTaskProcessor(func(context.Context, string) error { return nil }, 1), ErrQueueClosed)
}

func TestBadgerWorkQueue_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	config := QueueConfig{Name: "reaper", Dir: dir, PollInterval: 5 * time.Millisecond}

	q, err := OpenBadgerWorkQueue(config)
	require.NoError(t, err)
	require.NoError(t, q.AddOne(ctx, "node-2"))
	require.NoError(t, q.AddOne(ctx, "node-3"))

	// never acknowledges, like a process that dies mid-task
	started := make(chan struct{}, 2)
	require.NoError(t, q.RegisterTaskProcessor(func(ctx context.Context, _ string) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}, 1))
	<-started
	require.NoError(t, q.Close())

	q, err = OpenBadgerWorkQueue(config)
	require.NoError(t, err)
	defer q.Close()

	var mu sync.Mutex
	var got []string
	require.NoError(t, q.RegisterTaskProcessor(func(_ context.Context, item string) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, item)
		return nil
	}, 1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"node-2", "node-3"}, got)
}
