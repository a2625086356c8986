package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLock_TryLock(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLock()

	ok, err := l.TryLock(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, l.Held())

	start := time.Now()
	ok, err = l.TryLock(ctx, 20*time.Millisecond)
	require.NoError(t, err, "a timeout is not an error")
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	require.NoError(t, l.Unlock(ctx))
	assert.False(t, l.Held())
	require.NoError(t, l.Unlock(ctx), "unlocking an unheld lock is a no-op")

	ok, err = l.TryLock(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLock_WaitsForRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLock()
	ok, _ := l.TryLock(ctx, time.Millisecond)
	require.True(t, ok)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = l.Unlock(ctx)
	}()

	ok, err := l.TryLock(ctx, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLock_CancelledContext(t *testing.T) {
	l := NewLocalLock()
	ok, _ := l.TryLock(context.Background(), time.Millisecond)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := l.TryLock(ctx, time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
