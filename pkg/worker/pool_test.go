package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolProcessesSubmittedWork(t *testing.T) {
	var processed atomic.Int32
	done := make(chan struct{})

	pool, err := NewPool(2, 10, func(_ context.Context, n int) error {
		if processed.Add(1) == 5 {
			close(done)
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	defer func() { _ = pool.Stop(time.Second) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(i))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("work not processed")
	}
	assert.Equal(t, int32(5), processed.Load())
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	pool, err := NewPool(1, 1, func(_ context.Context, _ int) error {
		<-block
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(block)
		_ = pool.Stop(time.Second)
	}()

	// One item occupies the worker, one fills the queue; keep submitting
	// until the queue reports full.
	deadline := time.After(2 * time.Second)
	for {
		if err := pool.Submit(0); errors.Is(err, ErrQueueFull) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("queue never filled")
		default:
		}
	}

	assert.Greater(t, pool.Stats().Rejected, int64(0))
}

func TestPoolSubmitBeforeStartFails(t *testing.T) {
	pool, err := NewPool(1, 1, func(_ context.Context, _ int) error { return nil })
	require.NoError(t, err)

	assert.ErrorIs(t, pool.Submit(0), ErrNotStarted)
}

func TestPoolSubmitAfterStopFails(t *testing.T) {
	pool, err := NewPool(1, 1, func(_ context.Context, _ int) error { return nil })
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop(time.Second))

	assert.ErrorIs(t, pool.Submit(0), ErrStopped)
}

func TestPoolStartTwiceFails(t *testing.T) {
	pool, err := NewPool(1, 1, func(_ context.Context, _ int) error { return nil })
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	defer func() { _ = pool.Stop(time.Second) }()

	assert.ErrorIs(t, pool.Start(context.Background()), ErrAlreadyStarted)
}

func TestPoolStopDrainsInFlightWork(t *testing.T) {
	var mu sync.Mutex
	var seen []int

	pool, err := NewPool(1, 10, func(_ context.Context, n int) error {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(i))
	}
	require.NoError(t, pool.Stop(2*time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 5, "queued work drains before Stop returns")
}

func TestPoolCountsFailures(t *testing.T) {
	done := make(chan struct{})
	var count atomic.Int32

	pool, err := NewPool(1, 10, func(_ context.Context, n int) error {
		defer func() {
			if count.Add(1) == 2 {
				close(done)
			}
		}()
		if n%2 == 1 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	defer func() { _ = pool.Stop(time.Second) }()

	require.NoError(t, pool.Submit(0))
	require.NoError(t, pool.Submit(1))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("work not processed")
	}

	stats := pool.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestPoolNilProcessorRejected(t *testing.T) {
	_, err := NewPool[int](1, 1, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)
}
