package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phantompen/pen/internal/errors"
)

func TestRunAfter_FiresOnce(t *testing.T) {
	q := New(2)
	defer q.Close()

	done := make(chan struct{})
	var runs atomic.Int32
	handle, err := q.RunAfter(10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
		close(done)
	})
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not fire")
	}
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, 0, q.Pending())
	assert.False(t, q.Cancel(handle), "fired job cannot be cancelled")
}

func TestCancel_PreventsRun(t *testing.T) {
	q := New(1)

	var ran atomic.Bool
	handle, err := q.RunAfter(50*time.Millisecond, func(ctx context.Context) { ran.Store(true) })
	require.NoError(t, err)
	require.Equal(t, 1, q.Pending())

	require.True(t, q.Cancel(handle))
	require.False(t, q.Cancel(handle), "second cancel is a no-op")
	require.False(t, q.Cancel("unknown"))

	time.Sleep(100 * time.Millisecond)
	q.Close()
	assert.False(t, ran.Load())
}

func TestMaxConcurrency(t *testing.T) {
	q := New(2)

	var (
		mu      sync.Mutex
		current int
		peak    int
		wg      sync.WaitGroup
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		_, err := q.RunAfter(0, func(ctx context.Context) {
			defer wg.Done()
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			current--
			mu.Unlock()
		})
		require.NoError(t, err)
	}
	wg.Wait()
	q.Close()

	assert.LessOrEqual(t, peak, 2)
	assert.GreaterOrEqual(t, peak, 1)
}

func TestClose_DropsPendingAndWaitsForRunning(t *testing.T) {
	q := New(1)

	started := make(chan struct{})
	var finished atomic.Bool
	_, err := q.RunAfter(0, func(ctx context.Context) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})
	require.NoError(t, err)

	var late atomic.Bool
	_, err = q.RunAfter(time.Hour, func(ctx context.Context) { late.Store(true) })
	require.NoError(t, err)

	<-started
	q.Close()

	assert.True(t, finished.Load(), "close waits for running jobs")
	assert.False(t, late.Load())
	assert.Equal(t, 0, q.Pending())

	_, err = q.RunAfter(0, func(ctx context.Context) {})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSchedulingFailure))
	assert.ErrorIs(t, err, ErrClosed)

	q.Close()
}

func TestAbort_CancelsRunningContext(t *testing.T) {
	q := New(1)

	started := make(chan struct{})
	var sawCancel atomic.Bool
	_, err := q.RunAfter(0, func(ctx context.Context) {
		close(started)
		select {
		case <-ctx.Done():
			sawCancel.Store(true)
		case <-time.After(2 * time.Second):
		}
	})
	require.NoError(t, err)

	<-started
	q.Abort()
	assert.True(t, sawCancel.Load())
}
