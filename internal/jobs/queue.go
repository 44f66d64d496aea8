// Package jobs is an in-process delayed job queue. Jobs fire after a delay on
// a bounded worker pool and may be cancelled by handle until they start.
package jobs

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc/pool"

	"github.com/phantompen/pen/internal/errors"
)

// ErrClosed is wrapped by the SCHEDULING_FAILURE returned after Close.
var ErrClosed = stderrors.New("job queue closed")

// Func is the body of a job. ctx is cancelled when the queue is aborted.
type Func func(ctx context.Context)

// Queue runs delayed jobs on a pool of at most maxConcurrent goroutines.
type Queue struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	closed   bool
	starting sync.WaitGroup

	pool   *pool.Pool
	ctx    context.Context
	cancel context.CancelFunc
}

// New returns a queue running at most maxConcurrent jobs at once.
// maxConcurrent < 1 is treated as 1.
func New(maxConcurrent int) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		timers: make(map[string]*time.Timer),
		pool:   pool.New().WithMaxGoroutines(maxConcurrent),
		ctx:    ctx,
		cancel: cancel,
	}
}

// RunAfter arranges for fn to run once delay has elapsed and returns the
// job's handle. A delay <= 0 fires immediately.
func (q *Queue) RunAfter(delay time.Duration, fn Func) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", errors.NewSchedulingFailure(ErrClosed)
	}
	if delay < 0 {
		delay = 0
	}

	handle := ulid.Make().String()
	q.timers[handle] = time.AfterFunc(delay, func() { q.fire(handle, fn) })
	return handle, nil
}

func (q *Queue) fire(handle string, fn Func) {
	q.mu.Lock()
	if _, ok := q.timers[handle]; !ok || q.closed {
		q.mu.Unlock()
		return
	}
	delete(q.timers, handle)
	q.starting.Add(1)
	q.mu.Unlock()

	// Go blocks while the pool is saturated.
	q.pool.Go(func() { fn(q.ctx) })
	q.starting.Done()
}

// Cancel stops a pending job. It reports false if the handle is unknown or
// the job already started; a started job is never interrupted.
func (q *Queue) Cancel(handle string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.timers[handle]
	if !ok {
		return false
	}
	delete(q.timers, handle)
	// A timer that already fired finds its handle gone in fire and returns.
	t.Stop()
	return true
}

// Pending returns the number of jobs waiting for their delay.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close drops every pending job and waits for running jobs to finish.
// Subsequent RunAfter calls fail.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for handle, t := range q.timers {
		t.Stop()
		delete(q.timers, handle)
	}
	q.mu.Unlock()

	q.starting.Wait()
	q.pool.Wait()
	q.cancel()
}

// Abort cancels the context of running jobs, then closes the queue.
func (q *Queue) Abort() {
	q.cancel()
	q.Close()
}
