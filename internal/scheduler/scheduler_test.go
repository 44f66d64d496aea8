package scheduler

import (
	"context"
	"database/sql"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/jobs"
	"github.com/phantompen/pen/internal/whisper"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs []whisper.Schedule
}

func (r *recordingRunner) RunScheduled(ctx context.Context, s whisper.Schedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, s)
}

func (r *recordingRunner) snapshot() []whisper.Schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]whisper.Schedule(nil), r.runs...)
}

// fakeJobs records arming and cancellation without ever firing.
type fakeJobs struct {
	mu        sync.Mutex
	next      int
	armed     map[string]time.Duration
	cancelled []string
	fail      error
}

func (f *fakeJobs) RunAfter(delay time.Duration, fn jobs.Func) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", errors.NewSchedulingFailure(f.fail)
	}
	if f.armed == nil {
		f.armed = make(map[string]time.Duration)
	}
	f.next++
	h := "job-" + string(rune('a'+f.next-1))
	f.armed[h] = delay
	return h, nil
}

func (f *fakeJobs) Cancel(handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, handle)
	_, ok := f.armed[handle]
	delete(f.armed, handle)
	return ok
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func insertWhisper(t *testing.T, database *sql.DB, id string, revision int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.RunInTx(ctx, database, nil, func(tx *db.Tx) error {
		return db.InsertWhisper(ctx, tx, &whisper.Whisper{
			ID: id, UserID: "u1", Title: "t", Transcript: "hello there",
			Public: true, Revision: revision, CreatedAt: 1, UpdatedAt: 1,
		})
	}))
}

func TestReschedule_Debounces(t *testing.T) {
	ctx := context.Background()
	database := setupDB(t)
	insertWhisper(t, database, "w1", 3)

	queue := jobs.New(2)
	defer queue.Close()
	runner := &recordingRunner{}
	s := New(database, nil, queue, runner, 40*time.Millisecond, nil)

	var last *whisper.Schedule
	for i := 0; i < 5; i++ {
		sched, err := s.Reschedule(ctx, "w1")
		require.NoError(t, err)
		last = sched
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, whisper.ScheduleActive, last.Status)
	assert.Equal(t, int64(3), last.Revision)
	assert.Equal(t, "u1", last.UserID)
	assert.NotEmpty(t, last.JobHandle)

	rows, err := db.ListSchedulesByWhisper(ctx, database, "w1")
	require.NoError(t, err)
	require.Len(t, rows, 1, "only the latest schedule survives")
	assert.Equal(t, last.ID, rows[0].ID)

	require.Eventually(t, func() bool { return len(runner.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	runs := runner.snapshot()
	require.Len(t, runs, 1, "superseded jobs never fire")
	assert.Equal(t, last.ID, runs[0].ID)
	assert.Equal(t, 0, queue.Pending())
	assert.Zero(t, s.locks.size())
}

func TestReschedule_ReplacesFailedAndCancelsOld(t *testing.T) {
	ctx := context.Background()
	database := setupDB(t)
	insertWhisper(t, database, "w1", 1)

	require.NoError(t, db.InsertSchedule(ctx, database, &whisper.Schedule{
		ID: "old-failed", UserID: "u1", WhisperID: "w1", Status: whisper.ScheduleFailed, Error: "boom", JobHandle: "job-old",
	}))

	fj := &fakeJobs{}
	s := New(database, nil, fj, &recordingRunner{}, time.Minute, nil)
	fixed := time.UnixMilli(1_000_000)
	s.now = func() time.Time { return fixed }

	first, err := s.Reschedule(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000+60_000), first.ScheduledAt)
	assert.Equal(t, time.Minute, fj.armed[first.JobHandle])
	assert.Equal(t, []string{"job-old"}, fj.cancelled)

	second, err := s.Reschedule(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-old", first.JobHandle}, fj.cancelled)

	rows, err := db.ListSchedulesByWhisper(ctx, database, "w1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second.ID, rows[0].ID)
	assert.Equal(t, whisper.ScheduleActive, rows[0].Status)
}

func TestCancel_DropsActiveSchedule(t *testing.T) {
	ctx := context.Background()
	database := setupDB(t)
	insertWhisper(t, database, "w1", 1)

	fj := &fakeJobs{}
	s := New(database, nil, fj, &recordingRunner{}, time.Minute, nil)

	ok, err := s.Cancel(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok, "nothing to cancel")

	sched, err := s.Reschedule(ctx, "w1")
	require.NoError(t, err)

	ok, err = s.Cancel(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{sched.JobHandle}, fj.cancelled)
	assert.Empty(t, fj.armed)

	rows, err := db.ListSchedulesByWhisper(ctx, database, "w1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, db.InsertSchedule(ctx, database, &whisper.Schedule{
		ID: "failed", UserID: "u1", WhisperID: "w1", Status: whisper.ScheduleFailed, Error: "boom",
	}))
	ok, err = s.Cancel(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok)
	latest, err := s.Status(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "failed", latest.ID, "failed schedules are kept")
	assert.Zero(t, s.locks.size())
}

func TestReschedule_MissingWhisper(t *testing.T) {
	ctx := context.Background()
	database := setupDB(t)
	fj := &fakeJobs{}
	s := New(database, nil, fj, &recordingRunner{}, time.Second, nil)

	_, err := s.Reschedule(ctx, "nope")
	require.True(t, errors.Is(err, errors.ErrNotFound))
	assert.Empty(t, fj.armed)
}

func TestReschedule_SchedulingFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	database := setupDB(t)
	insertWhisper(t, database, "w1", 1)

	fj := &fakeJobs{}
	s := New(database, nil, fj, &recordingRunner{}, time.Second, nil)
	prev, err := s.Reschedule(ctx, "w1")
	require.NoError(t, err)

	fj.fail = stderrors.New("queue closed")
	_, err = s.Reschedule(ctx, "w1")
	require.True(t, errors.Is(err, errors.ErrSchedulingFailure))

	latest, err := s.Status(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, prev.ID, latest.ID, "failed reschedule rolls back")
	assert.Empty(t, fj.cancelled, "old job is only cancelled on commit")
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	database := setupDB(t)
	insertWhisper(t, database, "w1", 1)
	insertWhisper(t, database, "w2", 1)
	insertWhisper(t, database, "w3", 1)

	now := time.UnixMilli(500_000)
	require.NoError(t, db.InsertSchedule(ctx, database, &whisper.Schedule{
		ID: "future", UserID: "u1", WhisperID: "w1", ScheduledAt: 505_000, Status: whisper.ScheduleActive, JobHandle: "lost-1",
	}))
	require.NoError(t, db.InsertSchedule(ctx, database, &whisper.Schedule{
		ID: "overdue", UserID: "u1", WhisperID: "w2", ScheduledAt: 100_000, Status: whisper.ScheduleActive, JobHandle: "lost-2",
	}))
	require.NoError(t, db.InsertSchedule(ctx, database, &whisper.Schedule{
		ID: "running", UserID: "u1", WhisperID: "w3", ScheduledAt: 100_000, Status: whisper.ScheduleProcessing,
	}))

	fj := &fakeJobs{}
	s := New(database, nil, fj, &recordingRunner{}, time.Second, nil)
	s.now = func() time.Time { return now }

	res, err := s.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rearmed)
	assert.Equal(t, 1, res.Interrupted)

	future, err := db.GetSchedule(ctx, database, "future")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, fj.armed[future.JobHandle])
	assert.Equal(t, int64(505_000), future.ScheduledAt)

	overdue, err := db.GetSchedule(ctx, database, "overdue")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), fj.armed[overdue.JobHandle])

	running, err := db.GetSchedule(ctx, database, "running")
	require.NoError(t, err)
	assert.Equal(t, whisper.ScheduleFailed, running.Status)
	assert.Equal(t, "interrupted", running.Error)
}

func TestRecover_FiresWithRealQueue(t *testing.T) {
	ctx := context.Background()
	database := setupDB(t)
	insertWhisper(t, database, "w1", 1)
	require.NoError(t, db.InsertSchedule(ctx, database, &whisper.Schedule{
		ID: "overdue", UserID: "u1", WhisperID: "w1", ScheduledAt: 1, Status: whisper.ScheduleActive,
	}))

	queue := jobs.New(1)
	defer queue.Close()
	runner := &recordingRunner{}
	s := New(database, nil, queue, runner, time.Second, nil)

	_, err := s.Recover(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(runner.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "overdue", runner.snapshot()[0].ID)
}

func TestKeyedMutex_Serializes(t *testing.T) {
	var k keyedMutex
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		overlap bool
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("same")
			mu.Lock()
			inside++
			if inside > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.False(t, overlap)
	assert.Zero(t, k.size())
}
