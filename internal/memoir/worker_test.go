package memoir

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/events"
	"github.com/phantompen/pen/internal/llm"
	"github.com/phantompen/pen/internal/whisper"
)

type genFunc func(ctx context.Context, transcript string, style whisper.StyleProfile) ([]llm.Entry, error)

func (f genFunc) Generate(ctx context.Context, transcript string, style whisper.StyleProfile) ([]llm.Entry, error) {
	return f(ctx, transcript, style)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func twoEntries(ctx context.Context, transcript string, style whisper.StyleProfile) ([]llm.Entry, error) {
	return []llm.Entry{
		{Date: "19 May 1956", Title: "The fair", Content: "It rained all day."},
		{Date: "20 May 1956", Title: "After", Content: "We dried off."},
	}, nil
}

type fixture struct {
	db  *sql.DB
	rec *recorder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.RunInTx(ctx, database, nil, func(tx *db.Tx) error {
		if err := db.SaveUser(ctx, tx, &whisper.User{
			ID: "u1", Style: whisper.StyleProfile{VoiceStyle: whisper.VoiceSceneFocused}, CreatedAt: 1, UpdatedAt: 1,
		}); err != nil {
			return err
		}
		return db.InsertWhisper(ctx, tx, &whisper.Whisper{
			ID: "w1", UserID: "u1", Title: "Fair", Transcript: "went to the fair, it rained",
			Public: false, Revision: 2, CreatedAt: 1, UpdatedAt: 1,
		})
	}))
	require.NoError(t, db.InsertMemoir(ctx, database, &whisper.Memoir{
		ID: "old", UserID: "u1", WhisperID: "w1", Date: "01 Jan 2000", Title: "Old", Content: "old text",
	}))
	require.NoError(t, db.InsertSchedule(ctx, database, &whisper.Schedule{
		ID: "s1", UserID: "u1", WhisperID: "w1", ScheduledAt: 1, Status: whisper.ScheduleActive, Revision: 2,
	}))
	return &fixture{db: database, rec: &recorder{}}
}

func (f *fixture) worker(gen llm.Generator, opts Options) *Worker {
	return NewWorker(f.db, nil, gen, f.rec, opts, nil)
}

func scheduled() RunInput {
	return RunInput{ScheduleID: "s1", UserID: "u1", WhisperID: "w1"}
}

func TestRun_ReplacesMemoirSet(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	var sawStyle whisper.StyleProfile
	w := f.worker(genFunc(func(ctx context.Context, transcript string, style whisper.StyleProfile) ([]llm.Entry, error) {
		sawStyle = style
		return twoEntries(ctx, transcript, style)
	}), Options{})

	out, err := w.Run(ctx, scheduled())
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, out.Status)
	require.Len(t, out.Memoirs, 2)
	assert.Equal(t, whisper.VoiceSceneFocused, sawStyle.VoiceStyle)

	memoirs, err := db.ListMemoirsByWhisper(ctx, f.db, "w1")
	require.NoError(t, err)
	require.Len(t, memoirs, 2, "old set is replaced, not appended")
	for _, m := range memoirs {
		assert.NotEqual(t, "old", m.ID)
		assert.False(t, m.Public, "visibility copied from the whisper")
		assert.Equal(t, "u1", m.UserID)
		assert.NotZero(t, m.GeneratedAt)
	}

	_, err = db.GetSchedule(ctx, f.db, "s1")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "schedule is removed on success")
	assert.Equal(t, []string{events.MemoirGenerated}, f.rec.types())
}

func TestRun_SkipsSupersededSchedules(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	calls := 0
	w := f.worker(genFunc(func(ctx context.Context, transcript string, style whisper.StyleProfile) ([]llm.Entry, error) {
		calls++
		return twoEntries(ctx, transcript, style)
	}), Options{})

	out, err := w.Run(ctx, RunInput{ScheduleID: "gone", UserID: "u1", WhisperID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, RunSkipped, out.Status)

	ok, err := db.TransitionSchedule(ctx, f.db, "s1", whisper.ScheduleActive, whisper.ScheduleProcessing, "", 5)
	require.NoError(t, err)
	require.True(t, ok)

	out, err = w.Run(ctx, scheduled())
	require.NoError(t, err)
	assert.Equal(t, RunSkipped, out.Status, "a schedule already being processed is not run twice")
	assert.Zero(t, calls)
}

func TestRun_ManualUsesPendingSchedule(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	w := f.worker(genFunc(twoEntries), Options{})

	out, err := w.Run(ctx, RunInput{UserID: "u1", WhisperID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, out.Status)
	assert.Equal(t, "s1", out.ScheduleID)

	// Nothing pending now; a manual run still works.
	out, err = w.Run(ctx, RunInput{UserID: "u1", WhisperID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, out.Status)
	assert.Empty(t, out.ScheduleID)
}

func TestRun_SourceAndProfileErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("blank transcript", func(t *testing.T) {
		f := setup(t)
		_, err := f.db.Exec(`UPDATE whispers SET transcript = '  ' WHERE id = 'w1'`)
		require.NoError(t, err)

		_, err = f.worker(genFunc(twoEntries), Options{}).Run(ctx, scheduled())
		require.True(t, errors.Is(err, errors.ErrSourceNotFound), "got %v", err)

		s, err := db.GetSchedule(ctx, f.db, "s1")
		require.NoError(t, err)
		assert.Equal(t, whisper.ScheduleFailed, s.Status)
		assert.Contains(t, s.Error, "transcript is empty")
	})

	t.Run("missing whisper", func(t *testing.T) {
		f := setup(t)
		_, err := f.db.Exec(`DELETE FROM whispers WHERE id = 'w1'`)
		require.NoError(t, err)

		_, err = f.worker(genFunc(twoEntries), Options{}).Run(ctx, scheduled())
		require.True(t, errors.Is(err, errors.ErrSourceNotFound))
	})

	t.Run("missing owner", func(t *testing.T) {
		f := setup(t)
		_, err := f.db.Exec(`DELETE FROM users WHERE id = 'u1'`)
		require.NoError(t, err)

		_, err = f.worker(genFunc(twoEntries), Options{}).Run(ctx, scheduled())
		require.True(t, errors.Is(err, errors.ErrProfileNotFound))
		assert.Equal(t, []string{events.MemoirFailed}, f.rec.types())
	})
}

func TestRun_GeneratorFailureKeepsPreviousSet(t *testing.T) {
	ctx := context.Background()

	cases := map[string]genFunc{
		"error": func(ctx context.Context, transcript string, style whisper.StyleProfile) ([]llm.Entry, error) {
			return nil, stderrors.New("model overloaded")
		},
		"no entries": func(ctx context.Context, transcript string, style whisper.StyleProfile) ([]llm.Entry, error) {
			return nil, nil
		},
	}
	for name, gen := range cases {
		t.Run(name, func(t *testing.T) {
			f := setup(t)
			_, err := f.worker(gen, Options{}).Run(ctx, scheduled())
			require.True(t, errors.Is(err, errors.ErrUpstreamGeneration), "got %v", err)

			memoirs, err := db.ListMemoirsByWhisper(ctx, f.db, "w1")
			require.NoError(t, err)
			require.Len(t, memoirs, 1)
			assert.Equal(t, "old", memoirs[0].ID)

			s, err := db.GetSchedule(ctx, f.db, "s1")
			require.NoError(t, err)
			assert.Equal(t, whisper.ScheduleFailed, s.Status)
			assert.NotEmpty(t, s.Error)
		})
	}
}

func TestRun_TimeoutRecordsFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	slow := genFunc(func(ctx context.Context, transcript string, style whisper.StyleProfile) ([]llm.Entry, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_, err := f.worker(slow, Options{GenerationTimeout: 20 * time.Millisecond}).Run(ctx, scheduled())
	require.True(t, errors.Is(err, errors.ErrUpstreamGeneration))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	s, err := db.GetSchedule(ctx, f.db, "s1")
	require.NoError(t, err)
	assert.Equal(t, whisper.ScheduleFailed, s.Status)
}

func TestRun_CancelledRunStillRecordsFailure(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	gen := genFunc(func(genCtx context.Context, transcript string, style whisper.StyleProfile) ([]llm.Entry, error) {
		cancel()
		return nil, genCtx.Err()
	})
	_, err := f.worker(gen, Options{}).Run(ctx, scheduled())
	require.Error(t, err)

	s, err := db.GetSchedule(context.Background(), f.db, "s1")
	require.NoError(t, err)
	assert.Equal(t, whisper.ScheduleFailed, s.Status)
}

func TestRun_StaleResultDiscarded(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	gen := genFunc(func(genCtx context.Context, transcript string, style whisper.StyleProfile) ([]llm.Entry, error) {
		// The owner edits the transcript while generation is in flight.
		_, err := f.db.Exec(`UPDATE whispers SET transcript = 'new words', revision = revision + 1 WHERE id = 'w1'`)
		require.NoError(t, err)
		return twoEntries(genCtx, transcript, style)
	})
	out, err := f.worker(gen, Options{}).Run(ctx, scheduled())
	require.NoError(t, err)
	assert.Equal(t, RunStale, out.Status)
	assert.Empty(t, out.Memoirs)

	memoirs, err := db.ListMemoirsByWhisper(ctx, f.db, "w1")
	require.NoError(t, err)
	require.Len(t, memoirs, 1)
	assert.Equal(t, "old", memoirs[0].ID)
	assert.Empty(t, f.rec.types())
}

func TestRun_WhisperDeletedDuringGeneration(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	gen := genFunc(func(genCtx context.Context, transcript string, style whisper.StyleProfile) ([]llm.Entry, error) {
		_, err := f.db.Exec(`DELETE FROM whispers WHERE id = 'w1'`)
		require.NoError(t, err)
		return twoEntries(genCtx, transcript, style)
	})
	out, err := f.worker(gen, Options{}).Run(ctx, scheduled())
	require.NoError(t, err)
	assert.Equal(t, RunStale, out.Status)

	memoirs, err := db.ListMemoirsByUser(ctx, f.db, "u1", false, 0)
	require.NoError(t, err)
	for _, m := range memoirs {
		assert.Equal(t, "old", m.ID, "no entries are written for a deleted whisper")
	}
}

func TestRun_TruncatesTranscript(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, err := f.db.Exec(`UPDATE whispers SET transcript = ? WHERE id = 'w1'`, strings.Repeat("é", 50))
	require.NoError(t, err)

	var seen string
	gen := genFunc(func(ctx context.Context, transcript string, style whisper.StyleProfile) ([]llm.Entry, error) {
		seen = transcript
		return twoEntries(ctx, transcript, style)
	})
	_, err = f.worker(gen, Options{MaxTranscriptChars: 10}).Run(ctx, scheduled())
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 10), seen)
}

func TestRunScheduled(t *testing.T) {
	f := setup(t)
	w := f.worker(genFunc(twoEntries), Options{})

	w.RunScheduled(context.Background(), whisper.Schedule{ID: "s1", UserID: "u1", WhisperID: "w1"})

	memoirs, err := db.ListMemoirsByWhisper(context.Background(), f.db, "w1")
	require.NoError(t, err)
	assert.Len(t, memoirs, 2)
}
