package ops

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phantompen/pen/internal/cascade"
	"github.com/phantompen/pen/internal/config"
	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/events"
	"github.com/phantompen/pen/internal/whisper"
)

const (
	alice = "user_alice"
	bob   = "user_bob"
)

// fakeScheduler records reschedule calls and hands back synthetic schedules.
type fakeScheduler struct {
	mu        sync.Mutex
	calls     []string
	cancelled []string
	err       error
}

func (f *fakeScheduler) Cancel(ctx context.Context, whisperID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, whisperID)
	return true, nil
}

func (f *fakeScheduler) cancels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func (f *fakeScheduler) Reschedule(ctx context.Context, whisperID string) (*whisper.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, whisperID)
	return &whisper.Schedule{ID: "sched", WhisperID: whisperID, Status: whisper.ScheduleActive}, nil
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
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

type testEnv struct {
	*Env
	sched *fakeScheduler
	rec   *recorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	triggers := db.NewTriggers()
	cascade.Register(triggers, nil, nil)

	clock := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	te := &testEnv{sched: &fakeScheduler{}, rec: &recorder{}}
	te.Env = &Env{
		DB:        database,
		Cfg:       config.DefaultConfig(),
		Triggers:  triggers,
		Scheduler: te.sched,
		Events:    te.rec,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	}
	return te
}

func mustCreate(t *testing.T, env *Env, caller, transcript string) *whisper.Whisper {
	t.Helper()
	out, err := CreateWhisper(context.Background(), env, CreateWhisperInput{
		Caller:     caller,
		Title:      "Note",
		Transcript: transcript,
	})
	require.NoError(t, err)
	return out.Whisper
}

func mustUser(t *testing.T, env *Env, id string) *whisper.User {
	t.Helper()
	u, err := UpsertUser(context.Background(), env, UpsertUserInput{Caller: id, Email: id + "@example.com"})
	require.NoError(t, err)
	return u
}

func addMemoir(t *testing.T, env *Env, w *whisper.Whisper, title string) {
	t.Helper()
	now := env.now().UnixMilli()
	require.NoError(t, db.InsertMemoir(context.Background(), env.DB, &whisper.Memoir{
		ID:          w.ID + "-" + title,
		UserID:      w.UserID,
		WhisperID:   w.ID,
		Date:        "14 Mar 2026",
		Title:       title,
		Content:     "Entry about " + title,
		Public:      w.Public,
		GeneratedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
}

func requireCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	require.True(t, errors.Is(err, code), "expected %s, got %v", code, err)
}
