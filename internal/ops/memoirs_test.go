package ops

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/jobs"
	"github.com/phantompen/pen/internal/llm"
	"github.com/phantompen/pen/internal/memoir"
	"github.com/phantompen/pen/internal/scheduler"
	"github.com/phantompen/pen/internal/whisper"
)

func withWorker(env *testEnv) *memoir.Worker {
	w := memoir.NewWorker(env.DB, env.Triggers, llm.NewLocal(), env.rec, memoir.Options{GenerationTimeout: 5 * time.Second}, nil)
	env.Worker = w
	return w
}

func TestListMemoirs(t *testing.T) {
	env := newTestEnv(t)
	w := mustCreate(t, env.Env, alice, "text")
	addMemoir(t, env.Env, w, "one")
	addMemoir(t, env.Env, w, "two")

	out, err := ListMemoirs(context.Background(), env.Env, alice, 0)
	require.NoError(t, err)
	require.Len(t, out.Items, 2)
	assert.Equal(t, "two", out.Items[0].Title, "newest first")

	out, err = ListMemoirs(context.Background(), env.Env, bob, 0)
	require.NoError(t, err)
	assert.Empty(t, out.Items)

	_, err = ListMemoirs(context.Background(), env.Env, "", 0)
	requireCode(t, err, errors.ErrNotAuthenticated)
}

func TestPublicMemoirs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mustUser(t, env.Env, alice)
	shared := mustCreate(t, env.Env, alice, "shared")
	hidden := mustCreate(t, env.Env, alice, "hidden")
	private := false
	_, err := SetVisibility(ctx, env.Env, SetVisibilityInput{Caller: alice, ID: hidden.ID, Public: &private})
	require.NoError(t, err)
	hidden.Public = false
	addMemoir(t, env.Env, shared, "visible")
	addMemoir(t, env.Env, hidden, "secret")

	out, err := PublicMemoirs(ctx, env.Env, alice, 0)
	require.NoError(t, err)
	assert.False(t, out.MemoirPublic)
	assert.Empty(t, out.Items, "private memoir page shows nothing")

	_, err = SetMemoirPublic(ctx, env.Env, alice, true)
	require.NoError(t, err)

	out, err = PublicMemoirs(ctx, env.Env, alice, 0)
	require.NoError(t, err)
	assert.True(t, out.MemoirPublic)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "visible", out.Items[0].Title)

	_, err = PublicMemoirs(ctx, env.Env, "nobody", 0)
	requireCode(t, err, errors.ErrNotFound)
}

func TestRegenerateMemoirs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	withWorker(env)
	mustUser(t, env.Env, alice)
	w := mustCreate(t, env.Env, alice, "I baked bread. It burned.")
	addMemoir(t, env.Env, w, "old")

	out, err := RegenerateMemoirs(ctx, env.Env, alice, w.ID)
	require.NoError(t, err)
	assert.Equal(t, memoir.RunCompleted, out.Status)
	require.Len(t, out.Memoirs, 1)
	assert.Equal(t, "I baked bread", out.Memoirs[0].Title)

	again, err := RegenerateMemoirs(ctx, env.Env, alice, w.ID)
	require.NoError(t, err)
	require.Len(t, again.Memoirs, 1)

	stored, err := db.ListMemoirsByWhisper(ctx, env.DB, w.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1, "runs replace rather than accumulate")
	assert.Equal(t, again.Memoirs[0].ID, stored[0].ID)

	_, err = RegenerateMemoirs(ctx, env.Env, bob, w.ID)
	requireCode(t, err, errors.ErrUnauthorized)

	blank, err := CreateBlankNote(ctx, env.Env, CreateBlankNoteInput{Caller: alice})
	require.NoError(t, err)
	_, err = RegenerateMemoirs(ctx, env.Env, alice, blank.ID)
	requireCode(t, err, errors.ErrSourceNotFound)
}

func TestScheduleStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := mustCreate(t, env.Env, alice, "text")

	out, err := ScheduleStatus(ctx, env.Env, alice, w.ID)
	require.NoError(t, err)
	assert.Nil(t, out.Schedule, "fake scheduler writes no rows")

	now := env.now().UnixMilli()
	require.NoError(t, db.InsertSchedule(ctx, env.DB, &whisper.Schedule{
		ID:          "s1",
		UserID:      alice,
		WhisperID:   w.ID,
		ScheduledAt: now,
		Status:      whisper.ScheduleFailed,
		Error:       "boom",
		Revision:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))

	out, err = ScheduleStatus(ctx, env.Env, alice, w.ID)
	require.NoError(t, err)
	require.NotNil(t, out.Schedule)
	assert.Equal(t, whisper.ScheduleFailed, out.Schedule.Status)
	assert.Equal(t, "boom", out.Schedule.Error)

	_, err = ScheduleStatus(ctx, env.Env, bob, w.ID)
	requireCode(t, err, errors.ErrUnauthorized)
}

// TestEndToEnd_QuietPeriod wires the real queue, scheduler and worker: a
// burst of edits produces exactly one memoir from the final transcript.
func TestEndToEnd_QuietPeriod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.Now = nil
	worker := withWorker(env)

	queue := jobs.New(2)
	t.Cleanup(queue.Close)
	sched := scheduler.New(env.DB, env.Triggers, queue, worker, 150*time.Millisecond, nil)
	env.Scheduler = sched
	mustUser(t, env.Env, alice)

	w := mustCreate(t, env.Env, alice, "I went to the zoo.")
	_, err := UpdateTranscript(ctx, env.Env, UpdateTranscriptInput{Caller: alice, ID: w.ID, Transcript: "I went to the museum."})
	require.NoError(t, err)
	_, err = UpdateTranscript(ctx, env.Env, UpdateTranscriptInput{
		Caller:     alice,
		ID:         w.ID,
		Transcript: "I went to the park and played with my dog. I had a lot of fun.",
	})
	require.NoError(t, err)

	active, err := db.ListSchedulesByWhisper(ctx, env.DB, w.ID)
	require.NoError(t, err)
	require.Len(t, active, 1, "one schedule per whisper")
	assert.Equal(t, whisper.ScheduleActive, active[0].Status)

	require.Eventually(t, func() bool {
		got, err := db.ListMemoirsByWhisper(ctx, env.DB, w.ID)
		return err == nil && len(got) == 1
	}, 3*time.Second, 20*time.Millisecond)

	// let any superseded job that slipped through finish
	time.Sleep(300 * time.Millisecond)

	memoirs, err := db.ListMemoirsByWhisper(ctx, env.DB, w.ID)
	require.NoError(t, err)
	require.Len(t, memoirs, 1)
	m := memoirs[0]
	assert.NotEmpty(t, m.Title)
	assert.Regexp(t, regexp.MustCompile(`^\d{2} [A-Z][a-z]{2} \d{4}$`), m.Date)
	assert.Contains(t, m.Content, "park")
	assert.Contains(t, m.Content, "dog")
	assert.NotContains(t, m.Content, "zoo")

	left, err := db.ListSchedulesByWhisper(ctx, env.DB, w.ID)
	require.NoError(t, err)
	assert.Empty(t, left, "successful run deletes its schedule")
}
