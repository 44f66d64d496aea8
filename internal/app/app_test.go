package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phantompen/pen/internal/config"
	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/events"
	"github.com/phantompen/pen/internal/ops"
	"github.com/phantompen/pen/internal/whisper"
)

func openTestApp(t *testing.T, cfgJSON string) *App {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(cfgJSON), 0600))
	a, err := Open(dir, Options{LogOutput: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpen_LocalPipeline(t *testing.T) {
	a := openTestApp(t, `{"memoir_delay": "50ms", "llm": {"provider": "local"}}`)
	assert.Equal(t, config.ProviderLocal, a.Cfg.LLM.Provider)
	ctx := context.Background()

	stream, cancel := a.Hub.Subscribe("user_1")
	defer cancel()

	_, err := ops.UpsertUser(ctx, a.Env, ops.UpsertUserInput{Caller: "user_1", FirstName: "Ada"})
	require.NoError(t, err)
	out, err := ops.CreateWhisper(ctx, a.Env, ops.CreateWhisperInput{
		Caller:     "user_1",
		Transcript: "I went to the park and played with my dog. I had a lot of fun.",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Schedule)

	seen := map[string]bool{}
	deadline := time.After(3 * time.Second)
	for !seen[events.MemoirGenerated] {
		select {
		case ev := <-stream:
			seen[ev.Type] = true
		case <-deadline:
			t.Fatalf("no memoir.generated event, saw %v", seen)
		}
	}
	assert.True(t, seen[events.WhisperCreated])

	memoirs, err := db.ListMemoirsByWhisper(ctx, a.DB, out.Whisper.ID)
	require.NoError(t, err)
	require.Len(t, memoirs, 1)
	assert.Equal(t, "I went to the park and played", memoirs[0].Title)
}

func TestRecover_RearmsAfterRestart(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"memoir_delay": "1h", "llm": {"provider": "local"}}`), 0600))
	ctx := context.Background()

	first, err := Open(dir, Options{LogOutput: io.Discard})
	require.NoError(t, err)
	_, err = ops.UpsertUser(ctx, first.Env, ops.UpsertUserInput{Caller: "user_1"})
	require.NoError(t, err)
	out, err := ops.CreateWhisper(ctx, first.Env, ops.CreateWhisperInput{Caller: "user_1", Transcript: "A quiet evening."})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(dir, Options{LogOutput: io.Discard})
	require.NoError(t, err)
	defer second.Close()

	res, err := second.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rearmed)
	assert.Equal(t, 1, second.Queue.Pending())

	s, err := db.GetActiveSchedule(ctx, second.DB, out.Whisper.ID)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, whisper.ScheduleActive, s.Status)
	assert.NotEqual(t, out.Schedule.JobHandle, s.JobHandle)
}
