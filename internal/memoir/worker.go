// Package memoir runs memoir synthesis: one run turns a whisper's transcript
// into a fresh set of memoir entries that replaces the previous set.
package memoir

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/events"
	"github.com/phantompen/pen/internal/llm"
	"github.com/phantompen/pen/internal/logging"
	"github.com/phantompen/pen/internal/whisper"
)

// RunStatus is the outcome of a run that did not fail.
type RunStatus string

const (
	// RunCompleted means the memoir set was replaced.
	RunCompleted RunStatus = "completed"
	// RunSkipped means the schedule was superseded or already claimed.
	RunSkipped RunStatus = "skipped"
	// RunStale means the whisper changed during generation and the result
	// was discarded.
	RunStale RunStatus = "stale"
)

// RunInput identifies the work. ScheduleID is empty for manual runs.
type RunInput struct {
	ScheduleID string
	UserID     string
	WhisperID  string
}

// RunOutput is the result of a run.
type RunOutput struct {
	Status     RunStatus        `json:"status"`
	ScheduleID string           `json:"schedule_id,omitempty"`
	Memoirs    []whisper.Memoir `json:"memoirs,omitempty"`
}

// Options tunes a Worker.
type Options struct {
	GenerationTimeout  time.Duration
	MaxTranscriptChars int
}

// Worker executes synthesis runs.
type Worker struct {
	db       *sql.DB
	triggers *db.Triggers
	gen      llm.Generator
	events   events.Publisher
	opts     Options
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewWorker builds a worker. pub may be nil.
func NewWorker(database *sql.DB, triggers *db.Triggers, gen llm.Generator, pub events.Publisher, opts Options, log logrus.FieldLogger) *Worker {
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 60 * time.Second
	}
	return &Worker{
		db:       database,
		triggers: triggers,
		gen:      gen,
		events:   pub,
		opts:     opts,
		now:      time.Now,
		log:      logging.OrDiscard(log),
	}
}

// RunScheduled runs a fired schedule and logs the outcome.
func (w *Worker) RunScheduled(ctx context.Context, s whisper.Schedule) {
	out, err := w.Run(ctx, RunInput{ScheduleID: s.ID, UserID: s.UserID, WhisperID: s.WhisperID})
	entry := w.log.WithFields(logrus.Fields{
		logging.FieldScheduleID: s.ID,
		logging.FieldWhisperID:  s.WhisperID,
		logging.FieldUserID:     s.UserID,
	})
	if err != nil {
		entry.WithError(err).Warn("memoir generation failed")
		return
	}
	entry.WithFields(logrus.Fields{
		"status":  out.Status,
		"memoirs": len(out.Memoirs),
	}).Info("memoir generation finished")
}

// Run executes one synthesis run. Errors are *errors.PenError; a failed run
// leaves its schedule in the failed state and the previous memoirs intact.
func (w *Worker) Run(ctx context.Context, in RunInput) (*RunOutput, error) {
	sched, claimed, err := w.claim(ctx, in)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &RunOutput{Status: RunSkipped, ScheduleID: in.ScheduleID}, nil
	}

	out, err := w.run(ctx, in, sched)
	if err != nil {
		w.fail(ctx, in, sched, err)
		return nil, err
	}
	return out, nil
}

// claim resolves and locks the schedule for this run. A nil schedule with
// claimed=true is a manual run with nothing pending.
func (w *Worker) claim(ctx context.Context, in RunInput) (*whisper.Schedule, bool, error) {
	var sched *whisper.Schedule
	if in.ScheduleID != "" {
		s, err := db.GetSchedule(ctx, w.db, in.ScheduleID)
		if errors.Is(err, errors.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		if s.Status != whisper.ScheduleActive {
			return nil, false, nil
		}
		sched = s
	} else {
		s, err := db.GetActiveSchedule(ctx, w.db, in.WhisperID)
		if err != nil {
			return nil, false, err
		}
		sched = s
	}

	if sched == nil {
		return nil, true, nil
	}
	ok, err := db.TransitionSchedule(ctx, w.db, sched.ID, whisper.ScheduleActive, whisper.ScheduleProcessing, "", w.now().UnixMilli())
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	sched.Status = whisper.ScheduleProcessing
	return sched, true, nil
}

func (w *Worker) run(ctx context.Context, in RunInput, sched *whisper.Schedule) (*RunOutput, error) {
	source, err := db.GetWhisper(ctx, w.db, in.WhisperID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.NewSourceNotFound(in.WhisperID, "whisper not found")
	}
	if err != nil {
		return nil, err
	}
	if whisper.IsBlank(source.Transcript) {
		return nil, errors.NewSourceNotFound(in.WhisperID, "transcript is empty")
	}

	owner, err := db.GetUser(ctx, w.db, source.UserID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.NewProfileNotFound(source.UserID)
	}
	if err != nil {
		return nil, err
	}

	revision := source.Revision
	if sched != nil {
		revision = sched.Revision
	}

	transcript := source.Transcript
	if w.opts.MaxTranscriptChars > 0 {
		transcript = whisper.Truncate(transcript, w.opts.MaxTranscriptChars)
	}

	genCtx, cancel := context.WithTimeout(ctx, w.opts.GenerationTimeout)
	entries, err := w.gen.Generate(genCtx, transcript, owner.Style)
	cancel()
	if err != nil {
		return nil, errors.NewUpstreamGeneration(err)
	}
	if len(entries) == 0 {
		return nil, errors.NewUpstreamGeneration(stderrors.New("generator returned no entries"))
	}

	return w.commit(ctx, in, sched, revision, entries)
}

// commit replaces the memoir set if the whisper is still at revision.
func (w *Worker) commit(ctx context.Context, in RunInput, sched *whisper.Schedule, revision int64, entries []llm.Entry) (*RunOutput, error) {
	out := &RunOutput{}
	if sched != nil {
		out.ScheduleID = sched.ID
	}
	now := w.now().UnixMilli()

	err := db.RunInTx(ctx, w.db, w.triggers, func(tx *db.Tx) error {
		fresh, err := db.GetWhisper(ctx, tx, in.WhisperID)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			return err
		}
		if fresh == nil || fresh.Revision != revision {
			out.Status = RunStale
			if sched != nil {
				return db.DeleteSchedule(ctx, tx, sched.ID)
			}
			return nil
		}

		previous, err := db.ListMemoirsByWhisper(ctx, tx, fresh.ID)
		if err != nil {
			return err
		}

		created := make([]whisper.Memoir, 0, len(entries))
		for _, e := range entries {
			m := whisper.Memoir{
				ID:          ulid.Make().String(),
				UserID:      fresh.UserID,
				WhisperID:   fresh.ID,
				Date:        e.Date,
				Title:       e.Title,
				Content:     e.Content,
				Public:      fresh.Public,
				GeneratedAt: now,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := db.InsertMemoir(ctx, tx, &m); err != nil {
				return err
			}
			created = append(created, m)
		}

		ids := make([]string, 0, len(previous))
		for _, p := range previous {
			ids = append(ids, p.ID)
		}
		if _, err := db.DeleteMemoirsByIDs(ctx, tx, ids); err != nil {
			return err
		}
		if sched != nil {
			if err := db.DeleteSchedule(ctx, tx, sched.ID); err != nil {
				return err
			}
		}

		out.Status = RunCompleted
		out.Memoirs = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Status == RunCompleted {
		w.publish(events.Event{
			Type:      events.MemoirGenerated,
			UserID:    out.Memoirs[0].UserID,
			WhisperID: in.WhisperID,
			Data:      map[string]any{"memoirs": len(out.Memoirs)},
		})
	}
	return out, nil
}

// fail records err on the schedule. It runs detached from ctx so the state
// is written even when the run was cancelled or timed out.
func (w *Worker) fail(ctx context.Context, in RunInput, sched *whisper.Schedule, err error) {
	msg := err.Error()
	if pe, ok := errors.As(err); ok {
		msg = pe.Message
	}

	if sched != nil {
		bg := context.WithoutCancel(ctx)
		if _, markErr := db.MarkScheduleFailed(bg, w.db, sched.ID, msg, w.now().UnixMilli()); markErr != nil {
			w.log.WithError(markErr).WithField(logging.FieldScheduleID, sched.ID).Error("failed to record schedule failure")
		}
	}

	userID := in.UserID
	if sched != nil {
		userID = sched.UserID
	}
	w.publish(events.Event{
		Type:      events.MemoirFailed,
		UserID:    userID,
		WhisperID: in.WhisperID,
		Data:      map[string]any{"error": msg},
	})
}

func (w *Worker) publish(e events.Event) {
	if w.events != nil {
		w.events.Publish(e)
	}
}
