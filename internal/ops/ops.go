// Package ops implements the user-facing operations, one per file. Every
// operation takes the caller's subject; an empty caller is unauthenticated.
package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/phantompen/pen/internal/config"
	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/events"
	"github.com/phantompen/pen/internal/llm"
	"github.com/phantompen/pen/internal/logging"
	"github.com/phantompen/pen/internal/memoir"
	"github.com/phantompen/pen/internal/storage"
	"github.com/phantompen/pen/internal/whisper"
)

// Pagination limits
const (
	DefaultListLimit   = 20
	MaxListLimit       = 100
	DefaultMemoirLimit = 100
	MaxMemoirLimit     = 500
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Rescheduler arms and cancels debounced memoir generation.
// *scheduler.Scheduler implements it.
type Rescheduler interface {
	Reschedule(ctx context.Context, whisperID string) (*whisper.Schedule, error)
	Cancel(ctx context.Context, whisperID string) (bool, error)
}

// Runner runs memoir synthesis synchronously. *memoir.Worker implements it.
type Runner interface {
	Run(ctx context.Context, in memoir.RunInput) (*memoir.RunOutput, error)
}

// Env carries the collaborators operations need. Scheduler, Worker, Blobs,
// Transcriber, Titler and Events may be nil where an operation does not use
// them.
type Env struct {
	DB          *sql.DB
	Cfg         *config.Config
	Triggers    *db.Triggers
	Scheduler   Rescheduler
	Worker      Runner
	Blobs       *storage.Store
	Transcriber llm.Transcriber
	Titler      llm.Titler
	Events      events.Publisher
	Log         logrus.FieldLogger

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) log() logrus.FieldLogger {
	return logging.OrDiscard(e.Log)
}

func (e *Env) cfg() *config.Config {
	if e.Cfg == nil {
		return config.DefaultConfig()
	}
	return e.Cfg
}

func (e *Env) publish(ev events.Event) {
	if e.Events != nil {
		e.Events.Publish(ev)
	}
}

// reschedule arms generation for w, or cancels the pending run when the
// transcript is blank. Scheduling failures are logged and reported as a nil
// schedule; the triggering write already committed.
func (e *Env) reschedule(ctx context.Context, w *whisper.Whisper) *whisper.Schedule {
	if e.Scheduler == nil {
		return nil
	}
	log := e.log().WithFields(logrus.Fields{
		logging.FieldWhisperID: w.ID,
		logging.FieldUserID:    w.UserID,
	})
	if whisper.IsBlank(w.Transcript) {
		if _, err := e.Scheduler.Cancel(ctx, w.ID); err != nil {
			log.WithError(err).Warn("failed to cancel memoir generation")
		}
		return nil
	}
	s, err := e.Scheduler.Reschedule(ctx, w.ID)
	if err != nil {
		log.WithError(err).Warn("failed to schedule memoir generation")
		return nil
	}
	return s
}

func requireCaller(caller string) error {
	if caller == "" {
		return errors.NewNotAuthenticated()
	}
	return nil
}

// loadOwned fetches a whisper the caller must own.
func loadOwned(ctx context.Context, q db.Querier, caller, id string) (*whisper.Whisper, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errors.NewInvalidRequest("whisper id is required")
	}
	w, err := db.GetWhisper(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if w.UserID != caller {
		return nil, errors.NewUnauthorized("whisper")
	}
	return w, nil
}

// mutateOwned loads the caller's whisper inside a transaction, applies fn
// and writes the result. fn returning false means nothing changed.
func mutateOwned(ctx context.Context, env *Env, caller, id string, fn func(w *whisper.Whisper) (bool, error)) (*whisper.Whisper, bool, error) {
	var (
		out     *whisper.Whisper
		changed bool
	)
	err := db.RunInTx(ctx, env.DB, env.Triggers, func(tx *db.Tx) error {
		w, err := loadOwned(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		changed, err = fn(w)
		if err != nil {
			return err
		}
		if changed {
			w.UpdatedAt = whisper.NextUpdatedAt(w.UpdatedAt, env.now().UnixMilli())
			if err := db.UpdateWhisper(ctx, tx, w); err != nil {
				return err
			}
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		env.publish(events.Event{Type: events.WhisperUpdated, UserID: out.UserID, WhisperID: out.ID})
	}
	return out, changed, nil
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// WhisperSummary is the list view of a whisper.
type WhisperSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Preview      string `json:"preview"`
	Public       bool   `json:"public"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
	UpdatedHuman string `json:"updated_human"`
}

func summarize(w whisper.Whisper, now time.Time) WhisperSummary {
	return WhisperSummary{
		ID:           w.ID,
		Title:        w.Title,
		Preview:      whisper.Preview(w.Transcript),
		Public:       w.Public,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
		UpdatedHuman: humanize.RelTime(time.UnixMilli(w.UpdatedAt), now, "ago", "from now"),
	}
}

func summarizeAll(items []whisper.Whisper, now time.Time) []WhisperSummary {
	out := make([]WhisperSummary, 0, len(items))
	for _, w := range items {
		out = append(out, summarize(w, now))
	}
	return out
}
