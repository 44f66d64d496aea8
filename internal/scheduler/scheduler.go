// Package scheduler debounces memoir synthesis: every content edit replaces
// the whisper's pending run with a new one a quiet period later.
package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/jobs"
	"github.com/phantompen/pen/internal/logging"
	"github.com/phantompen/pen/internal/whisper"
)

// JobRunner arms and cancels delayed jobs. *jobs.Queue implements it.
type JobRunner interface {
	RunAfter(delay time.Duration, fn jobs.Func) (string, error)
	Cancel(handle string) bool
}

// Runner executes a schedule once its delay has elapsed.
type Runner interface {
	RunScheduled(ctx context.Context, s whisper.Schedule)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, s whisper.Schedule)

// RunScheduled calls f.
func (f RunnerFunc) RunScheduled(ctx context.Context, s whisper.Schedule) { f(ctx, s) }

// Scheduler owns the lifecycle of schedule rows and their delayed jobs.
type Scheduler struct {
	db       *sql.DB
	triggers *db.Triggers
	jobs     JobRunner
	runner   Runner
	delay    time.Duration
	locks    keyedMutex
	now      func() time.Time
	log      logrus.FieldLogger
}

// New creates a scheduler that runs schedules delay after their last edit.
func New(database *sql.DB, triggers *db.Triggers, jobRunner JobRunner, runner Runner, delay time.Duration, log logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		db:       database,
		triggers: triggers,
		jobs:     jobRunner,
		runner:   runner,
		delay:    delay,
		now:      time.Now,
		log:      logging.OrDiscard(log),
	}
}

// Reschedule supersedes every schedule of whisperID with a single new active
// schedule firing after the quiet period. Superseded jobs are cancelled once
// the replacement is committed.
func (s *Scheduler) Reschedule(ctx context.Context, whisperID string) (*whisper.Schedule, error) {
	unlock := s.locks.Lock(whisperID)
	defer unlock()

	now := s.now().UnixMilli()
	var (
		handle  string
		created whisper.Schedule
	)
	err := db.RunInTx(ctx, s.db, s.triggers, func(tx *db.Tx) error {
		w, err := db.GetWhisper(ctx, tx, whisperID)
		if err != nil {
			return err
		}

		existing, err := db.ListSchedulesByWhisper(ctx, tx, whisperID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			stale := make([]string, 0, len(existing))
			for _, e := range existing {
				if e.JobHandle != "" {
					stale = append(stale, e.JobHandle)
				}
			}
			tx.AfterCommit(func() {
				for _, h := range stale {
					s.jobs.Cancel(h)
				}
			})
			if _, err := db.DeleteSchedulesByWhisper(ctx, tx, whisperID); err != nil {
				return err
			}
		}

		created = whisper.Schedule{
			ID:          ulid.Make().String(),
			UserID:      w.UserID,
			WhisperID:   whisperID,
			ScheduledAt: now + s.delay.Milliseconds(),
			Status:      whisper.ScheduleActive,
			Revision:    w.Revision,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		handle, err = s.jobs.RunAfter(s.delay, s.fire(created))
		if err != nil {
			return err
		}
		created.JobHandle = handle
		return db.InsertSchedule(ctx, tx, &created)
	})
	if err != nil {
		if handle != "" {
			s.jobs.Cancel(handle)
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		logging.FieldWhisperID:  whisperID,
		logging.FieldScheduleID: created.ID,
		"revision":              created.Revision,
	}).Debug("scheduled memoir generation")
	return &created, nil
}

// Cancel drops the active schedule of whisperID, if any, and cancels its job
// once the delete commits. Failed schedules are kept for status reporting.
func (s *Scheduler) Cancel(ctx context.Context, whisperID string) (bool, error) {
	unlock := s.locks.Lock(whisperID)
	defer unlock()

	var dropped *whisper.Schedule
	err := db.RunInTx(ctx, s.db, s.triggers, func(tx *db.Tx) error {
		active, err := db.GetActiveSchedule(ctx, tx, whisperID)
		if err != nil || active == nil {
			return err
		}
		if err := db.DeleteSchedule(ctx, tx, active.ID); err != nil {
			return err
		}
		if active.JobHandle != "" {
			handle := active.JobHandle
			tx.AfterCommit(func() { s.jobs.Cancel(handle) })
		}
		dropped = active
		return nil
	})
	if err != nil || dropped == nil {
		return false, err
	}

	s.log.WithFields(logrus.Fields{
		logging.FieldWhisperID:  whisperID,
		logging.FieldScheduleID: dropped.ID,
	}).Debug("cancelled memoir generation")
	return true, nil
}

// fire builds the job body. Taking the whisper lock first orders the run
// after the Reschedule transaction that armed it.
func (s *Scheduler) fire(sched whisper.Schedule) jobs.Func {
	return func(ctx context.Context) {
		s.locks.Lock(sched.WhisperID)()
		s.runner.RunScheduled(ctx, sched)
	}
}

// RecoverResult reports what Recover did.
type RecoverResult struct {
	Rearmed     int `json:"rearmed"`
	Interrupted int `json:"interrupted"`
}

// Recover re-arms active schedules whose jobs were lost with the previous
// process and fails schedules that were mid-run when it stopped.
func (s *Scheduler) Recover(ctx context.Context) (*RecoverResult, error) {
	res := &RecoverResult{}
	now := s.now().UnixMilli()

	processing, err := db.ListSchedulesByStatus(ctx, s.db, whisper.ScheduleProcessing)
	if err != nil {
		return nil, err
	}
	for _, p := range processing {
		ok, err := db.MarkScheduleFailed(ctx, s.db, p.ID, "interrupted", now)
		if err != nil {
			return nil, err
		}
		if ok {
			res.Interrupted++
		}
	}

	active, err := db.ListSchedulesByStatus(ctx, s.db, whisper.ScheduleActive)
	if err != nil {
		return nil, err
	}
	for _, a := range active {
		if err := s.rearm(ctx, a, now); err != nil {
			return nil, err
		}
		res.Rearmed++
	}

	if res.Rearmed > 0 || res.Interrupted > 0 {
		s.log.WithFields(logrus.Fields{
			"rearmed":     res.Rearmed,
			"interrupted": res.Interrupted,
		}).Info("recovered memoir schedules")
	}
	return res, nil
}

func (s *Scheduler) rearm(ctx context.Context, sched whisper.Schedule, now int64) error {
	unlock := s.locks.Lock(sched.WhisperID)
	defer unlock()

	remaining := time.Duration(sched.ScheduledAt-now) * time.Millisecond
	if remaining < 0 {
		remaining = 0
	}
	handle, err := s.jobs.RunAfter(remaining, s.fire(sched))
	if err != nil {
		return err
	}
	if err := db.UpdateScheduleJob(ctx, s.db, sched.ID, handle, sched.ScheduledAt, now); err != nil {
		s.jobs.Cancel(handle)
		return err
	}
	return nil
}

// Status returns the most recent schedule of whisperID, or nil.
func (s *Scheduler) Status(ctx context.Context, whisperID string) (*whisper.Schedule, error) {
	return db.GetLatestSchedule(ctx, s.db, whisperID)
}

// Delay returns the configured quiet period.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}
