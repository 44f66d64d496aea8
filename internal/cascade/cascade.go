// Package cascade registers the write rules that keep memoirs, schedules and
// uploads consistent with their source whisper and owner.
package cascade

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/logging"
)

// Canceler stops a pending delayed job by handle.
type Canceler interface {
	Cancel(handle string) bool
}

// Register installs the cascade hooks on triggers. canceler may be nil, in
// which case deleted schedules are not cancelled in the job queue.
func Register(triggers *db.Triggers, canceler Canceler, log logrus.FieldLogger) {
	r := &rules{canceler: canceler, log: logging.OrDiscard(log)}
	triggers.OnWhisper(r.onWhisper)
	triggers.OnUser(r.onUser)
}

type rules struct {
	canceler Canceler
	log      logrus.FieldLogger
}

func (r *rules) onWhisper(ctx context.Context, tx *db.Tx, ch db.WhisperChange) error {
	switch ch.Op {
	case db.OpUpdate:
		if ch.Old.Public == ch.New.Public {
			return nil
		}
		n, err := db.SetMemoirVisibility(ctx, tx, ch.New.ID, ch.New.Public, ch.New.UpdatedAt)
		if err != nil {
			return err
		}
		r.log.WithFields(logrus.Fields{
			logging.FieldWhisperID: ch.New.ID,
			"public":               ch.New.Public,
			"memoirs":              n,
		}).Debug("mirrored whisper visibility onto memoirs")
		return nil

	case db.OpDelete:
		return r.deleteWhisperDependents(ctx, tx, ch.Old.ID)
	}
	return nil
}

func (r *rules) deleteWhisperDependents(ctx context.Context, tx *db.Tx, whisperID string) error {
	schedules, err := db.ListSchedulesByWhisper(ctx, tx, whisperID)
	if err != nil {
		return err
	}
	handles := make([]string, 0, len(schedules))
	for _, s := range schedules {
		if s.JobHandle != "" {
			handles = append(handles, s.JobHandle)
		}
	}
	r.cancelAfterCommit(tx, handles)

	if _, err := db.DeleteSchedulesByWhisper(ctx, tx, whisperID); err != nil {
		return err
	}
	memoirs, err := db.DeleteMemoirsByWhisper(ctx, tx, whisperID)
	if err != nil {
		return err
	}
	if _, err := db.DeleteUploadsByWhisper(ctx, tx, whisperID); err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		logging.FieldWhisperID: whisperID,
		"memoirs":              memoirs,
		"schedules":            len(schedules),
	}).Debug("cascaded whisper delete")
	return nil
}

func (r *rules) onUser(ctx context.Context, tx *db.Tx, ch db.UserChange) error {
	if ch.Op != db.OpDelete {
		return nil
	}
	userID := ch.Old.ID

	ids, err := db.ListWhisperIDsByUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		// Fires onWhisper for each, so per-whisper dependents go with it.
		if err := db.DeleteWhisper(ctx, tx, id); err != nil {
			return err
		}
	}

	// Whatever is left is orphaned from a whisper that no longer exists.
	schedules, err := db.ListSchedulesByUser(ctx, tx, userID)
	if err != nil {
		return err
	}
	handles := make([]string, 0, len(schedules))
	for _, s := range schedules {
		if s.JobHandle != "" {
			handles = append(handles, s.JobHandle)
		}
	}
	r.cancelAfterCommit(tx, handles)

	if _, err := db.DeleteSchedulesByUser(ctx, tx, userID); err != nil {
		return err
	}
	if _, err := db.DeleteUploadsByUser(ctx, tx, userID); err != nil {
		return err
	}
	if _, err := db.DeleteMemoirsByUser(ctx, tx, userID); err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		logging.FieldUserID: userID,
		"whispers":          len(ids),
	}).Info("cascaded user delete")
	return nil
}

func (r *rules) cancelAfterCommit(tx *db.Tx, handles []string) {
	if r.canceler == nil || len(handles) == 0 {
		return
	}
	tx.AfterCommit(func() {
		for _, h := range handles {
			r.canceler.Cancel(h)
		}
	})
}
