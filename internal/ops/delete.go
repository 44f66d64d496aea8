package ops

import (
	"context"

	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/events"
)

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// DeleteWhisper removes a whisper. The cascade removes its memoirs, uploads
// and schedules and cancels pending generation.
func DeleteWhisper(ctx context.Context, env *Env, caller, id string) (*DeleteOutput, error) {
	var owner string
	err := db.RunInTx(ctx, env.DB, env.Triggers, func(tx *db.Tx) error {
		w, err := loadOwned(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		owner = w.UserID
		return db.DeleteWhisper(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}
	env.publish(events.Event{Type: events.WhisperDeleted, UserID: owner, WhisperID: id})
	return &DeleteOutput{Deleted: true, ID: id}, nil
}
