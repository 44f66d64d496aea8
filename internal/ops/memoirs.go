package ops

import (
	"context"
	"fmt"

	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/memoir"
	"github.com/phantompen/pen/internal/whisper"
)

// MemoirsOutput is a list of memoir entries.
type MemoirsOutput struct {
	Items []whisper.Memoir `json:"items"`
}

// ListMemoirs returns the caller's memoir entries, newest first.
func ListMemoirs(ctx context.Context, env *Env, caller string, limit int) (*MemoirsOutput, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	items, err := db.ListMemoirsByUser(ctx, env.DB, caller, false, clampLimit(limit, DefaultMemoirLimit, MaxMemoirLimit))
	if err != nil {
		return nil, err
	}
	return &MemoirsOutput{Items: items}, nil
}

// PublicMemoirOutput is the anonymous view of a user's memoir.
type PublicMemoirOutput struct {
	UserID       string           `json:"user_id"`
	DisplayName  string           `json:"display_name"`
	MemoirPublic bool             `json:"memoir_public"`
	Items        []whisper.Memoir `json:"items"`
}

// PublicMemoirs returns the public memoir entries of userID. A user whose
// memoir is private yields no entries.
func PublicMemoirs(ctx context.Context, env *Env, userID string, limit int) (*PublicMemoirOutput, error) {
	if userID == "" {
		return nil, errors.NewInvalidRequest("user id is required")
	}
	u, err := db.GetUser(ctx, env.DB, userID)
	if err != nil {
		return nil, err
	}

	out := &PublicMemoirOutput{
		UserID:       u.ID,
		DisplayName:  u.DisplayName(),
		MemoirPublic: u.MemoirPublic,
		Items:        []whisper.Memoir{},
	}
	if !u.MemoirPublic {
		return out, nil
	}
	out.Items, err = db.ListMemoirsByUser(ctx, env.DB, userID, true, clampLimit(limit, DefaultMemoirLimit, MaxMemoirLimit))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegenerateMemoirs synchronously rebuilds a whisper's memoir set.
func RegenerateMemoirs(ctx context.Context, env *Env, caller, whisperID string) (*memoir.RunOutput, error) {
	w, err := loadOwned(ctx, env.DB, caller, whisperID)
	if err != nil {
		return nil, err
	}
	if env.Worker == nil {
		return nil, errors.NewInternal(fmt.Errorf("memoir worker is not configured"))
	}
	return env.Worker.Run(ctx, memoir.RunInput{UserID: w.UserID, WhisperID: w.ID})
}

// ScheduleStatusOutput reports the latest generation schedule of a whisper.
// Schedule is nil when nothing is pending or failed.
type ScheduleStatusOutput struct {
	WhisperID string            `json:"whisper_id"`
	Schedule  *whisper.Schedule `json:"schedule"`
}

// ScheduleStatus returns the generation state of one of the caller's whispers.
func ScheduleStatus(ctx context.Context, env *Env, caller, whisperID string) (*ScheduleStatusOutput, error) {
	w, err := loadOwned(ctx, env.DB, caller, whisperID)
	if err != nil {
		return nil, err
	}
	s, err := db.GetLatestSchedule(ctx, env.DB, w.ID)
	if err != nil {
		return nil, err
	}
	return &ScheduleStatusOutput{WhisperID: w.ID, Schedule: s}, nil
}
