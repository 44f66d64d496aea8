package ops

import (
	"context"
	"strings"

	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/whisper"
)

// UpsertUserInput carries the profile fields supplied by the identity provider.
type UpsertUserInput struct {
	Caller         string
	Email          string
	FirstName      string
	LastName       string
	ProfilePicture string
}

// UpsertUser creates the caller's profile or refreshes its identity fields.
// Style, onboarding and memoir visibility are left untouched on refresh.
func UpsertUser(ctx context.Context, env *Env, input UpsertUserInput) (*whisper.User, error) {
	if err := requireCaller(input.Caller); err != nil {
		return nil, err
	}
	return saveUser(ctx, env, input.Caller, true, func(u *whisper.User) error {
		u.Email = strings.TrimSpace(input.Email)
		u.FirstName = strings.TrimSpace(input.FirstName)
		u.LastName = strings.TrimSpace(input.LastName)
		u.ProfilePicture = strings.TrimSpace(input.ProfilePicture)
		return nil
	})
}

// GetMe returns the caller's profile.
func GetMe(ctx context.Context, env *Env, caller string) (*whisper.User, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	u, err := db.GetUser(ctx, env.DB, caller)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewProfileNotFound(caller)
		}
		return nil, err
	}
	return u, nil
}

// UpdateStyle merges non-empty fields of style into the caller's profile.
func UpdateStyle(ctx context.Context, env *Env, caller string, style whisper.StyleProfile) (*whisper.User, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := style.Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return saveUser(ctx, env, caller, false, func(u *whisper.User) error {
		u.Style = u.Style.Merge(style)
		return nil
	})
}

// CompleteOnboarding stores the style chosen during onboarding and marks the
// profile as onboarded.
func CompleteOnboarding(ctx context.Context, env *Env, caller string, style whisper.StyleProfile) (*whisper.User, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := style.Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return saveUser(ctx, env, caller, false, func(u *whisper.User) error {
		u.Style = u.Style.Merge(style)
		u.OnboardingCompleted = true
		return nil
	})
}

// SetMemoirPublic controls whether the caller's memoir page is readable by
// anyone. Individual entries still follow their whisper's visibility.
func SetMemoirPublic(ctx context.Context, env *Env, caller string, public bool) (*whisper.User, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	return saveUser(ctx, env, caller, false, func(u *whisper.User) error {
		u.MemoirPublic = public
		return nil
	})
}

// DeleteUserOutput contains the result of the DeleteUser operation.
type DeleteUserOutput struct {
	Deleted  bool `json:"deleted"`
	Whispers int  `json:"whispers"`
}

// DeleteUser removes the caller's profile and everything they own. Whispers
// left without a profile are removed too.
func DeleteUser(ctx context.Context, env *Env, caller string) (*DeleteUserOutput, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	out := &DeleteUserOutput{}
	err := db.RunInTx(ctx, env.DB, env.Triggers, func(tx *db.Tx) error {
		ids, err := db.ListWhisperIDsByUser(ctx, tx, caller)
		if err != nil {
			return err
		}
		out.Whispers = len(ids)

		err = db.DeleteUser(ctx, tx, caller)
		if err == nil {
			out.Deleted = true
			return nil
		}
		if !errors.Is(err, errors.ErrNotFound) {
			return err
		}
		for _, id := range ids {
			if err := db.DeleteWhisper(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// saveUser loads the caller's profile, applies fn and writes it back. With
// create set a missing profile is started fresh; otherwise it is an error.
func saveUser(ctx context.Context, env *Env, caller string, create bool, fn func(u *whisper.User) error) (*whisper.User, error) {
	var out *whisper.User
	err := db.RunInTx(ctx, env.DB, env.Triggers, func(tx *db.Tx) error {
		now := env.now().UnixMilli()
		u, err := db.GetUser(ctx, tx, caller)
		switch {
		case err == nil:
		case errors.Is(err, errors.ErrNotFound) && create:
			u = &whisper.User{ID: caller, CreatedAt: now}
		case errors.Is(err, errors.ErrNotFound):
			return errors.NewProfileNotFound(caller)
		default:
			return err
		}

		if err := fn(u); err != nil {
			return err
		}
		u.UpdatedAt = whisper.NextUpdatedAt(u.UpdatedAt, now)
		if err := db.SaveUser(ctx, tx, u); err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
