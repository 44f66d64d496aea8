package ops

import (
	"context"

	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/whisper"
)

// FetchWhisper returns one of the caller's whispers.
func FetchWhisper(ctx context.Context, env *Env, caller, id string) (*whisper.Whisper, error) {
	return loadOwned(ctx, env.DB, caller, id)
}

// FetchPublicWhisper returns a whisper readable by anyone. Missing and
// private whispers yield nil without an error.
func FetchPublicWhisper(ctx context.Context, env *Env, id string) (*whisper.Whisper, error) {
	if id == "" {
		return nil, nil
	}
	w, err := db.GetWhisper(ctx, env.DB, id)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !w.Public {
		return nil, nil
	}
	return w, nil
}
