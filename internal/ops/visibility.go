package ops

import (
	"context"

	"github.com/phantompen/pen/internal/whisper"
)

// SetVisibilityInput contains parameters for the SetVisibility operation.
type SetVisibilityInput struct {
	Caller string
	ID     string

	// Public is the new visibility; nil toggles the current value.
	Public *bool
}

// SetVisibility changes whether a whisper is publicly readable. The cascade
// mirrors the value onto the whisper's memoirs in the same transaction.
func SetVisibility(ctx context.Context, env *Env, input SetVisibilityInput) (*UpdateOutput, error) {
	w, changed, err := mutateOwned(ctx, env, input.Caller, input.ID, func(w *whisper.Whisper) (bool, error) {
		next := !w.Public
		if input.Public != nil {
			next = *input.Public
		}
		if next == w.Public {
			return false, nil
		}
		w.Public = next
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &UpdateOutput{Whisper: w, Changed: changed}, nil
}
