package ops

import (
	"context"

	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/whisper"
)

// UpdateOutput contains the result of an update operation. Schedule is set
// when the change re-armed memoir generation.
type UpdateOutput struct {
	Whisper  *whisper.Whisper  `json:"whisper"`
	Changed  bool              `json:"changed"`
	Schedule *whisper.Schedule `json:"schedule,omitempty"`
}

// UpdateTranscriptInput contains parameters for the UpdateTranscript operation.
type UpdateTranscriptInput struct {
	Caller     string
	ID         string
	Transcript string

	// Content replaces the structured blocks; nil re-derives them from Transcript.
	Content []whisper.Block
}

// UpdateTranscript replaces a whisper's transcript and reschedules generation.
func UpdateTranscript(ctx context.Context, env *Env, input UpdateTranscriptInput) (*UpdateOutput, error) {
	transcript := whisper.NormalizeText(input.Transcript)
	content := input.Content
	if content != nil {
		if err := whisper.ValidateBlocks(content); err != nil {
			return nil, errors.NewInvalidRequest(err.Error())
		}
	} else {
		content = whisper.ParseBlocks(transcript)
	}

	w, changed, err := mutateOwned(ctx, env, input.Caller, input.ID, func(w *whisper.Whisper) (bool, error) {
		if w.Transcript == transcript && sameBlocks(w.Content, content) {
			return false, nil
		}
		w.Transcript = transcript
		w.Content = content
		w.Revision++
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return updated(ctx, env, w, changed), nil
}

// UpdateContentInput contains parameters for the UpdateContent operation.
type UpdateContentInput struct {
	Caller  string
	ID      string
	Content []whisper.Block
}

// UpdateContent replaces a whisper's structured content. The transcript is
// re-rendered from the blocks so search and generation see the edit.
func UpdateContent(ctx context.Context, env *Env, input UpdateContentInput) (*UpdateOutput, error) {
	if input.Content == nil {
		return nil, errors.NewInvalidRequest("content is required")
	}
	if err := whisper.ValidateBlocks(input.Content); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	transcript := whisper.RenderBlocks(input.Content)

	w, changed, err := mutateOwned(ctx, env, input.Caller, input.ID, func(w *whisper.Whisper) (bool, error) {
		if sameBlocks(w.Content, input.Content) {
			return false, nil
		}
		w.Content = input.Content
		w.Transcript = transcript
		w.Revision++
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return updated(ctx, env, w, changed), nil
}

// UpdateTitleInput contains parameters for the UpdateTitle operation.
type UpdateTitleInput struct {
	Caller string
	ID     string
	Title  string
}

// UpdateTitle renames a whisper. Titles do not feed generation, so nothing is
// rescheduled unless reschedule_on_title is set.
func UpdateTitle(ctx context.Context, env *Env, input UpdateTitleInput) (*UpdateOutput, error) {
	title := whisper.NormalizeTitle(input.Title)
	if title == "" {
		title = whisper.DefaultTitle
	}
	bump := env.cfg().RescheduleOnTitle

	w, changed, err := mutateOwned(ctx, env, input.Caller, input.ID, func(w *whisper.Whisper) (bool, error) {
		if w.Title == title {
			return false, nil
		}
		w.Title = title
		if bump {
			w.Revision++
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !bump {
		return &UpdateOutput{Whisper: w, Changed: changed}, nil
	}
	return updated(ctx, env, w, changed), nil
}

func updated(ctx context.Context, env *Env, w *whisper.Whisper, changed bool) *UpdateOutput {
	out := &UpdateOutput{Whisper: w, Changed: changed}
	if changed {
		out.Schedule = env.reschedule(ctx, w)
	}
	return out
}

func sameBlocks(a, b []whisper.Block) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
