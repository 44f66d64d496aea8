package ops

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/events"
	"github.com/phantompen/pen/internal/whisper"
)

// CreateWhisperInput contains parameters for the CreateWhisper operation.
type CreateWhisperInput struct {
	Caller     string
	Title      string
	Transcript string

	// Content is optional; when nil it is parsed from Transcript.
	Content []whisper.Block
}

// CreateWhisperOutput contains the result of the CreateWhisper operation.
type CreateWhisperOutput struct {
	Whisper  *whisper.Whisper  `json:"whisper"`
	Schedule *whisper.Schedule `json:"schedule,omitempty"`
}

// CreateWhisper stores a new whisper owned by the caller and schedules memoir
// generation when it has a transcript.
func CreateWhisper(ctx context.Context, env *Env, input CreateWhisperInput) (*CreateWhisperOutput, error) {
	if err := requireCaller(input.Caller); err != nil {
		return nil, err
	}

	transcript := whisper.NormalizeText(input.Transcript)
	content := input.Content
	if content != nil {
		if err := whisper.ValidateBlocks(content); err != nil {
			return nil, errors.NewInvalidRequest(err.Error())
		}
		if transcript == "" {
			transcript = whisper.RenderBlocks(content)
		}
	} else if transcript != "" {
		content = whisper.ParseBlocks(transcript)
	}

	title := whisper.NormalizeTitle(input.Title)
	if title == "" {
		title = whisper.DefaultTitle
	}

	w, err := insertWhisper(ctx, env, input.Caller, title, transcript, content)
	if err != nil {
		return nil, err
	}

	return &CreateWhisperOutput{
		Whisper:  w,
		Schedule: env.reschedule(ctx, w),
	}, nil
}

// CreateBlankNoteInput contains parameters for the CreateBlankNote operation.
type CreateBlankNoteInput struct {
	Caller string
	Title  string
}

// CreateBlankNote creates an empty whisper to be filled in later. Nothing is
// scheduled until it gets a transcript.
func CreateBlankNote(ctx context.Context, env *Env, input CreateBlankNoteInput) (*whisper.Whisper, error) {
	if err := requireCaller(input.Caller); err != nil {
		return nil, err
	}
	title := whisper.NormalizeTitle(input.Title)
	if title == "" {
		title = whisper.DefaultTitle
	}
	return insertWhisper(ctx, env, input.Caller, title, "", nil)
}

func insertWhisper(ctx context.Context, env *Env, owner, title, transcript string, content []whisper.Block) (*whisper.Whisper, error) {
	now := env.now().UnixMilli()
	w := &whisper.Whisper{
		ID:         ulid.Make().String(),
		UserID:     owner,
		Title:      title,
		Transcript: transcript,
		Content:    content,
		Public:     env.cfg().DefaultPublic,
		Revision:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := db.RunInTx(ctx, env.DB, env.Triggers, func(tx *db.Tx) error {
		return db.InsertWhisper(ctx, tx, w)
	})
	if err != nil {
		return nil, err
	}
	env.publish(events.Event{Type: events.WhisperCreated, UserID: owner, WhisperID: w.ID})
	return w, nil
}
