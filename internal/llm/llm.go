// Package llm talks to the language and speech models behind memoir
// synthesis, title suggestion and transcription.
package llm

import (
	"context"

	"github.com/phantompen/pen/internal/whisper"
)

// Entry is one generated memoir entry before it is stored.
type Entry struct {
	Date    string `json:"date" jsonschema:"description=In-story date in DD MMM YYYY format"`
	Title   string `json:"title" jsonschema:"description=Short compelling title"`
	Content string `json:"content" jsonschema:"description=Memoir text of at most 200 words"`
}

// Generator turns a transcript into memoir entries in the owner's style.
type Generator interface {
	Generate(ctx context.Context, transcript string, style whisper.StyleProfile) ([]Entry, error)
}

// Titler suggests a short title for a transcript.
type Titler interface {
	GenerateTitle(ctx context.Context, text string) (string, error)
}

// Audio is an uploaded recording handed to a Transcriber.
type Audio struct {
	Name        string
	ContentType string
	Data        []byte
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio) (string, error)
}
