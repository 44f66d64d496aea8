package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phantompen/pen/internal/whisper"
)

const (
	localMaxWords      = 200
	localMaxTitleChars = 30
)

// Local is an offline Generator and Titler. It produces one entry per
// transcript without any model call.
type Local struct {
	now func() time.Time
}

// NewLocal returns an offline generator.
func NewLocal() *Local {
	return &Local{now: time.Now}
}

// Generate implements Generator.
func (l *Local) Generate(ctx context.Context, transcript string, style whisper.StyleProfile) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := whisper.StripMarkdown(transcript)
	if whisper.IsBlank(text) {
		return nil, fmt.Errorf("nothing to write about")
	}

	words := strings.Fields(text)
	if len(words) > localMaxWords {
		words = words[:localMaxWords]
	}
	return []Entry{{
		Date:    whisper.FormatDate(l.now()),
		Title:   localTitle(text),
		Content: strings.Join(words, " "),
	}}, nil
}

// GenerateTitle implements Titler.
func (l *Local) GenerateTitle(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	title := localTitle(whisper.StripMarkdown(text))
	if title == "" {
		return "", fmt.Errorf("no text to title")
	}
	return title, nil
}

// localTitle is the first sentence of text, cut at a word boundary.
func localTitle(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?\n"); i >= 0 {
		text = text[:i]
	}
	text = whisper.NormalizeTitle(text)
	if whisper.CountChars(text) <= localMaxTitleChars {
		return text
	}
	cut := whisper.Truncate(text, localMaxTitleChars)
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

// NoTranscriber fails every transcription. It stands in when no speech
// model is configured.
type NoTranscriber struct{}

// Transcribe implements Transcriber.
func (NoTranscriber) Transcribe(ctx context.Context, audio Audio) (string, error) {
	return "", fmt.Errorf("no transcription provider configured (set llm.api_key)")
}
