package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/phantompen/pen/internal/whisper"
)

const memoirSystemPrompt = "You are a skilled personalized memoir writer who follows the style guide provided by the user."

type memoirResponse struct {
	Entries []Entry `json:"entries" jsonschema:"minItems=1"`
}

// memoirSchema is reflected once from memoirResponse.
var memoirSchema = func() *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	return r.Reflect(&memoirResponse{})
}()

// MemoirGenerator implements Generator with a chat model constrained to a
// JSON schema.
type MemoirGenerator struct {
	client      *Client
	model       string
	temperature float64
	now         func() time.Time
}

// NewMemoirGenerator returns a Generator using model on client.
func NewMemoirGenerator(client *Client, model string, temperature float64) *MemoirGenerator {
	return &MemoirGenerator{client: client, model: model, temperature: temperature, now: time.Now}
}

// Generate implements Generator.
func (g *MemoirGenerator) Generate(ctx context.Context, transcript string, style whisper.StyleProfile) ([]Entry, error) {
	temp := g.temperature
	raw, err := g.client.Chat(ctx, ChatRequest{
		Model: g.model,
		Messages: []Message{
			{Role: "system", Content: memoirSystemPrompt},
			{Role: "user", Content: BuildMemoirPrompt(transcript, style)},
		},
		Temperature: &temp,
		ResponseFormat: &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &JSONSchema{Name: "MemoirResponse", Schema: memoirSchema},
		},
	})
	if err != nil {
		return nil, err
	}
	return ParseEntries(raw, g.now())
}

// BuildMemoirPrompt renders the user prompt for one transcript.
func BuildMemoirPrompt(transcript string, style whisper.StyleProfile) string {
	feeling := style.FeelingIntent
	if strings.TrimSpace(feeling) == "" {
		feeling = "Create an engaging, meaningful story"
	}
	opener := style.Opener
	if strings.TrimSpace(opener) == "" {
		opener = "Share personal experiences and insights"
	}

	var b strings.Builder
	b.WriteString("Transform this voice note into a memoir entry:\n\n")
	b.WriteString(StyleGuide(style))
	b.WriteString("\n\nUser's intended feeling: ")
	b.WriteString(feeling)
	b.WriteString("\nUser's memoir motivation: ")
	b.WriteString(opener)
	b.WriteString("\n\nVoice Note Content:\n\"")
	b.WriteString(transcript)
	b.WriteString("\"\n\n")
	b.WriteString(`Respond with {"entries": [{"date": "19 May 1956", "title": "...", "content": "..."}]}`)
	b.WriteString("\n\nRequirements:\n- Max 200 words of content\n- Date in \"DD MMM YYYY\" format")
	return b.String()
}

// StyleGuide renders the style profile as prose instructions. Unset
// preferences fall back to the second option of each pair.
func StyleGuide(style whisper.StyleProfile) string {
	parts := make([]string, 0, 4)

	if style.WritingStyle == whisper.WritingMusicalDescriptive {
		parts = append(parts, "Write in a vivid, flowing style with rich descriptions")
	} else {
		parts = append(parts, "Write in a clear, direct style with simple language")
	}
	if style.VoiceStyle == whisper.VoiceSceneFocused {
		parts = append(parts, "Drop the reader directly into the scene")
	} else {
		parts = append(parts, "Include reflection on meaning and significance")
	}
	if style.CandorLevel == whisper.CandorFullyCandid {
		parts = append(parts, "Be completely honest and open")
	} else {
		parts = append(parts, "Soften harsh details while maintaining truth")
	}
	if style.HumorStyle == whisper.HumorNatural {
		parts = append(parts, "Include natural humor where appropriate")
	} else {
		parts = append(parts, "Keep humor subtle and in the background")
	}
	return strings.Join(parts, ". ")
}

// ParseEntries validates a model response: either {"entries": [...]} or a
// bare array. Every entry needs a title and content; dates are normalized to
// DD MMM YYYY and a missing date becomes today.
func ParseEntries(raw string, now time.Time) ([]Entry, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var entries []Entry
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("invalid model response: %w", err)
		}
	} else {
		var resp memoirResponse
		if err := json.Unmarshal([]byte(raw), &resp); err != nil {
			return nil, fmt.Errorf("invalid model response: %w", err)
		}
		entries = resp.Entries
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("model returned no entries")
	}

	out := make([]Entry, 0, len(entries))
	for i, e := range entries {
		title := whisper.NormalizeTitle(e.Title)
		content := strings.TrimSpace(e.Content)
		if title == "" || content == "" {
			return nil, fmt.Errorf("entry %d: title and content are required", i)
		}
		date, err := whisper.NormalizeDate(e.Date, now)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, Entry{Date: date, Title: title, Content: content})
	}
	return out, nil
}
