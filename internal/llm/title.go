package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phantompen/pen/internal/whisper"
)

const titlePrompt = `<prompt>
  <instruction>
    You are a title generator. Respond ONLY with the title, no explanations, no quotes, no additional text.
  </instruction>
  <task>
    Generate a short, descriptive title (max 30 characters) for the transcription below. Do not include any special characters.
  </task>
  <format>
    Return ONLY a JSON object like: { "title": "Your generated title" }
  </format>
  <transcription><![CDATA[%s...]]></transcription>
</prompt>`

// TitleGenerator implements Titler with a chat model in JSON mode.
type TitleGenerator struct {
	client *Client
	model  string
}

// NewTitleGenerator returns a Titler using model on client.
func NewTitleGenerator(client *Client, model string) *TitleGenerator {
	return &TitleGenerator{client: client, model: model}
}

// GenerateTitle implements Titler. Only the first TitleHintChars characters
// of text are sent.
func (g *TitleGenerator) GenerateTitle(ctx context.Context, text string) (string, error) {
	zero := 0.0
	raw, err := g.client.Chat(ctx, ChatRequest{
		Model:          g.model,
		Messages:       []Message{{Role: "user", Content: fmt.Sprintf(titlePrompt, whisper.Truncate(text, whisper.TitleHintChars))}},
		Temperature:    &zero,
		MaxTokens:      50,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return "", fmt.Errorf("invalid title response: %w", err)
	}
	title := whisper.NormalizeTitle(parsed.Title)
	if title == "" {
		return "", fmt.Errorf("model returned an empty title")
	}
	return title, nil
}
