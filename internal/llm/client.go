package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/phantompen/pen/internal/logging"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat constrains the shape of a chat completion.
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema names a schema for json_schema response formats.
type JSONSchema struct {
	Name   string `json:"name"`
	Schema any    `json:"schema"`
}

// ChatRequest is an OpenAI-compatible chat completion request.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Client is an OpenAI-compatible HTTP client (Groq by default).
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   RetryConfig
	log     logrus.FieldLogger
}

// NewClient builds a client for baseURL authenticating with apiKey.
func NewClient(baseURL, apiKey string, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Minute},
		retry:   DefaultRetryConfig(),
		log:     logging.OrDiscard(log),
	}
}

// WithRetry replaces the retry policy.
func (c *Client) WithRetry(cfg RetryConfig) *Client {
	c.retry = cfg
	return c
}

// Chat runs a chat completion and returns the first choice's content.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	return RetryWithBackoff(ctx, c.retry, c.log, "chat completion", func(ctx context.Context) (string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		var resp chatResponse
		if err := c.do(httpReq, &resp); err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return "", fmt.Errorf("no response from model")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// Transcribe uploads audio to the transcription endpoint and returns the text.
func (c *Client) Transcribe(ctx context.Context, model string, audio Audio) (string, error) {
	return RetryWithBackoff(ctx, c.retry, c.log, "transcription", func(ctx context.Context) (string, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)

		name := audio.Name
		if name == "" {
			name = "audio.webm"
		}
		ctype := audio.ContentType
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
		h.Set("Content-Type", ctype)
		part, err := mw.CreatePart(h)
		if err != nil {
			return "", err
		}
		if _, err := part.Write(audio.Data); err != nil {
			return "", err
		}
		if err := mw.WriteField("model", model); err != nil {
			return "", err
		}
		if err := mw.WriteField("response_format", "json"); err != nil {
			return "", err
		}
		if err := mw.Close(); err != nil {
			return "", err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
		if err != nil {
			return "", err
		}
		httpReq.Header.Set("Content-Type", mw.FormDataContentType())

		var resp transcriptionResponse
		if err := c.do(httpReq, &resp); err != nil {
			return "", err
		}
		return strings.TrimSpace(resp.Text), nil
	})
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// SpeechToText adapts a Client to Transcriber for one model.
type SpeechToText struct {
	client *Client
	model  string
}

// NewSpeechToText returns a Transcriber using model on client.
func NewSpeechToText(client *Client, model string) *SpeechToText {
	return &SpeechToText{client: client, model: model}
}

// Transcribe implements Transcriber.
func (s *SpeechToText) Transcribe(ctx context.Context, audio Audio) (string, error) {
	return s.client.Transcribe(ctx, s.model, audio)
}
