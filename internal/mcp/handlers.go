package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/ops"
	"github.com/phantompen/pen/internal/whisper"
)

// Handlers holds dependencies for MCP tool handlers. Every call acts as the
// configured MCP user.
type Handlers struct {
	env    *ops.Env
	caller string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(env *ops.Env) *Handlers {
	h := &Handlers{env: env}
	if env.Cfg != nil {
		h.caller = env.Cfg.MCPUser
	}
	return h
}

// WhisperCreateRequest represents the arguments for whisper_create.
type WhisperCreateRequest struct {
	Title      string          `json:"title,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Content    []whisper.Block `json:"content,omitempty"`
}

// IDRequest addresses a single whisper by id.
type IDRequest struct {
	ID string `json:"id"`
}

func (r *IDRequest) validate() error { return requireArg("id", r.ID) }

// WhisperIDRequest addresses a single whisper by whisper_id.
type WhisperIDRequest struct {
	WhisperID string `json:"whisper_id"`
}

func (r *WhisperIDRequest) validate() error { return requireArg("whisper_id", r.WhisperID) }

// ListRequest represents the arguments for whisper_list and memoir_list.
type ListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// SearchRequest represents the arguments for whisper_search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// UpdateRequest represents the arguments for the whisper_update_* tools.
type UpdateRequest struct {
	ID         string          `json:"id"`
	Title      string          `json:"title,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Content    []whisper.Block `json:"content,omitempty"`
}

func (r *UpdateRequest) validate() error { return requireArg("id", r.ID) }

// VisibilityRequest represents the arguments for whisper_visibility.
type VisibilityRequest struct {
	ID     string `json:"id"`
	Public *bool  `json:"public,omitempty"`
}

func (r *VisibilityRequest) validate() error { return requireArg("id", r.ID) }

// TranscribeRequest represents the arguments for whisper_transcribe.
type TranscribeRequest struct {
	Path      string `json:"path"`
	WhisperID string `json:"whisper_id,omitempty"`
}

func (r *TranscribeRequest) validate() error { return requireArg("path", r.Path) }

// UserUpsertRequest represents the arguments for user_upsert.
type UserUpsertRequest struct {
	Email          string `json:"email,omitempty"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// UserStyleRequest represents the arguments for user_style.
type UserStyleRequest struct {
	whisper.StyleProfile
	CompleteOnboarding bool `json:"complete_onboarding,omitempty"`
}

// MemoirPublicRequest represents the arguments for user_memoir_public.
type MemoirPublicRequest struct {
	Public *bool `json:"public"`
}

func (r *MemoirPublicRequest) validate() error {
	if r.Public == nil {
		return errors.NewInvalidRequest("public is required")
	}
	return nil
}

// Whisper handlers

// HandleWhisperCreate handles the whisper_create tool call.
func (h *Handlers) HandleWhisperCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WhisperCreateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.CreateWhisper(ctx, h.env, ops.CreateWhisperInput{
		Caller:     h.caller,
		Title:      input.Title,
		Transcript: input.Transcript,
		Content:    input.Content,
	}))
}

// HandleWhisperBlank handles the whisper_blank tool call.
func (h *Handlers) HandleWhisperBlank(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WhisperCreateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.CreateBlankNote(ctx, h.env, ops.CreateBlankNoteInput{Caller: h.caller, Title: input.Title}))
}

// HandleWhisperFetch handles the whisper_fetch tool call.
func (h *Handlers) HandleWhisperFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.FetchWhisper(ctx, h.env, h.caller, input.ID))
}

// HandleWhisperList handles the whisper_list tool call.
func (h *Handlers) HandleWhisperList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.ListWhispers(ctx, h.env, ops.ListInput{Caller: h.caller, Limit: input.Limit, Offset: input.Offset}))
}

// HandleWhisperSearch handles the whisper_search tool call.
func (h *Handlers) HandleWhisperSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.SearchWhispers(ctx, h.env, ops.SearchInput{Caller: h.caller, Query: input.Query, Limit: input.Limit}))
}

// HandleWhisperUpdateTranscript handles the whisper_update_transcript tool call.
func (h *Handlers) HandleWhisperUpdateTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UpdateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.UpdateTranscript(ctx, h.env, ops.UpdateTranscriptInput{
		Caller:     h.caller,
		ID:         input.ID,
		Transcript: input.Transcript,
	}))
}

// HandleWhisperUpdateContent handles the whisper_update_content tool call.
func (h *Handlers) HandleWhisperUpdateContent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UpdateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.UpdateContent(ctx, h.env, ops.UpdateContentInput{
		Caller:  h.caller,
		ID:      input.ID,
		Content: input.Content,
	}))
}

// HandleWhisperUpdateTitle handles the whisper_update_title tool call.
func (h *Handlers) HandleWhisperUpdateTitle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UpdateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.UpdateTitle(ctx, h.env, ops.UpdateTitleInput{
		Caller: h.caller,
		ID:     input.ID,
		Title:  input.Title,
	}))
}

// HandleWhisperVisibility handles the whisper_visibility tool call.
func (h *Handlers) HandleWhisperVisibility(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[VisibilityRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.SetVisibility(ctx, h.env, ops.SetVisibilityInput{
		Caller: h.caller,
		ID:     input.ID,
		Public: input.Public,
	}))
}

// HandleWhisperDelete handles the whisper_delete tool call.
func (h *Handlers) HandleWhisperDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.DeleteWhisper(ctx, h.env, h.caller, input.ID))
}

// HandleWhisperTranscribe handles the whisper_transcribe tool call. The file
// is stored as an upload first, so it follows the same path as HTTP uploads.
func (h *Handlers) HandleWhisperTranscribe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TranscribeRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	f, err := os.Open(input.Path)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(fmt.Sprintf("cannot open %s: %v", input.Path, err))), nil
	}
	defer f.Close()

	blob, err := ops.UploadAudio(ctx, h.env, h.caller, f)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.Transcribe(ctx, h.env, ops.TranscribeInput{
		Caller:    h.caller,
		StorageID: blob.ID,
		WhisperID: input.WhisperID,
	}))
}

// Memoir and schedule handlers

// HandleMemoirList handles the memoir_list tool call.
func (h *Handlers) HandleMemoirList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.ListMemoirs(ctx, h.env, h.caller, input.Limit))
}

// HandleMemoirRegenerate handles the memoir_regenerate tool call.
func (h *Handlers) HandleMemoirRegenerate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WhisperIDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.RegenerateMemoirs(ctx, h.env, h.caller, input.WhisperID))
}

// HandleScheduleStatus handles the schedule_status tool call.
func (h *Handlers) HandleScheduleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WhisperIDRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.ScheduleStatus(ctx, h.env, h.caller, input.WhisperID))
}

// User handlers

// HandleUserGet handles the user_get tool call.
func (h *Handlers) HandleUserGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(ops.GetMe(ctx, h.env, h.caller))
}

// HandleUserUpsert handles the user_upsert tool call.
func (h *Handlers) HandleUserUpsert(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UserUpsertRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.UpsertUser(ctx, h.env, ops.UpsertUserInput{
		Caller:         h.caller,
		Email:          input.Email,
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		ProfilePicture: input.ProfilePicture,
	}))
}

// HandleUserStyle handles the user_style tool call.
func (h *Handlers) HandleUserStyle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UserStyleRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.CompleteOnboarding {
		return result(ops.CompleteOnboarding(ctx, h.env, h.caller, input.StyleProfile))
	}
	return result(ops.UpdateStyle(ctx, h.env, h.caller, input.StyleProfile))
}

// HandleUserMemoirPublic handles the user_memoir_public tool call.
func (h *Handlers) HandleUserMemoirPublic(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[MemoirPublicRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return result(ops.SetMemoirPublic(ctx, h.env, h.caller, *input.Public))
}

// Result helpers

// result converts an ops return pair into a tool result.
func result[T any](data T, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(data)
}

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are never exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if pErr, ok := errors.As(err); ok {
		msg := pErr.Message
		// Keep context added by wrappers such as "items[2]: ".
		if prefix := strings.TrimSuffix(err.Error(), pErr.Error()); prefix != err.Error() {
			msg = prefix + msg
		}
		if pErr.Code == errors.ErrInternal {
			msg = "an internal error occurred"
		}
		errorObj := map[string]any{
			"code":    pErr.Code,
			"message": msg,
			"status":  pErr.Status,
		}
		if pErr.Code != errors.ErrInternal && pErr.Details != nil {
			errorObj["details"] = pErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
