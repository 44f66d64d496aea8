package mcp

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/phantompen/pen/internal/cascade"
	"github.com/phantompen/pen/internal/config"
	"github.com/phantompen/pen/internal/db"
	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/llm"
	"github.com/phantompen/pen/internal/memoir"
	"github.com/phantompen/pen/internal/ops"
	"github.com/phantompen/pen/internal/storage"
)

type transcriberFunc func(ctx context.Context, audio llm.Audio) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, audio llm.Audio) (string, error) {
	return f(ctx, audio)
}

// testSetup creates a temporary database and an env acting as "alice".
func testSetup(t *testing.T) *ops.Env {
	t.Helper()

	tmpDir := t.TempDir()
	database, err := db.Init(tmpDir)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	blobs, err := storage.New(filepath.Join(tmpDir, storage.DirName))
	if err != nil {
		t.Fatalf("failed to init storage: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.MCPUser = "alice"

	triggers := db.NewTriggers()
	cascade.Register(triggers, nil, nil)
	local := llm.NewLocal()

	return &ops.Env{
		DB:       database,
		Cfg:      cfg,
		Triggers: triggers,
		Worker:   memoir.NewWorker(database, triggers, local, nil, memoir.Options{GenerationTimeout: 5 * time.Second}, nil),
		Blobs:    blobs,
		Titler:   local,
		Transcriber: transcriberFunc(func(ctx context.Context, audio llm.Audio) (string, error) {
			return "The train was late again.", nil
		}),
	}
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// createWhisper stores a whisper through the tool and returns its ID.
func createWhisper(t *testing.T, h *Handlers, transcript string) string {
	t.Helper()
	res, err := h.HandleWhisperCreate(context.Background(), makeRequest(map[string]any{
		"title":      "Note",
		"transcript": transcript,
	}))
	if err != nil {
		t.Fatalf("whisper_create: %v", err)
	}
	out := parseOutput(t, res)
	w, ok := out["whisper"].(map[string]any)
	if !ok {
		t.Fatalf("whisper_create: missing whisper in %v", out)
	}
	return w["id"].(string)
}

func TestHandleWhisperCreate(t *testing.T) {
	h := NewHandlers(testSetup(t))
	ctx := context.Background()

	t.Run("transcript", func(t *testing.T) {
		res, err := h.HandleWhisperCreate(ctx, makeRequest(map[string]any{"transcript": "I found an old photo."}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		w := parseOutput(t, res)["whisper"].(map[string]any)
		if w["title"] != "Untitled" {
			t.Errorf("title = %v, want Untitled", w["title"])
		}
		if w["user_id"] != "alice" {
			t.Errorf("user_id = %v, want alice", w["user_id"])
		}
	})

	t.Run("content blocks", func(t *testing.T) {
		res, err := h.HandleWhisperCreate(ctx, makeRequest(map[string]any{
			"content": []any{
				map[string]any{"type": "heading", "content": "Summer", "level": 2},
				map[string]any{"type": "paragraph", "content": "We swam every day."},
			},
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		w := parseOutput(t, res)["whisper"].(map[string]any)
		if !strings.Contains(w["transcript"].(string), "We swam every day.") {
			t.Errorf("transcript not derived from content: %v", w["transcript"])
		}
	})

	t.Run("invalid block", func(t *testing.T) {
		res, _ := h.HandleWhisperCreate(ctx, makeRequest(map[string]any{
			"content": []any{map[string]any{"type": "table", "content": "x"}},
		}))
		assertErrorCode(t, res, string(errors.ErrInvalidRequest))
	})

	t.Run("malformed arguments", func(t *testing.T) {
		res, _ := h.HandleWhisperCreate(ctx, makeRequest(map[string]any{"content": "not a list"}))
		assertErrorCode(t, res, string(errors.ErrInvalidRequest))
	})
}

func TestHandlers_NoMCPUser(t *testing.T) {
	env := testSetup(t)
	env.Cfg.MCPUser = ""
	h := NewHandlers(env)

	res, _ := h.HandleWhisperList(context.Background(), makeRequest(nil))
	assertErrorCode(t, res, string(errors.ErrNotAuthenticated))
}

func TestHandleWhisperFetchAndUpdate(t *testing.T) {
	h := NewHandlers(testSetup(t))
	ctx := context.Background()
	id := createWhisper(t, h, "First draft.")

	res, _ := h.HandleWhisperFetch(ctx, makeRequest(map[string]any{}))
	assertErrorCode(t, res, string(errors.ErrInvalidRequest))

	res, _ = h.HandleWhisperFetch(ctx, makeRequest(map[string]any{"id": "missing"}))
	assertErrorCode(t, res, string(errors.ErrNotFound))

	res, err := h.HandleWhisperUpdateTranscript(ctx, makeRequest(map[string]any{"id": id, "transcript": "Second draft."}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := parseOutput(t, res)
	if out["changed"] != true {
		t.Errorf("changed = %v, want true", out["changed"])
	}

	res, _ = h.HandleWhisperUpdateTitle(ctx, makeRequest(map[string]any{"id": id, "title": "  Draft   two "}))
	w := parseOutput(t, res)["whisper"].(map[string]any)
	if w["title"] != "Draft two" {
		t.Errorf("title = %q, want normalized %q", w["title"], "Draft two")
	}

	res, _ = h.HandleWhisperUpdateContent(ctx, makeRequest(map[string]any{
		"id":      id,
		"content": []any{map[string]any{"type": "paragraph", "content": "Third draft."}},
	}))
	w = parseOutput(t, res)["whisper"].(map[string]any)
	if w["transcript"] != "Third draft." {
		t.Errorf("transcript = %q, want %q", w["transcript"], "Third draft.")
	}

	res, _ = h.HandleWhisperFetch(ctx, makeRequest(map[string]any{"id": id}))
	w = parseOutput(t, res)
	if w["transcript"] != "Third draft." {
		t.Errorf("fetched transcript = %q", w["transcript"])
	}
}

func TestHandleWhisperVisibility(t *testing.T) {
	h := NewHandlers(testSetup(t))
	ctx := context.Background()
	id := createWhisper(t, h, "A secret.")

	res, _ := h.HandleWhisperVisibility(ctx, makeRequest(map[string]any{"id": id, "public": false}))
	w := parseOutput(t, res)["whisper"].(map[string]any)
	if w["public"] != false {
		t.Errorf("public = %v, want false", w["public"])
	}

	res, _ = h.HandleWhisperVisibility(ctx, makeRequest(map[string]any{"id": id}))
	w = parseOutput(t, res)["whisper"].(map[string]any)
	if w["public"] != true {
		t.Errorf("toggle: public = %v, want true", w["public"])
	}
}

func TestHandleWhisperListSearchDelete(t *testing.T) {
	h := NewHandlers(testSetup(t))
	ctx := context.Background()
	first := createWhisper(t, h, "The lighthouse keeper waved.")
	createWhisper(t, h, "Breakfast was cold.")

	res, _ := h.HandleWhisperList(ctx, makeRequest(map[string]any{"limit": 1}))
	out := parseOutput(t, res)
	if items := out["items"].([]any); len(items) != 1 {
		t.Errorf("items = %d, want 1", len(items))
	}
	page := out["pagination"].(map[string]any)
	if page["has_more"] != true || page["total"] != float64(2) {
		t.Errorf("pagination = %v", page)
	}

	res, _ = h.HandleWhisperSearch(ctx, makeRequest(map[string]any{"query": "lighthouse"}))
	items := parseOutput(t, res)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("search results = %d, want 1", len(items))
	}

	res, _ = h.HandleWhisperDelete(ctx, makeRequest(map[string]any{"id": first}))
	if parseOutput(t, res)["deleted"] != true {
		t.Error("expected deleted=true")
	}
	res, _ = h.HandleWhisperDelete(ctx, makeRequest(map[string]any{"id": first}))
	assertErrorCode(t, res, string(errors.ErrNotFound))
}

func TestHandleWhisperBlank(t *testing.T) {
	h := NewHandlers(testSetup(t))
	res, err := h.HandleWhisperBlank(context.Background(), makeRequest(map[string]any{"title": "Later"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := parseOutput(t, res)
	if w["title"] != "Later" || w["transcript"] != "" {
		t.Errorf("blank whisper = %v", w)
	}
}

func TestHandleMemoirRegenerateAndList(t *testing.T) {
	h := NewHandlers(testSetup(t))
	ctx := context.Background()
	id := createWhisper(t, h, "I learned to ride a bike. I fell twice.")

	res, _ := h.HandleMemoirRegenerate(ctx, makeRequest(map[string]any{}))
	assertErrorCode(t, res, string(errors.ErrInvalidRequest))

	res, _ = h.HandleMemoirRegenerate(ctx, makeRequest(map[string]any{"whisper_id": id}))
	assertErrorCode(t, res, string(errors.ErrProfileNotFound))

	res, _ = h.HandleUserUpsert(ctx, makeRequest(map[string]any{"first_name": "Alice"}))
	if u := parseOutput(t, res); u["first_name"] != "Alice" {
		t.Fatalf("user_upsert = %v", u)
	}

	res, err := h.HandleMemoirRegenerate(ctx, makeRequest(map[string]any{"whisper_id": id}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := parseOutput(t, res)
	if out["status"] != string(memoir.RunCompleted) {
		t.Errorf("status = %v, want %s", out["status"], memoir.RunCompleted)
	}

	res, _ = h.HandleMemoirList(ctx, makeRequest(nil))
	if items := parseOutput(t, res)["items"].([]any); len(items) != 1 {
		t.Errorf("memoirs = %d, want 1", len(items))
	}

	res, _ = h.HandleScheduleStatus(ctx, makeRequest(map[string]any{"whisper_id": id}))
	if parseOutput(t, res)["whisper_id"] != id {
		t.Error("schedule_status should echo the whisper id")
	}
}

func wavClip() []byte {
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+32))
	b.WriteString("WAVEfmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint32(8000))
	binary.Write(&b, binary.LittleEndian, uint32(16000))
	binary.Write(&b, binary.LittleEndian, uint16(2))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(32))
	b.Write(make([]byte, 32))
	return b.Bytes()
}

func TestHandleWhisperTranscribe(t *testing.T) {
	h := NewHandlers(testSetup(t))
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "note.wav")
	if err := os.WriteFile(path, wavClip(), 0600); err != nil {
		t.Fatal(err)
	}

	res, err := h.HandleWhisperTranscribe(ctx, makeRequest(map[string]any{"path": path}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := parseOutput(t, res)
	if out["created"] != true || out["text"] != "The train was late again." {
		t.Errorf("transcribe output = %v", out)
	}
	id := out["whisper"].(map[string]any)["id"].(string)

	res, _ = h.HandleWhisperTranscribe(ctx, makeRequest(map[string]any{"path": path, "whisper_id": id}))
	out = parseOutput(t, res)
	if out["created"] != false {
		t.Error("appending should not create a whisper")
	}
	transcript := out["whisper"].(map[string]any)["transcript"].(string)
	if strings.Count(transcript, "The train was late again.") != 2 {
		t.Errorf("transcript = %q, want the clip appended", transcript)
	}

	res, _ = h.HandleWhisperTranscribe(ctx, makeRequest(map[string]any{"path": filepath.Join(t.TempDir(), "missing.wav")}))
	assertErrorCode(t, res, string(errors.ErrInvalidRequest))
}

func TestHandleUserTools(t *testing.T) {
	h := NewHandlers(testSetup(t))
	ctx := context.Background()

	res, _ := h.HandleUserGet(ctx, makeRequest(nil))
	assertErrorCode(t, res, string(errors.ErrProfileNotFound))

	res, _ = h.HandleUserUpsert(ctx, makeRequest(map[string]any{"first_name": "Alice"}))
	if u := parseOutput(t, res); u["first_name"] != "Alice" {
		t.Errorf("first_name = %v", u["first_name"])
	}

	res, _ = h.HandleUserStyle(ctx, makeRequest(map[string]any{"voice_style": "nonsense"}))
	assertErrorCode(t, res, string(errors.ErrInvalidRequest))

	res, _ = h.HandleUserStyle(ctx, makeRequest(map[string]any{
		"voice_style":         "scene-focused",
		"complete_onboarding": true,
	}))
	u := parseOutput(t, res)
	if u["onboarding_completed"] != true {
		t.Errorf("onboarding_completed = %v", u["onboarding_completed"])
	}

	res, _ = h.HandleUserMemoirPublic(ctx, makeRequest(map[string]any{}))
	assertErrorCode(t, res, string(errors.ErrInvalidRequest))

	res, _ = h.HandleUserMemoirPublic(ctx, makeRequest(map[string]any{"public": true}))
	if parseOutput(t, res)["memoir_public"] != true {
		t.Error("expected memoir_public=true")
	}
}

func TestServerRegistration(t *testing.T) {
	s := NewServer(testSetup(t), "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	if len(tools) != len(toolRegistry) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(toolRegistry))
	}
	for _, name := range AllToolNames() {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	env := testSetup(t)
	env.Cfg.DisabledTools = []string{"whisper_delete", "user_memoir_public", "whisper_delete"}
	tools := NewServer(env, "test").ListTools()

	if len(tools) != len(toolRegistry)-2 {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(toolRegistry)-2)
	}
	for _, name := range []string{"whisper_delete", "user_memoir_public"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_WithDisabledTypes(t *testing.T) {
	env := testSetup(t)
	env.Cfg.DisabledTypes = []string{"user", "schedule"}
	tools := NewServer(env, "test").ListTools()

	for name := range tools {
		if typ := GetTypeForTool(name); typ == "user" || typ == "schedule" {
			t.Errorf("tool %q of a disabled type is registered", name)
		}
	}
	if _, ok := tools["whisper_create"]; !ok {
		t.Error("whisper tools should stay registered")
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	env := testSetup(t)
	env.Cfg.DisabledTools = AllToolNames()
	if tools := NewServer(env, "test").ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabled(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{"all valid", []string{"whisper_delete", "memoir_list"}, 0},
		{"one unknown", []string{"whisper_delete", "notebook_store"}, 1},
		{"all unknown", []string{"foo", "bar", "baz"}, 3},
		{"empty list", []string{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unknown := ValidateDisabledTools(tt.input); len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}

	if unknown := ValidateDisabledTypes([]string{"whisper", "notebook"}); len(unknown) != 1 || unknown[0] != "notebook" {
		t.Errorf("ValidateDisabledTypes() = %v, want [notebook]", unknown)
	}
}

func TestGetTypeForTool(t *testing.T) {
	cases := map[string]string{
		"whisper_update_title": "whisper",
		"memoir_list":          "memoir",
		"schedule_status":      "schedule",
		"nounderscore":         "",
		"_leading":             "",
	}
	for in, want := range cases {
		if got := GetTypeForTool(in); got != want {
			t.Errorf("GetTypeForTool(%q) = %q, want %q", in, got, want)
		}
	}
	for _, name := range AllToolNames() {
		typ := GetTypeForTool(name)
		if len(ValidateDisabledTypes([]string{typ})) != 0 {
			t.Errorf("tool %q has unknown type %q", name, typ)
		}
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}
	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if strings.Contains(errObj["message"].(string), "secret.db") {
		t.Fatalf("internal message leaked: %v", errObj["message"])
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedErrorPreservesContext(t *testing.T) {
	wrapped := fmt.Errorf("items[2]: %w", errors.NewNotFound("whisper", "w1"))

	errObj := errorObject(t, errorResult(wrapped))
	if errObj["code"] != string(errors.ErrNotFound) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrNotFound)
	}
	if msg := errObj["message"].(string); !strings.HasPrefix(msg, "items[2]: ") {
		t.Errorf("message should keep wrapper context, got: %s", msg)
	}
}

func TestErrorResult_PlainError(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))
	if errObj["code"] != string(errors.ErrInternal) || errObj["status"] != float64(500) {
		t.Errorf("plain error = %v", errObj)
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in payload: %v", payload)
	}
	return errObj
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()
	if result == nil || !result.IsError {
		t.Errorf("expected error %s, got success", expectedCode)
		return
	}
	if code, _ := errorObject(t, result)["code"].(string); code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}
	return text.Text
}
