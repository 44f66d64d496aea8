package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/phantompen/pen/internal/whisper"
)

var blockItems = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"type":    map[string]any{"type": "string", "enum": []string{whisper.BlockParagraph, whisper.BlockHeading}},
		"content": map[string]any{"type": "string"},
		"level":   map[string]any{"type": "integer", "minimum": 1, "maximum": 6},
	},
	"required": []string{"type", "content"},
}

var whisperCreateToolDef = mcp.NewTool("whisper_create",
	mcp.WithDescription("Create a whisper from a transcript or structured content. Memoir synthesis is scheduled after a quiet period."),
	mcp.WithString("title", mcp.Description("Title; defaults to \"Untitled\"")),
	mcp.WithString("transcript", mcp.Description("Plain-text transcript")),
	mcp.WithArray("content", mcp.Description("Structured editor blocks"), mcp.Items(blockItems)),
)

var whisperBlankToolDef = mcp.NewTool("whisper_blank",
	mcp.WithDescription("Create an empty whisper to be filled in later. Nothing is scheduled."),
	mcp.WithString("title", mcp.Description("Title; defaults to \"Untitled\"")),
)

var whisperFetchToolDef = mcp.NewTool("whisper_fetch",
	mcp.WithDescription("Fetch one whisper with its transcript and content."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Whisper ID")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var whisperListToolDef = mcp.NewTool("whisper_list",
	mcp.WithDescription("List whisper summaries, most recently updated first."),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var whisperSearchToolDef = mcp.NewTool("whisper_search",
	mcp.WithDescription("Full-text search over whisper titles and transcripts."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
	mcp.WithNumber("limit", mcp.Description("Maximum results")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var whisperUpdateTranscriptToolDef = mcp.NewTool("whisper_update_transcript",
	mcp.WithDescription("Replace a whisper's transcript. Restarts the memoir quiet period."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Whisper ID")),
	mcp.WithString("transcript", mcp.Required(), mcp.Description("New transcript")),
)

var whisperUpdateContentToolDef = mcp.NewTool("whisper_update_content",
	mcp.WithDescription("Replace a whisper's structured content. The transcript is re-rendered from it."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Whisper ID")),
	mcp.WithArray("content", mcp.Required(), mcp.Description("Structured editor blocks"), mcp.Items(blockItems)),
)

var whisperUpdateTitleToolDef = mcp.NewTool("whisper_update_title",
	mcp.WithDescription("Rename a whisper."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Whisper ID")),
	mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
)

var whisperVisibilityToolDef = mcp.NewTool("whisper_visibility",
	mcp.WithDescription("Set or toggle whether a whisper and its memoirs are public."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Whisper ID")),
	mcp.WithBoolean("public", mcp.Description("New visibility; omit to toggle")),
)

var whisperDeleteToolDef = mcp.NewTool("whisper_delete",
	mcp.WithDescription("Delete a whisper, its memoirs and any pending memoir run."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Whisper ID")),
	mcp.WithDestructiveHintAnnotation(true),
)

var whisperTranscribeToolDef = mcp.NewTool("whisper_transcribe",
	mcp.WithDescription("Transcribe a local audio file into a new whisper, or append it to an existing one."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Path to the recording")),
	mcp.WithString("whisper_id", mcp.Description("Existing whisper to append to")),
)

var memoirListToolDef = mcp.NewTool("memoir_list",
	mcp.WithDescription("List the caller's memoir entries, newest first."),
	mcp.WithNumber("limit", mcp.Description("Maximum entries (default 100, max 500)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var memoirRegenerateToolDef = mcp.NewTool("memoir_regenerate",
	mcp.WithDescription("Synthesize memoir entries for a whisper now instead of waiting for the quiet period."),
	mcp.WithString("whisper_id", mcp.Required(), mcp.Description("Whisper ID")),
)

var scheduleStatusToolDef = mcp.NewTool("schedule_status",
	mcp.WithDescription("Show the latest memoir schedule for a whisper."),
	mcp.WithString("whisper_id", mcp.Required(), mcp.Description("Whisper ID")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var userGetToolDef = mcp.NewTool("user_get",
	mcp.WithDescription("Show the caller's profile and style answers."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var userUpsertToolDef = mcp.NewTool("user_upsert",
	mcp.WithDescription("Create the caller's profile or refresh its identity fields."),
	mcp.WithString("email"),
	mcp.WithString("first_name"),
	mcp.WithString("last_name"),
	mcp.WithString("profile_picture"),
)

var userStyleToolDef = mcp.NewTool("user_style",
	mcp.WithDescription("Update the memoir style answers. Empty fields are left unchanged."),
	mcp.WithString("voice_style", mcp.Enum(whisper.VoiceSceneFocused, whisper.VoiceReflectionFocused)),
	mcp.WithString("writing_style", mcp.Enum(whisper.WritingCleanSimple, whisper.WritingMusicalDescriptive)),
	mcp.WithString("candor_level", mcp.Enum(whisper.CandorFullyCandid, whisper.CandorSoftenedDetails)),
	mcp.WithString("humor_style", mcp.Enum(whisper.HumorNatural, whisper.HumorBackground)),
	mcp.WithString("feeling_intent"),
	mcp.WithString("opener"),
	mcp.WithBoolean("complete_onboarding", mcp.Description("Also mark onboarding as completed")),
)

var userMemoirPublicToolDef = mcp.NewTool("user_memoir_public",
	mcp.WithDescription("Control whether the caller's memoir page is readable by anyone."),
	mcp.WithBoolean("public", mcp.Required()),
)
