// Package mcp exposes Phantom Pen operations as MCP tools over stdio.
package mcp

import (
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/phantompen/pen/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"whisper", "memoir", "schedule", "user"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"whisper_create": {
		def:     whisperCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWhisperCreate },
	},
	"whisper_blank": {
		def:     whisperBlankToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWhisperBlank },
	},
	"whisper_fetch": {
		def:     whisperFetchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWhisperFetch },
	},
	"whisper_list": {
		def:     whisperListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWhisperList },
	},
	"whisper_search": {
		def:     whisperSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWhisperSearch },
	},
	"whisper_update_transcript": {
		def:     whisperUpdateTranscriptToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWhisperUpdateTranscript },
	},
	"whisper_update_content": {
		def:     whisperUpdateContentToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWhisperUpdateContent },
	},
	"whisper_update_title": {
		def:     whisperUpdateTitleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWhisperUpdateTitle },
	},
	"whisper_visibility": {
		def:     whisperVisibilityToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWhisperVisibility },
	},
	"whisper_delete": {
		def:     whisperDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWhisperDelete },
	},
	"whisper_transcribe": {
		def:     whisperTranscribeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleWhisperTranscribe },
	},
	"memoir_list": {
		def:     memoirListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMemoirList },
	},
	"memoir_regenerate": {
		def:     memoirRegenerateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMemoirRegenerate },
	},
	"schedule_status": {
		def:     scheduleStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleScheduleStatus },
	},
	"user_get": {
		def:     userGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUserGet },
	},
	"user_upsert": {
		def:     userUpsertToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUserUpsert },
	},
	"user_style": {
		def:     userStyleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUserStyle },
	},
	"user_memoir_public": {
		def:     userMemoirPublicToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUserMemoirPublic },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "whisper_create" → "whisper").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates a new MCP server with Phantom Pen tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(env *ops.Env, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"phantompen",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(env)

	disabled := make(map[string]bool)
	if env.Cfg != nil {
		for _, tool := range ExpandTypesToTools(env.Cfg.DisabledTypes) {
			disabled[tool] = true
		}
		for _, name := range env.Cfg.DisabledTools {
			disabled[name] = true
		}
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(env *ops.Env, version string) error {
	return server.ServeStdio(NewServer(env, version))
}
