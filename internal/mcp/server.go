package mcp

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/perch/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"launch", "content", "action", "service", "handoff", "history"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"launch_parse": {
		def:     launchParseToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLaunchParse },
	},
	"launch_activate": {
		def:     launchActivateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLaunchActivate },
	},
	"content_ingest": {
		def:     contentIngestToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleContentIngest },
	},
	"content_analyze": {
		def:     contentAnalyzeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleContentAnalyze },
	},
	"action_run": {
		def:     actionRunToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleActionRun },
	},
	"service_health": {
		def:     serviceHealthToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleServiceHealth },
	},
	"service_pull": {
		def:     servicePullToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleServicePull },
	},
	"handoff_snapshot": {
		def:     handoffSnapshotToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHandoffSnapshot },
	},
	"handoff_reemit": {
		def:     handoffReemitToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHandoffReemit },
	},
	"history_list": {
		def:     historyListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryList },
	},
	"history_get": {
		def:     historyGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryGet },
	},
	"history_activations": {
		def:     historyActivationsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryActivations },
	},
	"history_export": {
		def:     historyExportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleHistoryExport },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
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
// Tool names follow the pattern "type_action" (e.g., "history_list" → "history").
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

// NewServer creates a new MCP server with Perch tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(env *ops.Env, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"perch",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(env)

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(env.Config.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range env.Config.DisabledTools {
		disabled[name] = true
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
	s := NewServer(env, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
