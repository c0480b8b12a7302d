package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// payloadProperties describes a launch payload argument:
// {"kind":"files","files":[...]} or {"kind":"images","images":[...]}, optional coords.
var payloadProperties = map[string]any{
	"kind":   map[string]any{"type": "string", "enum": []string{"files", "images"}},
	"files":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	"images": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	"coords": map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
			"y": map[string]any{"type": "integer"},
		},
	},
}

var stringItems = map[string]any{"type": "string"}

var launchParseToolDef = mcp.NewTool("launch_parse",
	mcp.WithDescription("Parse raw launch arguments into a payload without delivering it. Accepts @file indirection, a whole JSON argument, or JSON split across arguments."),
	mcp.WithArray("args", mcp.Required(), mcp.Description("Raw argument vector"), mcp.Items(stringItems)),
)

var launchActivateToolDef = mcp.NewTool("launch_activate",
	mcp.WithDescription("Parse launch arguments, record the activation and hand the payload to the attached surface."),
	mcp.WithArray("args", mcp.Required(), mcp.Description("Raw argument vector"), mcp.Items(stringItems)),
	mcp.WithString("cwd", mcp.Description("Working directory of the launching shell")),
)

var contentIngestToolDef = mcp.NewTool("content_ingest",
	mcp.WithDescription("Extract the payload's files under the ingestion caps and return a bounded preview. Uses the last delivered payload when none is given."),
	mcp.WithObject("payload", mcp.Description("Launch payload; omit to use the last delivered one"), mcp.Properties(payloadProperties)),
)

var contentAnalyzeToolDef = mcp.NewTool("content_analyze",
	mcp.WithDescription("Run one analysis of the payload through the text-generation service. Fails with BUSY while another analysis runs."),
	mcp.WithObject("payload", mcp.Description("Launch payload; omit to use the last delivered one"), mcp.Properties(payloadProperties)),
	mcp.WithString("action", mcp.Description("Instruction for the model (default: analyze)")),
)

var actionRunToolDef = mcp.NewTool("action_run",
	mcp.WithDescription("Run a named action on free text."),
	mcp.WithString("action", mcp.Required(), mcp.Enum("summarize", "rewrite", "translate", "analyze")),
	mcp.WithString("input", mcp.Required(), mcp.Description("Text to act on")),
)

var serviceHealthToolDef = mcp.NewTool("service_health",
	mcp.WithDescription("Check the text-generation service and report whether an analysis is running."),
)

var servicePullToolDef = mcp.NewTool("service_pull",
	mcp.WithDescription("Download a model into the text-generation service."),
	mcp.WithString("model", mcp.Description("Model name (default: configured model)")),
)

var handoffSnapshotToolDef = mcp.NewTool("handoff_snapshot",
	mcp.WithDescription("Return the diagnostic log ring, the last payload and the last activation arguments."),
)

var handoffReemitToolDef = mcp.NewTool("handoff_reemit",
	mcp.WithDescription("Push the last payload to the attached surface again."),
)

var historyListToolDef = mcp.NewTool("history_list",
	mcp.WithDescription("List past analyses, newest first."),
	mcp.WithString("kind", mcp.Enum("text", "images"), mcp.Description("Filter by source kind")),
	mcp.WithNumber("limit", mcp.Description("Max items (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var historyGetToolDef = mcp.NewTool("history_get",
	mcp.WithDescription("Fetch one analysis including its full response."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Analysis ID")),
)

var historyActivationsToolDef = mcp.NewTool("history_activations",
	mcp.WithDescription("List recorded launch activations, newest first."),
	mcp.WithNumber("limit", mcp.Description("Max items (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var historyExportToolDef = mcp.NewTool("history_export",
	mcp.WithDescription("Export analysis history to a JSONL file in the exports directory."),
	mcp.WithString("path", mcp.Description("Destination .jsonl path directly in the exports directory (default: generated)")),
	mcp.WithString("kind", mcp.Enum("text", "images"), mcp.Description("Filter by source kind")),
)
