package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/ops"
	"github.com/hpungsan/perch/internal/payload"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	env *ops.Env
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(env *ops.Env) *Handlers {
	return &Handlers{env: env}
}

// Request types for each tool

// LaunchRequest represents the arguments for launch_parse and launch_activate.
type LaunchRequest struct {
	Args []string `json:"args"`
	Cwd  string   `json:"cwd,omitempty"`
}

// ContentRequest represents the arguments for content_ingest and content_analyze.
type ContentRequest struct {
	Payload *payload.LaunchPayload `json:"payload,omitempty"`
	Action  string                 `json:"action,omitempty"`
}

// ActionRequest represents the arguments for action_run.
type ActionRequest struct {
	Action string `json:"action"`
	Input  string `json:"input"`
}

// PullRequest represents the arguments for service_pull.
type PullRequest struct {
	Model string `json:"model,omitempty"`
}

// HistoryRequest represents the arguments for history_list and history_activations.
type HistoryRequest struct {
	Kind   string `json:"kind,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// GetRequest represents the arguments for history_get.
type GetRequest struct {
	ID string `json:"id"`
}

// ExportRequest represents the arguments for history_export.
type ExportRequest struct {
	Path string `json:"path,omitempty"`
	Kind string `json:"kind,omitempty"`
}

// ParseOutput is the result of launch_parse.
type ParseOutput struct {
	Payload *payload.LaunchPayload `json:"payload"`
}

// Handler implementations

// HandleLaunchParse handles the launch_parse tool call.
func (h *Handlers) HandleLaunchParse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LaunchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	p, err := payload.Parse(input.Args)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(ParseOutput{Payload: p})
}

// HandleLaunchActivate handles the launch_activate tool call.
func (h *Handlers) HandleLaunchActivate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LaunchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Activate(h.env, ops.ActivateInput{Args: input.Args, Cwd: input.Cwd})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleContentIngest handles the content_ingest tool call.
func (h *Handlers) HandleContentIngest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ContentRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Ingest(h.env, ops.IngestInput{Payload: input.Payload})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleContentAnalyze handles the content_analyze tool call.
func (h *Handlers) HandleContentAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ContentRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Analyze(ctx, h.env, ops.AnalyzeInput{
		Payload: input.Payload,
		Action:  input.Action,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleActionRun handles the action_run tool call.
func (h *Handlers) HandleActionRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ActionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.RunAction(ctx, h.env, ops.ActionInput{Action: input.Action, Input: input.Input})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleServiceHealth handles the service_health tool call.
func (h *Handlers) HandleServiceHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.Health(ctx, h.env))
}

// HandleServicePull handles the service_pull tool call.
func (h *Handlers) HandleServicePull(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PullRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Pull(ctx, h.env, input.Model)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHandoffSnapshot handles the handoff_snapshot tool call.
func (h *Handlers) HandleHandoffSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.Snapshot(h.env))
}

// HandleHandoffReemit handles the handoff_reemit tool call.
func (h *Handlers) HandleHandoffReemit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(ops.Reemit(h.env))
}

// HandleHistoryList handles the history_list tool call.
func (h *Handlers) HandleHistoryList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.History(h.env, ops.HistoryInput{
		Kind:   input.Kind,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHistoryGet handles the history_get tool call.
func (h *Handlers) HandleHistoryGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.GetAnalysis(h.env, input.ID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHistoryActivations handles the history_activations tool call.
func (h *Handlers) HandleHistoryActivations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Activations(h.env, ops.ActivationsInput{Limit: input.Limit, Offset: input.Offset})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHistoryExport handles the history_export tool call.
func (h *Handlers) HandleHistoryExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ExportHistory(ctx, h.env, ops.ExportInput{Path: input.Path, Kind: input.Kind})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// INTERNAL errors never carry their message or details to the client.
func errorResult(err error) *mcp.CallToolResult {
	errorObj := map[string]any{
		"code":    string(errors.ErrInternal),
		"message": "an internal error occurred",
		"status":  500,
	}

	if perchErr := errors.As(err); perchErr != nil && perchErr.Code != errors.ErrInternal {
		// err.Error() keeps wrapper context such as "items[2]: ..."
		errorObj["code"] = string(perchErr.Code)
		errorObj["message"] = err.Error()
		errorObj["status"] = perchErr.Status
		if perchErr.Details != nil {
			errorObj["details"] = perchErr.Details
		}
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
