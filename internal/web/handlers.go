package web

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/handoff"
	"github.com/hpungsan/perch/internal/ops"
	"github.com/hpungsan/perch/internal/payload"
)

const (
	// maxBodyBytes caps JSON request bodies; payloads are lists of paths.
	maxBodyBytes = 1 << 20
	// eventBuffer is the per-connection surface event queue.
	eventBuffer = 16
	// keepAliveInterval spaces SSE comment lines on idle streams.
	keepAliveInterval = 15 * time.Second
)

// Handlers contains HTTP route handlers for the surface.
type Handlers struct {
	env      *ops.Env
	renderer *Renderer
}

// ContentRequest is the body of POST /api/ingest and POST /api/analyze.
type ContentRequest struct {
	Payload *payload.LaunchPayload `json:"payload,omitempty"`
	Action  string                 `json:"action,omitempty"`
	Stream  bool                   `json:"stream,omitempty"`
}

// ActionRequest is the body of POST /api/action.
type ActionRequest struct {
	Action string `json:"action"`
	Input  string `json:"input"`
}

// HandleLaunch handles GET /launch, the surface page.
func (h *Handlers) HandleLaunch(w http.ResponseWriter, r *http.Request) {
	h.renderer.renderPage(w, "launch", LaunchPageData{
		PageData: h.renderer.page("Perch", "launch"),
		Actions:  ops.Actions,
	})
}

// HandleDebug handles GET /debug, the handoff diagnostics page.
func (h *Handlers) HandleDebug(w http.ResponseWriter, r *http.Request) {
	snap := ops.Snapshot(h.env)
	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, snap)
		return
	}

	payloadJSON := "null"
	if snap.LastPayload != nil {
		if b, err := json.MarshalIndent(snap.LastPayload, "", "  "); err == nil {
			payloadJSON = string(b)
		}
	}

	h.renderer.renderPage(w, "debug", DebugPageData{
		PageData:    h.renderer.page("Debug", "debug"),
		Snapshot:    snap,
		PayloadJSON: payloadJSON,
		Busy:        h.env.Guard.Busy(),
	})
}

// HandleHistory handles GET /history: past analyses, newest first.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	result, err := ops.History(h.env, ops.HistoryInput{
		Kind:   kind,
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, "history", HistoryPageData{
		PageData:   h.renderer.page("History", "history"),
		Items:      result.Items,
		Pagination: result.Pagination,
		Kind:       kind,
	})
}

// HandleAnalysis handles GET /analyses/{id}: one analysis with its rendered response.
func (h *Handlers) HandleAnalysis(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("analysis ID is required"))
		return
	}

	result, err := ops.GetAnalysis(h.env, id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, "analysis", AnalysisPageData{
		PageData:     h.renderer.page(analysisTitle(result.Names, result.ID), "history"),
		Analysis:     result,
		RenderedHTML: renderMarkdown(result.Response),
	})
}

// HandleEvents handles GET /api/events. The connection becomes the attached
// surface: every Surface call is streamed as a server-sent event until the
// client disconnects.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.renderer.renderAPIError(w, errors.NewInternal(fmt.Errorf("response writer does not support streaming")))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	surface := handoff.NewChanSurface(eventBuffer)
	sess := h.env.Handoff.Attach(surface)
	defer func() {
		h.env.Handoff.Detach(sess)
		surface.Close()
	}()

	_, _ = fmt.Fprint(w, ": attached\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-surface.Events():
			if err := writeEvent(w, string(ev.Kind), ev); err != nil {
				h.env.Logger.Debug("event stream closed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

// HandleReady handles POST /api/ready, sent once the surface finished loading.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, ops.Ready(h.env))
}

// HandleReemit handles POST /api/reemit: push the last payload again.
func (h *Handlers) HandleReemit(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, ops.Reemit(h.env))
}

// HandleSnapshot handles GET /api/snapshot.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, ops.Snapshot(h.env))
}

// HandleIngest handles POST /api/ingest: preview the given or last payload.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.renderer.renderAPIError(w, err)
		return
	}

	result, err := ops.Ingest(h.env, ops.IngestInput{Payload: req.Payload})
	if err != nil {
		h.renderer.renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleAnalyze handles POST /api/analyze. With stream set (in the body or as
// ?stream=1) the response is an event stream of "chunk" events followed by one
// "done" or "error" event.
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.renderer.renderAPIError(w, err)
		return
	}
	input := ops.AnalyzeInput{Payload: req.Payload, Action: req.Action}

	flusher, canStream := w.(http.Flusher)
	if !(req.Stream || parseBoolParam(r, "stream")) || !canStream {
		result, err := ops.Analyze(r.Context(), h.env, input)
		if err != nil {
			h.renderer.renderAPIError(w, err)
			return
		}
		renderJSON(w, http.StatusOK, result)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	input.Stream = true
	input.OnChunk = func(chunk string) {
		if err := writeEvent(w, "chunk", chunk); err == nil {
			flusher.Flush()
		}
	}

	result, err := ops.Analyze(r.Context(), h.env, input)
	if err != nil {
		_ = writeEvent(w, "error", errorBody(h.renderer.classify(err)))
	} else {
		_ = writeEvent(w, "done", result)
	}
	flusher.Flush()
}

// HandleAction handles POST /api/action: run a named action on free text.
func (h *Handlers) HandleAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.renderer.renderAPIError(w, err)
		return
	}

	result, err := ops.RunAction(r.Context(), h.env, ops.ActionInput{Action: req.Action, Input: req.Input})
	if err != nil {
		h.renderer.renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, result)
}

// HandleHealth handles GET /api/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, ops.Health(r.Context(), h.env))
}

// writeEvent writes one server-sent event with a JSON data line.
func writeEvent(w io.Writer, event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b)
	return err
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves dst
// unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil
		}
		return errors.NewInvalidRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}

// analysisTitle names an analysis by its first source, or a truncated ID.
func analysisTitle(names []string, id string) string {
	switch len(names) {
	case 0:
		if len(id) > 10 {
			return id[:10] + "..."
		}
		return id
	case 1:
		return names[0]
	default:
		return fmt.Sprintf("%s +%d more", names[0], len(names)-1)
	}
}
