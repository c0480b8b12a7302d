package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/handoff"
	"github.com/hpungsan/perch/internal/logging"
	"github.com/hpungsan/perch/internal/ops"
	"github.com/hpungsan/perch/internal/record"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "launch", "history", "debug"
}

// LaunchPageData is the template data for the surface page.
type LaunchPageData struct {
	PageData
	Actions []string
}

// DebugPageData is the template data for the diagnostics page.
type DebugPageData struct {
	PageData
	Snapshot    handoff.Snapshot
	PayloadJSON string
	Busy        bool
}

// HistoryPageData is the template data for the analysis history page.
type HistoryPageData struct {
	PageData
	Items      []record.AnalysisSummary
	Pagination ops.Pagination
	Kind       string
}

// AnalysisPageData is the template data for the analysis detail page.
type AnalysisPageData struct {
	PageData
	Analysis     *ops.GetAnalysisOutput
	RenderedHTML template.HTML
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	logger    *zap.Logger
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string, logger *zap.Logger) *Renderer {
	funcMap := template.FuncMap{
		"add":          func(a, b int) int { return a + b },
		"sub":          func(a, b int) int { return a - b },
		"formatTime":   formatTime,
		"formatChars":  formatChars,
		"formatMillis": formatMillis,
		"join":         strings.Join,
		"deref":        deref,
		"hasValue":     hasValue,
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"launch":   "launch.html",
		"debug":    "debug.html",
		"history":  "history.html",
		"analysis": "analysis.html",
		"error":    "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
		logger:    logging.OrNop(logger),
	}
}

// page returns PageData for a page with the renderer's version.
func (r *Renderer) page(title, nav string) PageData {
	return PageData{Title: title, Version: r.version, Nav: nav}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, name string, data any) {
	r.renderPageStatus(w, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given data and HTTP status code.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		r.logger.Error("template not found", zap.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logger.Error("template execution error", zap.String("template", name), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	pErr := r.classify(err)

	if wantsJSON(req) {
		renderJSON(w, pErr.Status, errorBody(pErr))
		return
	}

	r.renderPageStatus(w, pErr.Status, "error", ErrorPageData{
		PageData:   r.page(fmt.Sprintf("Error %d", pErr.Status), ""),
		StatusCode: pErr.Status,
		Message:    pErr.Message,
	})
}

// renderAPIError writes a JSON error regardless of the Accept header.
func (r *Renderer) renderAPIError(w http.ResponseWriter, err error) {
	pErr := r.classify(err)
	renderJSON(w, pErr.Status, errorBody(pErr))
}

// classify maps err onto a PerchError. INTERNAL messages are logged and replaced
// so file paths and SQL never reach the page.
func (r *Renderer) classify(err error) *errors.PerchError {
	pErr := errors.As(err)
	if pErr == nil {
		pErr = errors.NewInternal(err)
	}
	if pErr.Code == errors.ErrInternal {
		r.logger.Error("request failed", zap.Error(err))
		return &errors.PerchError{Code: errors.ErrInternal, Status: pErr.Status, Message: "an internal error occurred"}
	}
	return &errors.PerchError{Code: pErr.Code, Status: pErr.Status, Message: err.Error(), Details: pErr.Details}
}

func errorBody(pErr *errors.PerchError) map[string]any {
	obj := map[string]any{
		"code":    string(pErr.Code),
		"message": pErr.Message,
		"status":  pErr.Status,
	}
	if pErr.Details != nil {
		obj["details"] = pErr.Details
	}
	return map[string]any{"error": obj}
}

// wantsJSON reports whether the client asked for JSON.
func wantsJSON(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "application/json")
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts model output to HTML using goldmark. Raw HTML in the
// response is dropped by goldmark's default renderer.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats a Unix timestamp as "2006-01-02 15:04" UTC.
func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04")
}

// formatMillis formats a duration in milliseconds, switching to seconds past 1s.
func formatMillis(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

// formatChars formats an integer with comma thousands separators.
func formatChars(n int) string {
	if n < 0 {
		return "-" + formatChars(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// deref dereferences a pointer, returning the zero value if nil.
func deref(v any) any {
	if v == nil {
		return ""
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Zero(rv.Type().Elem()).Interface()
		}
		return rv.Elem().Interface()
	}
	return v
}

// hasValue checks if a pointer value is non-nil.
func hasValue(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		return !rv.IsNil()
	}
	return true
}
