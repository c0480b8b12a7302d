package ops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/ingest"
	"github.com/hpungsan/perch/internal/ollama"
	"github.com/hpungsan/perch/internal/payload"
	"github.com/hpungsan/perch/internal/record"
)

// DefaultAnalyzeAction is used when an analysis names no action.
const DefaultAnalyzeAction = "analyze"

// IngestInput contains parameters for the Ingest operation.
type IngestInput struct {
	// Payload to ingest; nil means the last delivered payload.
	Payload *payload.LaunchPayload
}

// Ingest extracts the payload under the ingestion caps and returns its preview.
// Extraction failures are logged to the handoff ring and returned.
func Ingest(env *Env, input IngestInput) (*ingest.NormalizedPreview, error) {
	p, err := env.resolvePayload(input.Payload)
	if err != nil {
		return nil, err
	}

	preview, err := ingest.Ingest(p, env.ingestOptions())
	if err != nil {
		env.Store().Logf("ingest failed: %v", err)
		return nil, err
	}
	env.Store().Logf("ingested kind=%s files=%d bytes=%d", preview.Kind, preview.FileCount, preview.TotalBytes)
	return preview, nil
}

// AnalyzeInput contains parameters for the Analyze operation.
type AnalyzeInput struct {
	// Payload to analyze; nil means the last delivered payload.
	Payload *payload.LaunchPayload
	// Action defaults to DefaultAnalyzeAction.
	Action string
	Stream bool
	// OnChunk receives streamed fragments when Stream is set.
	OnChunk func(string)
}

// AnalyzeOutput contains the result of the Analyze operation.
type AnalyzeOutput struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	Action         string   `json:"action"`
	Names          []string `json:"names"`
	Model          string   `json:"model"`
	Response       string   `json:"response"`
	Health         string   `json:"health"`
	DurationMillis int64    `json:"duration_ms"`
}

// Analyze runs one single-flight analysis: acquire the guard (BUSY if another
// analysis is running), check the service, prepare the source under the analysis
// caps, generate, then record the outcome. The guard is released on every path.
func Analyze(ctx context.Context, env *Env, input AnalyzeInput) (*AnalyzeOutput, error) {
	if err := env.requireGenerator(); err != nil {
		return nil, err
	}
	p, err := env.resolvePayload(input.Payload)
	if err != nil {
		return nil, err
	}
	action := strings.TrimSpace(input.Action)
	if action == "" {
		action = DefaultAnalyzeAction
	}

	token, err := env.Guard.TryAcquire()
	if err != nil {
		env.Store().Logf("analysis rejected: another analysis is running")
		return nil, err
	}
	defer token.Release()

	start := time.Now()
	id, err := newID(start)
	if err != nil {
		return nil, err
	}
	row := &record.Analysis{
		ID:         id,
		Kind:       sourceKind(p),
		Action:     action,
		ActionNorm: record.NormalizeAction(action),
		Names:      []string{},
		Model:      env.Generator.Model(),
		CreatedAt:  start.Unix(),
	}

	out, err := env.runAnalysis(ctx, p, input, row)
	row.DurationMillis = time.Since(start).Milliseconds()
	if err != nil {
		code, msg := errorFields(err)
		row.ErrorCode, row.ErrorMessage = &code, &msg
		env.recordAnalysis(row)
		env.Store().Logf("analysis failed: %s", msg)
		env.Logger.Warn("analysis failed", zap.String("id", id), zap.String("code", code), zap.Error(err))
		return nil, err
	}
	env.recordAnalysis(row)
	env.Store().Logf("analysis %s done in %dms", id, row.DurationMillis)

	out.DurationMillis = row.DurationMillis
	return out, nil
}

func (e *Env) runAnalysis(ctx context.Context, p *payload.LaunchPayload, input AnalyzeInput, row *record.Analysis) (*AnalyzeOutput, error) {
	health, err := e.Generator.Health(ctx)
	if err != nil {
		return nil, err
	}

	source, err := ingest.PrepareAnalysis(p, e.ingestOptions())
	if err != nil {
		return nil, err
	}
	row.Names = source.SourceNames()

	var req ollama.Request
	switch s := source.(type) {
	case ingest.TextSource:
		req.Prompt = ollama.FormatPrompt(row.Action, s.Text)
	case ingest.ImageSource:
		req.Prompt = ollama.FormatPrompt(row.Action, "Images: "+strings.Join(s.Names, ", "))
		req.Images = s.ImagesB64
	default:
		return nil, errors.NewInternal(fmt.Errorf("unhandled analysis source %T", source))
	}
	row.PromptBytes = len(req.Prompt)

	var response string
	if input.Stream {
		response, err = e.Generator.GenerateStream(ctx, req, input.OnChunk)
	} else {
		response, err = e.Generator.Generate(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	row.SetResponse(response)

	return &AnalyzeOutput{
		ID:       row.ID,
		Kind:     row.Kind,
		Action:   row.Action,
		Names:    row.Names,
		Model:    row.Model,
		Response: response,
		Health:   health,
	}, nil
}

// resolvePayload returns p, or the last stored payload when p is nil.
func (e *Env) resolvePayload(p *payload.LaunchPayload) (*payload.LaunchPayload, error) {
	if p != nil {
		if p.Context == nil {
			return nil, errors.NewInvalidRequest("payload has no context")
		}
		return p.Clone(), nil
	}
	last := e.Store().Last()
	if last == nil {
		return nil, errors.NewInvalidRequest("no payload given and none delivered yet")
	}
	return last, nil
}

func sourceKind(p *payload.LaunchPayload) string {
	if p.Context.Kind() == payload.KindImages {
		return ingest.KindImages
	}
	return ingest.KindText
}

// errorFields extracts a code and the full cause chain for storage.
func errorFields(err error) (string, string) {
	if pErr := errors.As(err); pErr != nil {
		return string(pErr.Code), pErr.Error()
	}
	return string(errors.ErrInternal), err.Error()
}
