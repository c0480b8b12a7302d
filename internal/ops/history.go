package ops

import (
	"strings"

	"github.com/hpungsan/perch/internal/db"
	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/ingest"
	"github.com/hpungsan/perch/internal/record"
)

// HistoryInput contains parameters for the History operation.
type HistoryInput struct {
	Kind   string // optional: "text" or "images"
	Limit  int    // default: 20, max: 100
	Offset int    // default: 0
}

// HistoryOutput contains the result of the History operation.
type HistoryOutput struct {
	Items      []record.AnalysisSummary `json:"items"`
	Pagination Pagination               `json:"pagination"`
	Sort       string                   `json:"sort"`
}

// History lists past analyses, newest first.
func History(env *Env, input HistoryInput) (*HistoryOutput, error) {
	if env.DB == nil {
		return nil, errors.NewInternal(errNoDatabase)
	}
	kind := strings.ToLower(strings.TrimSpace(input.Kind))
	if kind != "" && kind != ingest.KindText && kind != ingest.KindImages {
		return nil, errors.NewInvalidRequest("kind must be \"text\" or \"images\"")
	}

	limit, offset := clampPage(input.Limit, input.Offset)
	items, total, err := db.ListAnalyses(env.DB, kind, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []record.AnalysisSummary{}
	}

	return &HistoryOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "created_at_desc",
	}, nil
}

// ActivationsInput contains parameters for the Activations operation.
type ActivationsInput struct {
	Limit  int
	Offset int
}

// ActivationsOutput contains the result of the Activations operation.
type ActivationsOutput struct {
	Items      []record.Activation `json:"items"`
	Pagination Pagination          `json:"pagination"`
}

// Activations lists recorded launch activations, newest first.
func Activations(env *Env, input ActivationsInput) (*ActivationsOutput, error) {
	if env.DB == nil {
		return nil, errors.NewInternal(errNoDatabase)
	}
	limit, offset := clampPage(input.Limit, input.Offset)
	items, total, err := db.ListActivations(env.DB, limit, offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []record.Activation{}
	}
	return &ActivationsOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
	}, nil
}

// GetAnalysisOutput is a full analysis record.
type GetAnalysisOutput struct {
	record.AnalysisSummary
	Response     string  `json:"response"`
	PromptBytes  int     `json:"prompt_bytes"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// GetAnalysis fetches one analysis by id.
func GetAnalysis(env *Env, id string) (*GetAnalysisOutput, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if env.DB == nil {
		return nil, errors.NewInternal(errNoDatabase)
	}
	a, err := db.GetAnalysis(env.DB, id)
	if err != nil {
		return nil, err
	}
	return &GetAnalysisOutput{
		AnalysisSummary: a.ToSummary(),
		Response:        a.Response,
		PromptBytes:     a.PromptBytes,
		ErrorMessage:    a.ErrorMessage,
	}, nil
}
