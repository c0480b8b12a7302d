package record

// ExportSchemaVersion is written in the export header line.
const ExportSchemaVersion = "1.0"

// ExportHeader is the first line of a JSONL history export.
type ExportHeader struct {
	PerchExport   bool   `json:"_perch_export"`
	SchemaVersion string `json:"schema_version"`
	ExportedAt    int64  `json:"exported_at"`
}

// ExportRecord is one analysis in JSONL export format.
type ExportRecord struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	Action         string   `json:"action"`
	Names          []string `json:"names"`
	Model          string   `json:"model"`
	PromptBytes    int      `json:"prompt_bytes"`
	Response       string   `json:"response"`
	ResponseChars  int      `json:"response_chars"`
	TokensEstimate int      `json:"tokens_estimate"`
	ErrorCode      *string  `json:"error_code"`
	ErrorMessage   *string  `json:"error_message"`
	DurationMillis int64    `json:"duration_ms"`
	CreatedAt      int64    `json:"created_at"`
}

// ToExportRecord converts an Analysis for export.
func ToExportRecord(a *Analysis) *ExportRecord {
	names := a.Names
	if names == nil {
		names = []string{}
	}
	return &ExportRecord{
		ID:             a.ID,
		Kind:           a.Kind,
		Action:         a.Action,
		Names:          names,
		Model:          a.Model,
		PromptBytes:    a.PromptBytes,
		Response:       a.Response,
		ResponseChars:  a.ResponseChars,
		TokensEstimate: a.TokensEstimate,
		ErrorCode:      a.ErrorCode,
		ErrorMessage:   a.ErrorMessage,
		DurationMillis: a.DurationMillis,
		CreatedAt:      a.CreatedAt,
	}
}
