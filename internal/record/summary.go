package record

// AnalysisSummary is an Analysis without the response text.
// Used by history listings.
type AnalysisSummary struct {
	ID             string   `json:"id"`
	Kind           string   `json:"kind"`
	Action         string   `json:"action"`
	Names          []string `json:"names"`
	Model          string   `json:"model"`
	ResponseChars  int      `json:"response_chars"`
	TokensEstimate int      `json:"tokens_estimate"`
	ErrorCode      *string  `json:"error_code,omitempty"`
	DurationMillis int64    `json:"duration_ms"`
	CreatedAt      int64    `json:"created_at"`
}

// ToSummary strips the response text.
func (a *Analysis) ToSummary() AnalysisSummary {
	names := a.Names
	if names == nil {
		names = []string{}
	}
	return AnalysisSummary{
		ID:             a.ID,
		Kind:           a.Kind,
		Action:         a.Action,
		Names:          names,
		Model:          a.Model,
		ResponseChars:  a.ResponseChars,
		TokensEstimate: a.TokensEstimate,
		ErrorCode:      a.ErrorCode,
		DurationMillis: a.DurationMillis,
		CreatedAt:      a.CreatedAt,
	}
}
