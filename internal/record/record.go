package record

// Activation is one launch activation as handed over by the shell.
type Activation struct {
	// ID is a ULID
	ID string `json:"id"`

	// Args is the raw argument vector
	Args []string `json:"args"`

	// Cwd is the working directory reported with the activation (may be empty)
	Cwd string `json:"cwd,omitempty"`

	// Kind is the resolved payload kind; nil when parsing failed
	Kind *string `json:"kind,omitempty"`

	// Paths is the resolved path list
	Paths []string `json:"paths"`

	// ParseError holds the parse failure message, if any
	ParseError *string `json:"parse_error,omitempty"`

	// CreatedAt is the Unix timestamp of the activation
	CreatedAt int64 `json:"created_at"`
}

// Analysis is one request to the text-generation service and its outcome.
// Failed analyses are recorded too, with ErrorCode set and Response empty.
type Analysis struct {
	// ID is a ULID
	ID string

	// Kind is the analysis source kind ("text" or "images")
	Kind string

	// Action is the action as given by the user
	Action string

	// ActionNorm is the normalized action used for grouping
	ActionNorm string

	// Names lists the display names of the files that fed the request
	Names []string

	// Model is the model the request was sent to
	Model string

	// PromptBytes is the size of the rendered prompt
	PromptBytes int

	// Response is the generated text
	Response string

	// ResponseChars is the response length in runes
	ResponseChars int

	// TokensEstimate is a word-based estimate of the response size
	TokensEstimate int

	// ErrorCode and ErrorMessage are set when the analysis failed
	ErrorCode    *string
	ErrorMessage *string

	// DurationMillis is the wall time of preparation plus generation
	DurationMillis int64

	// CreatedAt is the Unix timestamp when the analysis started
	CreatedAt int64
}

// Succeeded reports whether the analysis produced a response.
func (a *Analysis) Succeeded() bool {
	return a.ErrorCode == nil
}

// SetResponse stores text and recomputes the derived size fields.
func (a *Analysis) SetResponse(text string) {
	a.Response = text
	a.ResponseChars = CountChars(text)
	a.TokensEstimate = EstimateTokens(text)
}
