package ops

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hpungsan/perch/internal/errors"
	"github.com/hpungsan/perch/internal/ollama"
	"github.com/hpungsan/perch/internal/record"
)

// Actions lists the actions a user can run on free text.
var Actions = []string{"summarize", "rewrite", "translate", "analyze"}

// ActionInput contains parameters for the RunAction operation.
type ActionInput struct {
	Action string // one of Actions, case-insensitive
	Input  string // required
}

// ActionOutput contains the result of the RunAction operation.
type ActionOutput struct {
	Action   string `json:"action"`
	Model    string `json:"model"`
	Response string `json:"response"`
}

// RunAction formats action and input into a prompt and generates a response.
// Only one generation runs at a time.
func RunAction(ctx context.Context, env *Env, input ActionInput) (*ActionOutput, error) {
	action := record.NormalizeAction(input.Action)
	if !slices.Contains(Actions, action) {
		return nil, errors.NewInvalidRequest(
			fmt.Sprintf("unknown action %q (expected one of: %s)", input.Action, strings.Join(Actions, ", ")))
	}
	if strings.TrimSpace(input.Input) == "" {
		return nil, errors.NewInvalidRequest("input is required")
	}
	if err := env.requireGenerator(); err != nil {
		return nil, err
	}

	token, err := env.Guard.TryAcquire()
	if err != nil {
		return nil, err
	}
	defer token.Release()

	response, err := env.Generator.Generate(ctx, ollama.Request{Prompt: ollama.FormatPrompt(action, input.Input)})
	if err != nil {
		env.Store().Logf("action %s failed: %v", action, err)
		return nil, err
	}
	return &ActionOutput{Action: action, Model: env.Generator.Model(), Response: response}, nil
}

// HealthOutput is the availability of the text-generation service.
type HealthOutput struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
	Busy    bool   `json:"busy"`
}

// Health checks the text-generation service. An unavailable service is reported
// in the output, not as an error.
func Health(ctx context.Context, env *Env) *HealthOutput {
	out := &HealthOutput{Busy: env.Guard.Busy()}
	if err := env.requireGenerator(); err != nil {
		out.Message = err.Error()
		return out
	}
	out.Model = env.Generator.Model()

	msg, err := env.Generator.Health(ctx)
	if err != nil {
		out.Message = err.Error()
		return out
	}
	out.OK = true
	out.Message = msg
	return out
}

// PullOutput contains the result of the Pull operation.
type PullOutput struct {
	Model  string `json:"model"`
	Output string `json:"output"`
}

// Pull downloads model, or the configured model when empty.
func Pull(ctx context.Context, env *Env, model string) (*PullOutput, error) {
	if err := env.requireGenerator(); err != nil {
		return nil, err
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = env.Generator.Model()
	}
	out, err := env.Generator.Pull(ctx, model)
	if err != nil {
		env.Store().Logf("pull %s failed: %v", model, err)
		return nil, err
	}
	env.Store().Logf("pulled model %s", model)
	return &PullOutput{Model: model, Output: out}, nil
}
