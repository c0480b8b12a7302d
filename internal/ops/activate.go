package ops

import (
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/perch/internal/payload"
	"github.com/hpungsan/perch/internal/record"
)

// ActivateInput is what the shell integration hands over on launch.
type ActivateInput struct {
	Args []string
	Cwd  string
}

// ActivateOutput contains the result of the Activate operation.
type ActivateOutput struct {
	ID        string                 `json:"id"`
	Payload   *payload.LaunchPayload `json:"payload"`
	Delivered bool                   `json:"delivered"`
}

// Activate records the raw arguments, parses them and hands the payload to the
// UI surface. A parse failure is logged and returned; it never stops the process.
// The activation row is written either way.
func Activate(env *Env, input ActivateInput) (*ActivateOutput, error) {
	store := env.Store()
	store.SetActivationArgs(input.Args)

	now := time.Now()
	id, err := newID(now)
	if err != nil {
		return nil, err
	}
	row := &record.Activation{
		ID:        id,
		Args:      input.Args,
		Cwd:       input.Cwd,
		Paths:     []string{},
		CreatedAt: now.Unix(),
	}

	p, parseErr := payload.Parse(input.Args)
	if parseErr != nil {
		msg := parseErr.Error()
		row.ParseError = &msg
		store.Logf("parse failed: %s", msg)
		env.recordActivation(row)
		return nil, parseErr
	}

	kind := string(p.Context.Kind())
	row.Kind = &kind
	row.Paths = p.Context.Paths()
	env.recordActivation(row)

	delivered := env.Handoff.Deliver(p)
	env.Logger.Info("activation resolved",
		zap.String("id", id),
		zap.String("kind", kind),
		zap.Int("paths", len(row.Paths)),
		zap.Bool("delivered", delivered))

	return &ActivateOutput{
		ID:        id,
		Payload:   p.Clone(),
		Delivered: delivered,
	}, nil
}
