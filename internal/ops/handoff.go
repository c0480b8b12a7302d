package ops

import (
	"github.com/hpungsan/perch/internal/handoff"
)

// Snapshot returns the diagnostics view of the handoff store.
func Snapshot(env *Env) handoff.Snapshot {
	return env.Store().Snapshot()
}

// ReemitOutput contains the result of the Reemit operation.
type ReemitOutput struct {
	Reemitted bool `json:"reemitted"`
}

// Reemit pushes the last payload to the attached surface again (debug).
func Reemit(env *Env) *ReemitOutput {
	return &ReemitOutput{Reemitted: env.Handoff.Reemit()}
}

// ReadyOutput contains the result of the Ready operation.
type ReadyOutput struct {
	Delivered bool `json:"delivered"`
}

// Ready forwards the surface's ready signal.
func Ready(env *Env) *ReadyOutput {
	return &ReadyOutput{Delivered: env.Handoff.Ready()}
}
