package ops

import (
	"go.uber.org/zap"

	"github.com/hpungsan/perch/internal/db"
	"github.com/hpungsan/perch/internal/record"
)

// History is best effort: a failed write is logged and never fails the
// operation that produced the row.

func (e *Env) recordActivation(a *record.Activation) {
	if e.DB == nil {
		return
	}
	if err := db.InsertActivation(e.DB, a); err != nil {
		e.Logger.Warn("failed to record activation", zap.String("id", a.ID), zap.Error(err))
	}
}

func (e *Env) recordAnalysis(a *record.Analysis) {
	if e.DB == nil {
		return
	}
	if err := db.InsertAnalysis(e.DB, a); err != nil {
		e.Logger.Warn("failed to record analysis", zap.String("id", a.ID), zap.Error(err))
	}
}
