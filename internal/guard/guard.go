// Package guard serializes access to the text-generation service: at most one
// analysis runs at a time and a second request fails fast instead of queueing.
package guard

import (
	"sync"
	"sync/atomic"

	"github.com/hpungsan/perch/internal/errors"
)

// Guard is a two-state Idle/Busy flag.
type Guard struct {
	busy atomic.Bool
}

// Token is held by the single in-flight caller. Release it with defer.
type Token struct {
	g    *Guard
	once sync.Once
}

// New returns an idle Guard.
func New() *Guard {
	return &Guard{}
}

// TryAcquire moves Idle to Busy. It returns a BUSY error without changing state
// when an analysis is already running.
func (g *Guard) TryAcquire() (*Token, error) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, errors.NewBusy()
	}
	return &Token{g: g}, nil
}

// Busy reports whether a token is outstanding.
func (g *Guard) Busy() bool {
	return g.busy.Load()
}

// Release moves the guard back to Idle. Safe to call more than once.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.g.busy.Store(false)
	})
}
