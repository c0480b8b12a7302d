// Package handoff bridges "payload resolved" and "UI consumed payload". A payload
// can arrive before any surface exists or is able to render, so delivery is tried
// immediately and again when the surface reports ready, with a fallback timer in
// case the ready signal never comes.
package handoff

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/perch/internal/logging"
	"github.com/hpungsan/perch/internal/payload"
)

// DefaultReadyFallback is how long a session waits for the ready signal.
const DefaultReadyFallback = 1500 * time.Millisecond

// Surface is the window-like consumer of payloads.
type Surface interface {
	Position(c payload.Coords)
	Show()
	Focus()
	// Push delivers the load-context event.
	Push(p *payload.LaunchPayload)
}

// Handoff routes payloads from the Store to the currently attached Surface.
type Handoff struct {
	store    *Store
	fallback time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	session *Session
}

// New returns a Handoff over store. A non-positive fallback uses DefaultReadyFallback.
func New(store *Store, fallback time.Duration, logger *zap.Logger) *Handoff {
	if fallback <= 0 {
		fallback = DefaultReadyFallback
	}
	return &Handoff{
		store:    store,
		fallback: fallback,
		logger:   logging.OrNop(logger),
	}
}

// Store returns the underlying payload store.
func (h *Handoff) Store() *Store {
	return h.store
}

// Session is one show cycle of a surface. Whichever of the ready signal or the
// fallback timer comes first shows the surface and pushes the last payload.
type Session struct {
	h       *Handoff
	surface Surface
	shown   atomic.Bool
	timer   *time.Timer
}

// Attach makes surface the delivery target, replacing any previous session, and
// starts the fallback timer.
func (h *Handoff) Attach(surface Surface) *Session {
	sess := &Session{h: h, surface: surface}
	sess.timer = time.AfterFunc(h.fallback, func() {
		if sess.showOnce(triggerFallback) {
			h.store.Logf("ready not observed within %s, fallback delivered", h.fallback)
		}
	})

	h.mu.Lock()
	prev := h.session
	h.session = sess
	h.mu.Unlock()

	if prev != nil {
		prev.timer.Stop()
	}
	h.store.Logf("surface attached")
	return sess
}

// Detach stops sess and clears it if it is still the current session.
func (h *Handoff) Detach(sess *Session) {
	if sess == nil {
		return
	}
	sess.timer.Stop()

	h.mu.Lock()
	current := h.session == sess
	if current {
		h.session = nil
	}
	h.mu.Unlock()

	if current {
		h.store.Logf("surface detached")
	}
}

func (h *Handoff) current() *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// Deliver stores p and, when a surface is attached, positions, shows and pushes
// to it right away. It reports whether an immediate push happened.
func (h *Handoff) Deliver(p *payload.LaunchPayload) bool {
	h.store.Put(p)

	sess := h.current()
	if sess == nil {
		h.store.Logf("no surface yet, payload waits for ready")
		return false
	}
	sess.deliver(h.store.Last())
	h.store.Logf("payload pushed to surface")
	return true
}

// Ready forwards the surface's one-time ready signal to the current session.
func (h *Handoff) Ready() bool {
	sess := h.current()
	if sess == nil {
		h.store.Logf("ready signal with no attached surface")
		return false
	}
	return sess.OnReady()
}

// Reemit pushes the last payload again regardless of the one-shot flag.
func (h *Handoff) Reemit() bool {
	last := h.store.Last()
	if last == nil {
		h.store.Logf("reemit requested with no payload")
		return false
	}
	sess := h.current()
	if sess == nil {
		h.store.Logf("reemit requested with no attached surface")
		return false
	}
	sess.surface.Push(last)
	h.store.Logf("payload re-emitted")
	return true
}

// OnReady handles the ready signal. It reports whether this call delivered.
func (s *Session) OnReady() bool {
	if !s.showOnce(triggerReady) {
		s.h.store.Logf("ready ignored, surface already shown")
		return false
	}
	s.h.store.Logf("ready received, surface shown")
	return true
}

// Shown reports whether the one-shot delivery happened.
func (s *Session) Shown() bool {
	return s.shown.Load()
}

const (
	triggerReady    = "ready"
	triggerFallback = "fallback"
)

func (s *Session) showOnce(trigger string) bool {
	if !s.shown.CompareAndSwap(false, true) {
		return false
	}
	// The timer callback must not touch s.timer; Attach may still be assigning it.
	if trigger != triggerFallback {
		s.timer.Stop()
	}

	last := s.h.store.Last()
	if last != nil && last.Coords != nil {
		s.surface.Position(*last.Coords)
	}
	s.surface.Show()
	s.surface.Focus()
	if last != nil {
		s.surface.Push(last)
	}
	s.h.logger.Debug("surface shown", zap.String("trigger", trigger))
	return true
}

func (s *Session) deliver(p *payload.LaunchPayload) {
	if p == nil {
		return
	}
	if p.Coords != nil {
		s.surface.Position(*p.Coords)
	}
	s.surface.Show()
	s.surface.Push(p)
}
