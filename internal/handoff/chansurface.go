package handoff

import (
	"sync"

	"github.com/hpungsan/perch/internal/payload"
)

// EventKind names a surface call.
type EventKind string

const (
	EventPosition    EventKind = "position"
	EventShow        EventKind = "show"
	EventFocus       EventKind = "focus"
	EventLoadContext EventKind = "load-context"
)

// Event is one Surface call turned into a message.
type Event struct {
	Kind    EventKind              `json:"kind"`
	Coords  *payload.Coords        `json:"coords,omitempty"`
	Payload *payload.LaunchPayload `json:"payload,omitempty"`
}

// ChanSurface is a Surface that sends every call as an Event, so the consumer
// mutates its UI on its own goroutine. Sends block until received or Close.
type ChanSurface struct {
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewChanSurface returns a ChanSurface with the given channel buffer.
func NewChanSurface(buffer int) *ChanSurface {
	return &ChanSurface{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Events is the receive side.
func (s *ChanSurface) Events() <-chan Event {
	return s.events
}

// Close unblocks pending and future sends. Events is never closed.
func (s *ChanSurface) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *ChanSurface) Position(c payload.Coords) {
	s.emit(Event{Kind: EventPosition, Coords: &c})
}

func (s *ChanSurface) Show()  { s.emit(Event{Kind: EventShow}) }
func (s *ChanSurface) Focus() { s.emit(Event{Kind: EventFocus}) }

func (s *ChanSurface) Push(p *payload.LaunchPayload) {
	s.emit(Event{Kind: EventLoadContext, Payload: p.Clone()})
}

func (s *ChanSurface) emit(ev Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}
