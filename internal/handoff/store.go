package handoff

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/perch/internal/logging"
	"github.com/hpungsan/perch/internal/payload"
)

// DefaultLogCapacity is the diagnostic ring size.
const DefaultLogCapacity = 200

// Snapshot is the diagnostics view of the store.
type Snapshot struct {
	Logs           []string               `json:"logs"`
	LastPayload    *payload.LaunchPayload `json:"last_payload"`
	ActivationArgs []string               `json:"activation_args"`
}

// Store holds the most recent payload, the raw activation arguments and a
// bounded log ring. It lives for the whole process.
type Store struct {
	mu       sync.Mutex
	last     *payload.LaunchPayload
	args     []string
	logs     []string
	head     int
	capacity int

	logger *zap.Logger
	now    func() time.Time
}

// NewStore returns a Store whose ring keeps the newest capacity entries.
func NewStore(capacity int, logger *zap.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Store{
		capacity: capacity,
		logs:     make([]string, 0, capacity),
		logger:   logging.OrNop(logger),
		now:      time.Now,
	}
}

// SetActivationArgs records the raw argument vector of the latest activation.
func (s *Store) SetActivationArgs(args []string) {
	cp := append([]string{}, args...)
	s.mu.Lock()
	s.args = cp
	s.mu.Unlock()
	s.Logf("activation args: %q", cp)
}

// Put replaces the last payload. Last writer wins.
func (s *Store) Put(p *payload.LaunchPayload) {
	cp := p.Clone()
	s.mu.Lock()
	s.last = cp
	s.mu.Unlock()
	if cp != nil && cp.Context != nil {
		s.Logf("stored payload kind=%s items=%d", cp.Context.Kind(), len(cp.Context.Paths()))
	}
}

// Last returns a copy of the last payload, or nil.
func (s *Store) Last() *payload.LaunchPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Clone()
}

// Logf appends a timestamped entry to the ring, evicting the oldest when full,
// and mirrors it to the debug log.
func (s *Store) Logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	entry := fmt.Sprintf("[%s] %s", s.now().Format("2006-01-02T15:04:05.000Z07:00"), msg)

	s.mu.Lock()
	if len(s.logs) < s.capacity {
		s.logs = append(s.logs, entry)
	} else {
		s.logs[s.head] = entry
		s.head = (s.head + 1) % s.capacity
	}
	s.mu.Unlock()

	s.logger.Debug(msg, zap.String("component", "handoff"))
}

// Logs returns ring entries oldest first.
func (s *Store) Logs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logsLocked()
}

func (s *Store) logsLocked() []string {
	out := make([]string, 0, len(s.logs))
	out = append(out, s.logs[s.head:]...)
	out = append(out, s.logs[:s.head]...)
	return out
}

// Snapshot returns a consistent copy of the store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Logs:           s.logsLocked(),
		LastPayload:    s.last.Clone(),
		ActivationArgs: append([]string{}, s.args...),
	}
}
