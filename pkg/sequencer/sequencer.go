// Package sequencer deduplicates and orders updates coming off the polling
// loop. The transport retries whole batches after a timeout, so the same
// update ID can arrive more than once; admission here is what makes handler
// execution exactly-once.
package sequencer

import "sync"

type Decision int

const (
	Accept Decision = iota
	Duplicate
)

// Admission is the outcome of admitting one update ID. GapLow/GapHigh carry
// the missing ID range when the accepted ID is not contiguous with the
// previous one; gaps are reported, never waited on.
type Admission struct {
	Decision Decision
	GapLow   int
	GapHigh  int
}

// HasGap reports whether the admission skipped over missing IDs.
func (a Admission) HasGap() bool {
	return a.GapHigh >= a.GapLow && a.GapLow > 0
}

// Stats are cumulative admission counters.
type Stats struct {
	Accepted   uint64
	Duplicates uint64
	Gaps       uint64 // total missing IDs observed, not gap events
}

// Sequencer tracks recently seen update IDs inside a bounded window and
// enforces non-decreasing emission. It is safe for concurrent use, though
// the polling loop is its only writer in practice.
type Sequencer struct {
	mu      sync.Mutex
	window  int
	seen    map[int]struct{}
	order   []int // insertion ring over seen, oldest first
	highest int
	stats   Stats
}

// New creates a sequencer remembering the last window IDs. The window only
// needs to cover one transport retry cycle (a single redelivered batch).
func New(window int) *Sequencer {
	if window <= 0 {
		window = 256
	}
	return &Sequencer{
		window: window,
		seen:   make(map[int]struct{}, window),
		order:  make([]int, 0, window),
	}
}

// Admit decides whether the update with the given ID should be processed.
// IDs at or below the highest admitted ID are duplicates: batches arrive in
// increasing-ID order, so anything older has already been handed off.
func (s *Sequencer) Admit(id int) Admission {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		s.stats.Duplicates++
		return Admission{Decision: Duplicate}
	}
	if s.highest != 0 && id <= s.highest {
		// Aged out of the window but still behind the cursor.
		s.stats.Duplicates++
		return Admission{Decision: Duplicate}
	}

	adm := Admission{Decision: Accept}
	if s.highest != 0 && id > s.highest+1 {
		adm.GapLow = s.highest + 1
		adm.GapHigh = id - 1
		s.stats.Gaps += uint64(id - s.highest - 1)
	}

	s.remember(id)
	s.highest = id
	s.stats.Accepted++
	return adm
}

func (s *Sequencer) remember(id int) {
	if len(s.order) >= s.window {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.seen, oldest)
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
}

// Highest returns the largest admitted update ID, 0 before any admission.
func (s *Sequencer) Highest() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highest
}

// Stats returns a snapshot of the admission counters.
func (s *Sequencer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
