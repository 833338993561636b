package game

import (
	"sync"
	"time"
)

// ScoringScheduler holds at most one pending forced-finalize action per
// room. Scheduling replaces any prior pending action for that room;
// cancellation guarantees the action never fires afterwards.
type ScoringScheduler struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
	fire    func(roomCode string)
}

func NewScoringScheduler(fire func(roomCode string)) *ScoringScheduler {
	return &ScoringScheduler{
		pending: make(map[string]*time.Timer),
		fire:    fire,
	}
}

// Schedule arms the deferred action for a room, replacing any pending one.
func (s *ScoringScheduler) Schedule(roomCode string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.pending[roomCode]; ok {
		prev.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		current, ok := s.pending[roomCode]
		if !ok || current != timer {
			// Canceled or replaced after this callback was already queued.
			s.mu.Unlock()
			return
		}
		delete(s.pending, roomCode)
		s.mu.Unlock()

		s.fire(roomCode)
	})
	s.pending[roomCode] = timer
}

// Cancel disarms the pending action for a room, if any.
func (s *ScoringScheduler) Cancel(roomCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.pending[roomCode]; ok {
		timer.Stop()
		delete(s.pending, roomCode)
	}
}
