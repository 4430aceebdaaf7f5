package state

import (
	"sync"
	"time"
)

// Scheduler coalesces transcript resync requests per session. Scheduling
// while a timer is pending replaces it, so a burst of hook events
// produces a single parse once the burst settles.
type Scheduler struct {
	mu     sync.Mutex
	delay  time.Duration
	timers map[string]*schedEntry
	fire   func(sessionID, cwd string)
	closed bool
}

type schedEntry struct {
	timer *time.Timer
	cwd   string
}

// NewScheduler builds a scheduler that invokes fire after delay of
// quiet time per session. fire runs on a timer goroutine.
func NewScheduler(delay time.Duration, fire func(sessionID, cwd string)) *Scheduler {
	return &Scheduler{
		delay:  delay,
		timers: make(map[string]*schedEntry),
		fire:   fire,
	}
}

// Schedule arms (or re-arms) the debounce timer for a session. The most
// recent cwd wins.
func (s *Scheduler) Schedule(sessionID, cwd string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if e, ok := s.timers[sessionID]; ok {
		e.timer.Stop()
	}
	e := &schedEntry{cwd: cwd}
	e.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if cur, ok := s.timers[sessionID]; !ok || cur != e {
			s.mu.Unlock()
			return
		}
		delete(s.timers, sessionID)
		s.mu.Unlock()
		s.fire(sessionID, e.cwd)
	})
	s.timers[sessionID] = e
}

// Cancel drops any pending timer for a session.
func (s *Scheduler) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[sessionID]; ok {
		e.timer.Stop()
		delete(s.timers, sessionID)
	}
}

// Close cancels every pending timer and rejects further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, id)
	}
}
