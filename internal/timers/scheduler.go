// Package timers provides the scheduled-timer facility shared by the session
// manager and the override engine. Each entity owns independent keyed timers;
// cancelling a key is deterministic, so a removed entity can never be acted on
// by a stale callback that has not yet fired.
package timers

import (
	"sync"
	"time"
)

// Scheduler tracks one-shot timers keyed by an entity-scoped name such as
// "session.expiry:<id>". Scheduling an existing key replaces the pending timer.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// New constructs an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms a one-shot timer for the key. A non-positive delay fires the
// callback asynchronously as soon as the runtime allows. The callback runs on
// a timer goroutine; callers are responsible for serializing it against direct
// mutations on the same entity (the owning component's lock).
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	if key == "" || fn == nil {
		return
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if existing, ok := s.timers[key]; ok {
		existing.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		// Only dispatch if this timer is still the registered one for the key;
		// a replace or cancel that raced the firing wins.
		current, ok := s.timers[key]
		if !ok || current != timer || s.closed {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()

		fn()
	})

	s.timers[key] = timer
}

// Cancel stops and forgets the timer for the key. It reports whether a pending
// timer was found.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[key]
	if !ok {
		return false
	}

	timer.Stop()
	delete(s.timers, key)
	return true
}

// Pending reports whether a timer is currently armed for the key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[key]
	return ok
}

// Len returns the number of armed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers)
}

// Stop cancels every armed timer and refuses further scheduling. Used during
// shutdown so no callback mutates state after services are torn down.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
}
