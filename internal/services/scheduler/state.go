package scheduler

import (
	"sync"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/metrics"
)

// Handle is an armed one-shot trigger.
type Handle interface {
	// Disarm stops the trigger. It reports false if the trigger already fired
	// or was disarmed before.
	Disarm() bool
}

// Deferrer arms one-shot triggers.
type Deferrer interface {
	Arm(delay time.Duration, fn func()) Handle
}

// TimerDeferrer arms triggers with time.AfterFunc.
type TimerDeferrer struct{}

// Arm runs fn in its own goroutine after delay.
func (TimerDeferrer) Arm(delay time.Duration, fn func()) Handle {
	return timerHandle{time.AfterFunc(delay, fn)}
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Disarm() bool {
	return h.t.Stop()
}

// entry is one armed task. Its address identifies the arming, so a trigger
// that fires after its task was re-armed or cancelled can tell it is stale.
type entry struct {
	handle Handle
}

// State is the process-local table of armed tasks. It is rebuilt from the
// task store on startup.
type State struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// NewState creates an empty table.
func NewState() *State {
	return &State{entries: make(map[string]*entry)}
}

// arm records a new entry for id and arms it while holding the lock, so the
// trigger cannot observe the table before the entry is in place. The entry it
// replaces, if any, is disarmed.
func (s *State) arm(id string, d Deferrer, delay time.Duration, fire func(*entry)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	prev := s.entries[id]
	e := &entry{}
	e.handle = d.Arm(delay, func() { fire(e) })
	s.entries[id] = e
	n := len(s.entries)
	s.mu.Unlock()

	if prev != nil {
		prev.handle.Disarm()
	}
	metrics.ScheduledTasksArmed.Set(float64(n))
	return true
}

// disarm stops and removes the entry for id, if any.
func (s *State) disarm(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	n := len(s.entries)
	s.mu.Unlock()

	if !ok {
		return false
	}
	e.handle.Disarm()
	metrics.ScheduledTasksArmed.Set(float64(n))
	return true
}

// claim reports whether e is still the live entry for id and, if so, runs
// onClaim under the lock.
func (s *State) claim(id string, e *entry, onClaim func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.entries[id] != e {
		return false
	}
	onClaim()
	return true
}

// release removes the entry for id only if it is still e.
func (s *State) release(id string, e *entry) {
	s.mu.Lock()
	if s.entries[id] == e {
		delete(s.entries, id)
	}
	n := len(s.entries)
	s.mu.Unlock()

	metrics.ScheduledTasksArmed.Set(float64(n))
}

// shutdown disarms every entry and refuses further arming.
func (s *State) shutdown() {
	s.mu.Lock()
	s.closed = true
	entries := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range entries {
		e.handle.Disarm()
	}
	metrics.ScheduledTasksArmed.Set(0)
}

func (s *State) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

func (s *State) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
