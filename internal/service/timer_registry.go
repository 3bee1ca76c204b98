package service

import (
	"sync"
	"time"
)

// gauge is the part of a Prometheus gauge the registry reports to.
type gauge interface {
	Set(float64)
}

// TimerRegistry holds at most one pending deletion timer per upload id.
// Scheduling an id that already has a timer stops the old one first.
// Timers are in memory only; the expiration sweep covers what a restart
// loses.
type TimerRegistry struct {
	mu      sync.Mutex
	timers  map[string]*pendingTimer
	pending gauge
	stopped bool
}

type pendingTimer struct {
	timer *time.Timer
}

func NewTimerRegistry(pending gauge) *TimerRegistry {
	return &TimerRegistry{timers: make(map[string]*pendingTimer), pending: pending}
}

// Schedule runs fn after d unless the id is rescheduled or canceled first.
// A callback that has started is never interrupted.
func (r *TimerRegistry) Schedule(id string, d time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if old, ok := r.timers[id]; ok {
		old.timer.Stop()
	}

	entry := &pendingTimer{}
	// The callback needs the lock, so it cannot observe the map before the
	// entry is stored below.
	entry.timer = time.AfterFunc(d, func() {
		r.mu.Lock()
		current, ok := r.timers[id]
		own := ok && current == entry
		if own {
			delete(r.timers, id)
			r.report()
		}
		r.mu.Unlock()
		if own {
			fn()
		}
	})
	r.timers[id] = entry
	r.report()
}

// Cancel stops the pending timer for id. It reports false when there was
// nothing pending, including when the timer already fired.
func (r *TimerRegistry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.timers[id]
	if !ok {
		return false
	}
	delete(r.timers, id)
	r.report()
	return entry.timer.Stop()
}

func (r *TimerRegistry) Pending(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[id]
	return ok
}

func (r *TimerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels every pending timer and rejects new ones.
func (r *TimerRegistry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.timers {
		entry.timer.Stop()
		delete(r.timers, id)
	}
	r.stopped = true
	r.report()
}

func (r *TimerRegistry) report() {
	if r.pending != nil {
		r.pending.Set(float64(len(r.timers)))
	}
}
