// Package timer provides cancellable scheduled tasks for session upkeep:
// one-shot tasks (order recovery, reconnect delay) and periodic tasks
// (heartbeat, credential renewal, state polling).
package timer

import (
	"sync"
	"time"
)

// Task is a one-shot scheduled callback. Arm replaces any previously armed
// schedule, Cancel stops a pending fire. A fired or cancelled task can be
// re-armed. Exactly one of {fire, cancel} wins for a given Arm.
type Task struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// NewTask returns an unarmed task.
func NewTask() *Task {
	return &Task{}
}

// Arm schedules fn to run once after d, replacing any pending schedule.
func (t *Task) Arm(d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		stale := gen != t.gen
		if !stale {
			t.timer = nil
		}
		t.mu.Unlock()
		if !stale {
			fn()
		}
	})
}

// Cancel stops a pending fire. It returns true if a schedule was pending.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer == nil {
		return false
	}
	t.gen++
	stopped := t.timer.Stop()
	t.timer = nil
	return stopped
}

// Pending reports whether the task has an armed schedule that has not fired.
func (t *Task) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Ticker is a periodic scheduled callback. Start replaces any running
// schedule, Stop halts it. The callback never runs after Stop returns a
// confirmation via the stop channel being honored on the next tick.
type Ticker struct {
	mu   sync.Mutex
	stop chan struct{}
}

// NewTicker returns a stopped ticker.
func NewTicker() *Ticker {
	return &Ticker{}
}

// Start runs fn every interval until Stop is called. A running schedule is
// replaced.
func (t *Ticker) Start(interval time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		close(t.stop)
	}
	stop := make(chan struct{})
	t.stop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop halts the periodic schedule. Stopping a stopped ticker is a no-op.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// Running reports whether the ticker has an active schedule.
func (t *Ticker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}
