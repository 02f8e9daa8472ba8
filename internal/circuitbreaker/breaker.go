// Package circuitbreaker implements a three-state breaker used by the REST
// transport to shed load when the exchange is consistently failing.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	// StateClosed admits all requests.
	StateClosed State = iota
	// StateOpen rejects all requests until the cool-off expires.
	StateOpen
	// StateHalfOpen admits probe requests after the cool-off.
	StateHalfOpen
)

// String returns the string representation of the breaker state.
func (s State) String() string {
	return [...]string{"CLOSED", "OPEN", "HALF_OPEN"}[s]
}

// Config controls breaker thresholds.
type Config struct {
	// FailThreshold is the number of consecutive failures that opens the breaker.
	FailThreshold int
	// SuccessThreshold is the number of consecutive half-open successes that closes it.
	SuccessThreshold int
	// Timeout is the cool-off before an open breaker admits probes.
	Timeout time.Duration
}

// Breaker is a consecutive-failure circuit breaker. Safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	cfg       Config
}

// New creates a closed Breaker with the given config.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg}
}

// Allow reports whether a request may proceed, transitioning to half-open
// when the cool-off has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.Timeout {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false
	}
	return false
}

// Record feeds a request outcome into the breaker.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.FailThreshold {
			b.state = StateOpen
			b.openedAt = time.Now()
		}
	case StateHalfOpen:
		if !success {
			b.state = StateOpen
			b.openedAt = time.Now()
			return
		}
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
		}
	case StateOpen:
		// Outcomes of requests admitted before the breaker opened.
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
}
