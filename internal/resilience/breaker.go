// Package resilience keeps provider outages from cascading into dead
// interviews. A [CircuitBreaker] stops hammering a backend that keeps
// failing, and a [FallbackGroup] routes around it to the next configured
// backend of the same kind.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hireloop-ai/hireloop/internal/clock"
)

// ErrOpen is returned when a breaker rejects a call without attempting it.
var ErrOpen = errors.New("resilience: circuit open")

// State is the breaker's operating mode.
type State int

const (
	// Closed forwards every call.
	Closed State = iota
	// Open rejects every call until the cooldown elapses.
	Open
	// HalfOpen lets a bounded number of probe calls through to decide
	// whether the backend has recovered.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs.
	Name string

	// FailureLimit is how many consecutive failures trip the breaker.
	// Default 5.
	FailureLimit int

	// Cooldown is how long the breaker stays open before probing.
	// Default 30s.
	Cooldown time.Duration

	// ProbeBudget is how many half-open probes must succeed before the
	// breaker closes again. Default 3.
	ProbeBudget int

	// Clock defaults to the system clock.
	Clock clock.Clock
}

// CircuitBreaker is a three-state breaker: closed until FailureLimit
// consecutive failures, open for Cooldown, then half-open until ProbeBudget
// probes succeed (any probe failure reopens it).
type CircuitBreaker struct {
	name        string
	limit       int
	cooldown    time.Duration
	probeBudget int
	clk         clock.Clock

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int
	probeOKs  int
}

// NewBreaker creates a [CircuitBreaker] from cfg.
func NewBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	return &CircuitBreaker{
		name:        cfg.Name,
		limit:       cfg.FailureLimit,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.ProbeBudget,
		clk:         cfg.Clock,
	}
}

// Do runs fn if the breaker allows it, returning [ErrOpen] otherwise.
func (b *CircuitBreaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if b.clk.Now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probes = 0
		b.probeOKs = 0
		slog.Info("breaker probing", "name", b.name)
	case HalfOpen:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == HalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure is called with b.mu held.
func (b *CircuitBreaker) onFailure(probing bool) {
	if probing {
		// One bad probe is enough; back to open for another cooldown.
		b.state = Open
		b.openedAt = b.clk.Now()
		b.failures = b.limit
		slog.Warn("breaker reopened", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.limit && b.state == Closed {
		b.state = Open
		b.openedAt = b.clk.Now()
		slog.Warn("breaker opened", "name", b.name, "failures", b.failures)
	}
}

// onSuccess is called with b.mu held.
func (b *CircuitBreaker) onSuccess(probing bool) {
	if probing {
		b.probeOKs++
		if b.probeOKs >= b.probeBudget {
			b.state = Closed
			b.failures = 0
			slog.Info("breaker closed", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's mode, accounting for an elapsed cooldown.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.clk.Now().Sub(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probes = 0
	b.probeOKs = 0
}
