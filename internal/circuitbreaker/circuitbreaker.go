// Package circuitbreaker implements the circuit breaker pattern for failure protection.
// It prevents cascading failures by failing fast when a dependency is unhealthy.
//
// States:
//   - Closed: Normal operation, calls pass through
//   - Open: Dependency unhealthy, calls rejected immediately
//   - Half-Open: Testing recovery, limited calls allowed
package circuitbreaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oncallops/answergate/internal/metrics"
)

// State represents the current state of a circuit breaker.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing fast
	StateHalfOpen              // Testing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config defines circuit breaker behavior. IsFailure classifies which errors
// move the failure counters; errors it rejects (for example caller input
// errors) pass through without touching breaker state. A nil IsFailure counts
// every error.
type Config struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	IsFailure        func(error) bool
}

// DefaultConfig returns sensible defaults for most dependencies.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
	}
}

// ForProvider returns the preset used for model provider calls.
func ForProvider(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Stats is a snapshot of breaker counters for monitoring.
type Stats struct {
	TotalCalls           int64      `json:"total_calls"`
	SuccessfulCalls      int64      `json:"successful_calls"`
	FailedCalls          int64      `json:"failed_calls"`
	RejectedCalls        int64      `json:"rejected_calls"`
	StateTransitions     int64      `json:"state_transitions"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	LastFailureTime      *time.Time `json:"last_failure_time,omitempty"`
	LastSuccessTime      *time.Time `json:"last_success_time,omitempty"`
}

// OpenError is returned when the circuit is open and a call is rejected.
// Remaining reports how long until the breaker will probe recovery.
type OpenError struct {
	Name      string
	Remaining time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, recovery in %s", e.Name, e.Remaining.Round(time.Millisecond))
}

// Breaker tracks failures for a single dependency and gates calls to it.
// All state is guarded by mu; the OPEN -> HALF_OPEN transition happens lazily
// whenever the state is queried after the recovery timeout elapsed.
type Breaker struct {
	mu              sync.Mutex
	config          Config
	state           State
	stats           Stats
	lastStateChange time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 1
	}
	return &Breaker{
		config:          cfg,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

func (b *Breaker) Name() string { return b.config.Name }

// State returns the current state, promoting OPEN to HALF_OPEN once the
// recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && time.Since(b.lastStateChange) >= b.config.RecoveryTimeout {
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Allow checks whether a call may proceed. It returns an *OpenError carrying
// the remaining recovery time when the circuit is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stateLocked() == StateOpen {
		b.stats.RejectedCalls++
		remaining := b.config.RecoveryTimeout - time.Since(b.lastStateChange)
		if remaining < 0 {
			remaining = 0
		}
		return &OpenError{Name: b.config.Name, Remaining: remaining}
	}
	return nil
}

// RecordSuccess records a successful call. A success always resets the
// failure streak; enough successes in half-open close the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.stats.TotalCalls++
	b.stats.SuccessfulCalls++
	b.stats.ConsecutiveSuccesses++
	b.stats.ConsecutiveFailures = 0
	b.stats.LastSuccessTime = &now

	if b.state == StateHalfOpen && b.stats.ConsecutiveSuccesses >= b.config.SuccessThreshold {
		b.transitionLocked(StateClosed)
	}
}

// RecordFailure records a failed call. Any failure while half-open re-opens
// the circuit immediately; reaching the failure threshold while closed opens it.
func (b *Breaker) RecordFailure(err error) {
	if b.config.IsFailure != nil && !b.config.IsFailure(err) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.stats.TotalCalls++
	b.stats.FailedCalls++
	b.stats.ConsecutiveFailures++
	b.stats.ConsecutiveSuccesses = 0
	b.stats.LastFailureTime = &now

	slog.Warn("circuit breaker failure",
		"breaker", b.config.Name,
		"state", b.state.String(),
		"consecutive_failures", b.stats.ConsecutiveFailures,
		"error", err,
	)

	switch b.state {
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	case StateClosed:
		if b.stats.ConsecutiveFailures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	}
}

// Execute runs fn under circuit breaker protection. Success and failure are
// recorded exactly once per call; errors are returned unchanged so callers
// keep their own error handling.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		b.RecordFailure(err)
		return err
	}

	b.RecordSuccess()
	return nil
}

// ExecuteContext runs fn under circuit breaker protection, passing ctx
// through to the operation. It shares the exact transition logic of Execute.
func (b *Breaker) ExecuteContext(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		b.RecordFailure(err)
		return err
	}

	b.RecordSuccess()
	return nil
}

// Reset forces the breaker closed and zeroes both streaks. This is an
// operator escape hatch and is logged distinctly from automatic transitions.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitionLocked(StateClosed)
	b.stats.ConsecutiveFailures = 0
	b.stats.ConsecutiveSuccesses = 0

	slog.Info("circuit breaker manual reset", "breaker", b.config.Name)
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}

	b.state = to
	b.lastStateChange = time.Now()
	b.stats.StateTransitions++
	metrics.SetCircuitBreakerState(b.config.Name, int(to))

	slog.Info("circuit breaker transition",
		"breaker", b.config.Name,
		"from", from.String(),
		"to", to.String(),
		"consecutive_failures", b.stats.ConsecutiveFailures,
		"consecutive_successes", b.stats.ConsecutiveSuccesses,
	)
}
