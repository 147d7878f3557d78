package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestBreaker_StartsClosed(t *testing.T) {
	b := New(DefaultConfig("test"))

	if b.State() != StateClosed {
		t.Errorf("expected StateClosed, got %v", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New(Config{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  100 * time.Millisecond,
	})

	for i := 0; i < 2; i++ {
		b.RecordFailure(errBoom)
		if b.State() != StateClosed {
			t.Fatalf("expected StateClosed after %d failures, got %v", i+1, b.State())
		}
	}

	b.RecordFailure(errBoom)
	if b.State() != StateOpen {
		t.Errorf("expected StateOpen after 3 failures, got %v", b.State())
	}
}

func TestBreaker_RejectsWhenOpenWithRemainingTime(t *testing.T) {
	b := New(Config{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Second,
	})

	b.RecordFailure(errBoom)
	b.RecordFailure(errBoom)

	err := b.Allow()
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected *OpenError, got %v", err)
	}
	if openErr.Name != "test" {
		t.Errorf("expected breaker name in error, got %q", openErr.Name)
	}
	if openErr.Remaining <= 0 {
		t.Errorf("expected positive remaining recovery time, got %v", openErr.Remaining)
	}

	if got := b.Stats().RejectedCalls; got != 1 {
		t.Errorf("expected 1 rejected call, got %d", got)
	}
}

func TestBreaker_TransitionsToHalfOpenOnStateQuery(t *testing.T) {
	b := New(Config{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	b.RecordFailure(errBoom)
	b.RecordFailure(errBoom)

	time.Sleep(60 * time.Millisecond)

	// The state query itself must promote OPEN to HALF_OPEN, before any call.
	if b.State() != StateHalfOpen {
		t.Errorf("expected StateHalfOpen after recovery timeout, got %v", b.State())
	}
}

func TestBreaker_ClosesAfterSuccessesInHalfOpen(t *testing.T) {
	b := New(Config{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 2,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	b.RecordFailure(errBoom)
	b.RecordFailure(errBoom)
	time.Sleep(60 * time.Millisecond)

	if b.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Errorf("expected StateHalfOpen after first success, got %v", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("expected StateClosed after second success, got %v", b.State())
	}
}

func TestBreaker_ReopensOnSingleFailureInHalfOpen(t *testing.T) {
	b := New(Config{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 3,
		RecoveryTimeout:  50 * time.Millisecond,
	})

	b.RecordFailure(errBoom)
	b.RecordFailure(errBoom)
	time.Sleep(60 * time.Millisecond)
	b.State()

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure(errBoom)

	if b.State() != StateOpen {
		t.Errorf("expected StateOpen after failure in half-open, got %v", b.State())
	}
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b := New(Config{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  time.Second,
	})

	b.RecordFailure(errBoom)
	b.RecordFailure(errBoom)
	b.RecordSuccess()

	stats := b.Stats()
	if stats.ConsecutiveFailures != 0 {
		t.Errorf("expected failure streak reset, got %d", stats.ConsecutiveFailures)
	}
	if stats.ConsecutiveSuccesses != 1 {
		t.Errorf("expected success streak 1, got %d", stats.ConsecutiveSuccesses)
	}

	b.RecordFailure(errBoom)
	b.RecordFailure(errBoom)
	if b.State() != StateClosed {
		t.Errorf("expected StateClosed, streak was reset by success, got %v", b.State())
	}
}

func TestBreaker_ExcludedErrorsDoNotCount(t *testing.T) {
	errIgnored := errors.New("validation failed")
	b := New(Config{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Second,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errIgnored)
		},
	})

	b.RecordFailure(errIgnored)
	if b.State() != StateClosed {
		t.Errorf("expected excluded error to leave breaker closed, got %v", b.State())
	}
	if b.Stats().FailedCalls != 0 {
		t.Errorf("expected 0 failed calls, got %d", b.Stats().FailedCalls)
	}

	b.RecordFailure(errBoom)
	if b.State() != StateOpen {
		t.Errorf("expected counted error to open breaker, got %v", b.State())
	}
}

func TestBreaker_ExecuteRecordsOnce(t *testing.T) {
	b := New(Config{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Second,
	})

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped operation error, got %v", err)
	}

	stats := b.Stats()
	if stats.TotalCalls != 2 || stats.SuccessfulCalls != 1 || stats.FailedCalls != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestBreaker_ExecuteRejectsWithoutRunning(t *testing.T) {
	b := New(Config{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Second,
	})

	b.RecordFailure(errBoom)

	ran := false
	err := b.Execute(func() error { ran = true; return nil })

	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected *OpenError, got %v", err)
	}
	if ran {
		t.Error("operation must not run while circuit is open")
	}
}

func TestBreaker_ManualResetClosesFromOpen(t *testing.T) {
	b := New(Config{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Hour,
	})

	b.RecordFailure(errBoom)
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State())
	}

	b.Reset()

	if b.State() != StateClosed {
		t.Errorf("expected StateClosed after reset, got %v", b.State())
	}
	stats := b.Stats()
	if stats.ConsecutiveFailures != 0 || stats.ConsecutiveSuccesses != 0 {
		t.Errorf("expected streaks zeroed, got %+v", stats)
	}
}

// Scenario from the runbook: threshold=2, recovery=100ms.
func TestBreaker_RecoveryScenario(t *testing.T) {
	b := New(Config{
		Name:             "ollama",
		FailureThreshold: 2,
		SuccessThreshold: 2,
		RecoveryTimeout:  100 * time.Millisecond,
	})

	b.RecordFailure(errBoom)
	b.RecordFailure(errBoom)
	if b.State() != StateOpen {
		t.Fatalf("expected StateOpen after two failures, got %v", b.State())
	}

	var openErr *OpenError
	if err := b.Allow(); !errors.As(err, &openErr) || openErr.Remaining <= 0 {
		t.Fatalf("expected rejection with remaining time, got %v", err)
	}

	time.Sleep(150 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen after sleep, got %v", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen after one success, got %v", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected StateClosed after second success, got %v", b.State())
	}
}

func TestRegistry_GetCreatesAndReuses(t *testing.T) {
	r := NewRegistry()

	b1 := r.Get("ollama", nil)
	b2 := r.Get("ollama", nil)
	if b1 != b2 {
		t.Error("expected same breaker instance for same name")
	}

	b3 := r.Get("bedrock", nil)
	if b1 == b3 {
		t.Error("expected different breaker for different name")
	}
}

func TestRegistry_AllStatsAndResetAll(t *testing.T) {
	r := NewRegistry()

	cfg := Config{Name: "a", FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Hour}
	r.Get("a", &cfg).RecordFailure(errBoom)
	r.Get("b", nil)

	stats := r.AllStats()
	if len(stats) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(stats))
	}
	if stats["a"].State != "open" {
		t.Errorf("expected breaker a open, got %q", stats["a"].State)
	}
	if stats["b"].State != "closed" {
		t.Errorf("expected breaker b closed, got %q", stats["b"].State)
	}

	r.ResetAll()
	if r.AllStats()["a"].State != "closed" {
		t.Error("expected breaker a closed after ResetAll")
	}
}

func TestRegistry_LookupMissing(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Lookup("nope"); err == nil {
		t.Error("expected error for unknown breaker")
	}
	if err := r.Reset("nope"); err == nil {
		t.Error("expected error resetting unknown breaker")
	}
}
