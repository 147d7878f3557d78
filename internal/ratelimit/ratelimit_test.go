package ratelimit

import "testing"

func TestLimiter_AllowsUnderLimit(t *testing.T) {
	l := New()

	for i := 0; i < 3; i++ {
		allowed, _, _ := l.Allow("ollama", 3)
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, remaining, _ := l.Allow("ollama", 3)
	if allowed {
		t.Error("fourth request should be rejected")
	}
	if remaining != 0 {
		t.Errorf("expected 0 remaining, got %d", remaining)
	}
}

func TestLimiter_WindowsAreIndependent(t *testing.T) {
	l := New()

	l.Allow("ollama", 1)
	if allowed, _, _ := l.Allow("ollama", 1); allowed {
		t.Error("ollama should be at limit")
	}
	if allowed, _, _ := l.Allow("bedrock", 1); !allowed {
		t.Error("bedrock window should be untouched")
	}
}

func TestLimiter_WouldAllowDoesNotConsume(t *testing.T) {
	l := New()

	for i := 0; i < 10; i++ {
		if !l.WouldAllow("ollama", 1) {
			t.Fatal("WouldAllow must not consume quota")
		}
	}

	l.Allow("ollama", 1)
	if l.WouldAllow("ollama", 1) {
		t.Error("expected no headroom after limit reached")
	}
}

func TestLimiter_ZeroLimitMeansUnlimited(t *testing.T) {
	l := New()

	for i := 0; i < 100; i++ {
		if allowed, _, _ := l.Allow("local", 0); !allowed {
			t.Fatal("limit 0 should never reject")
		}
	}
	if l.CurrentRPM("local") != 0 {
		t.Error("unlimited providers should not accumulate a window")
	}
}

func TestLimiter_CurrentRPM(t *testing.T) {
	l := New()

	l.Allow("ollama", 10)
	l.Allow("ollama", 10)

	if got := l.CurrentRPM("ollama"); got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}
