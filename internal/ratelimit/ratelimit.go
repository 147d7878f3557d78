// Package ratelimit tracks per-provider request rates.
// It uses a fixed per-minute window to enforce each provider's RPM limit;
// the router consults it when filtering candidates.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks requests-per-minute windows keyed by provider name.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func New() *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
	}
}

// Allow records one request against the provider's window and reports whether
// it fit under limit. A limit <= 0 means unlimited.
func (l *Limiter) Allow(provider string, limit int) (allowed bool, remaining int, resetAt time.Time) {
	if limit <= 0 {
		return true, -1, time.Time{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[provider]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(time.Minute)}
		l.windows[provider] = w
	}

	if w.count >= limit {
		return false, 0, w.resetAt
	}

	w.count++
	return true, limit - w.count, w.resetAt
}

// WouldAllow reports whether the provider has headroom without consuming it.
func (l *Limiter) WouldAllow(provider string, limit int) bool {
	if limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[provider]
	if !ok || time.Now().After(w.resetAt) {
		return true
	}
	return w.count < limit
}

// CurrentRPM returns the request count in the provider's current window.
func (l *Limiter) CurrentRPM(provider string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[provider]
	if !ok || time.Now().After(w.resetAt) {
		return 0
	}
	return w.count
}
