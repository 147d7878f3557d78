package routing

import (
	"math"
	"math/rand"
	"sync"
)

// latencyWindowSize bounds the rolling latency sample per provider.
const latencyWindowSize = 100

// LoadTracker follows active-request counts and recent latencies per
// provider and implements the distribution-style selections (round robin,
// weighted, least busy, fastest). All state is guarded by one mutex; the
// round-robin index persists across calls.
type LoadTracker struct {
	mu             sync.Mutex
	roundRobinIdx  int
	activeRequests map[string]int
	latencies      map[string][]float64
}

func NewLoadTracker() *LoadTracker {
	return &LoadTracker{
		activeRequests: make(map[string]int),
		latencies:      make(map[string][]float64),
	}
}

// SelectRoundRobin rotates through the candidate list. The index is shared
// process-wide, so k candidates called 2k times each get picked twice.
func (t *LoadTracker) SelectRoundRobin(candidates []*ProviderConfig) *ProviderConfig {
	if len(candidates) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.roundRobinIdx = (t.roundRobinIdx + 1) % len(candidates)
	return candidates[t.roundRobinIdx]
}

// SelectWeighted picks a candidate with probability proportional to weight.
func (t *LoadTracker) SelectWeighted(candidates []*ProviderConfig) *ProviderConfig {
	if len(candidates) == 0 {
		return nil
	}

	var total float64
	for _, p := range candidates {
		total += p.Weight
	}
	if total <= 0 {
		return candidates[rand.Intn(len(candidates))]
	}

	r := rand.Float64() * total
	var cumulative float64
	for _, p := range candidates {
		cumulative += p.Weight
		if r <= cumulative {
			return p
		}
	}
	return candidates[len(candidates)-1]
}

// SelectLeastBusy picks the candidate with the fewest in-flight requests.
func (t *LoadTracker) SelectLeastBusy(candidates []*ProviderConfig) *ProviderConfig {
	if len(candidates) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	selected := candidates[0]
	minActive := math.MaxInt
	for _, p := range candidates {
		if active := t.activeRequests[p.Name]; active < minActive {
			minActive = active
			selected = p
		}
	}
	return selected
}

// SelectFastest picks the candidate with the lowest average over its recent
// latency window, falling back to the configured average when no samples
// exist yet.
func (t *LoadTracker) SelectFastest(candidates []*ProviderConfig) *ProviderConfig {
	if len(candidates) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	selected := candidates[0]
	best := math.Inf(1)
	for _, p := range candidates {
		avg := p.AvgLatencyMs
		if samples := t.latencies[p.Name]; len(samples) > 0 {
			var sum float64
			for _, s := range samples {
				sum += s
			}
			avg = sum / float64(len(samples))
		}
		if avg < best {
			best = avg
			selected = p
		}
	}
	return selected
}

// ObservedLatencyMs returns the window average for a provider, or the given
// fallback when no samples exist.
func (t *LoadTracker) ObservedLatencyMs(provider string, fallback float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	samples := t.latencies[provider]
	if len(samples) == 0 {
		return fallback
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// RecordStart marks a request in flight for the provider.
func (t *LoadTracker) RecordStart(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeRequests[provider]++
}

// RecordEnd marks a request complete and appends its latency to the window.
func (t *LoadTracker) RecordEnd(provider string, latencyMs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.activeRequests[provider] > 0 {
		t.activeRequests[provider]--
	}

	samples := append(t.latencies[provider], latencyMs)
	if len(samples) > latencyWindowSize {
		samples = samples[len(samples)-latencyWindowSize:]
	}
	t.latencies[provider] = samples
}

// ProviderLoad is the per-provider view of tracker state.
type ProviderLoad struct {
	ActiveRequests int     `json:"active_requests"`
	RecentRequests int     `json:"recent_requests"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
}

// Stats snapshots the tracker for admin reporting.
func (t *LoadTracker) Stats() map[string]ProviderLoad {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]ProviderLoad)
	for name := range t.activeRequests {
		out[name] = ProviderLoad{ActiveRequests: t.activeRequests[name]}
	}
	for name, samples := range t.latencies {
		load := out[name]
		load.RecentRequests = len(samples)
		if len(samples) > 0 {
			var sum float64
			for _, s := range samples {
				sum += s
			}
			load.AvgLatencyMs = sum / float64(len(samples))
		}
		out[name] = load
	}
	return out
}

// Reset clears all tracker state, including the round-robin index.
func (t *LoadTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.roundRobinIdx = 0
	t.activeRequests = make(map[string]int)
	t.latencies = make(map[string][]float64)
}
