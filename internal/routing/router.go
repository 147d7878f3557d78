package routing

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/oncallops/answergate/internal/circuitbreaker"
	"github.com/oncallops/answergate/internal/domain"
	"github.com/oncallops/answergate/internal/metrics"
	"github.com/oncallops/answergate/internal/ratelimit"
)

// emaAlpha is the smoothing factor for the latency and success-rate
// exponential moving averages.
const emaAlpha = 0.1

// RouteOptions narrows a routing call. The zero value routes with the
// router's default strategy and no filters.
type RouteOptions struct {
	Strategy             Strategy
	RequiredCapabilities []string
	ExcludeProviders     []string
	RequestID            string
}

// Router selects among registered providers. Registration order is kept so
// the degraded "first registered provider" path is deterministic.
type Router struct {
	mu              sync.RWMutex
	providers       map[string]*ProviderConfig
	order           []string
	defaultStrategy Strategy

	breakers *circuitbreaker.Registry
	limiter  *ratelimit.Limiter
	cost     *CostTracker
	load     *LoadTracker

	metricsMu sync.Mutex
	metrics   Metrics
}

func NewRouter(breakers *circuitbreaker.Registry, limiter *ratelimit.Limiter, cost *CostTracker, defaultStrategy Strategy) *Router {
	if defaultStrategy == "" {
		defaultStrategy = StrategyBalanced
	}
	return &Router{
		providers:       make(map[string]*ProviderConfig),
		defaultStrategy: defaultStrategy,
		breakers:        breakers,
		limiter:         limiter,
		cost:            cost,
		load:            NewLoadTracker(),
		metrics: Metrics{
			RequestsByProvider: make(map[string]int64),
			RequestsByStrategy: make(map[string]int64),
		},
	}
}

// Register adds or replaces a provider configuration.
func (r *Router) Register(cfg ProviderConfig) {
	if cfg.Weight == 0 {
		cfg.Weight = 1
	}
	if cfg.SuccessRate == 0 {
		cfg.SuccessRate = 1
	}

	r.mu.Lock()
	if _, exists := r.providers[cfg.Name]; !exists {
		r.order = append(r.order, cfg.Name)
	}
	r.providers[cfg.Name] = &cfg
	r.mu.Unlock()

	slog.Info("provider registered", "provider", cfg.Name, "kind", cfg.Kind, "model", cfg.Model)
}

// Unregister removes a provider.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[name]; !ok {
		return
	}
	delete(r.providers, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	slog.Info("provider unregistered", "provider", name)
}

// Provider returns a snapshot of the named provider.
func (r *Router) Provider(name string) (ProviderSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return ProviderSnapshot{}, domain.ErrProviderNotFound
	}
	return r.snapshotLocked(p), nil
}

// Providers returns snapshots of every registered provider, in registration
// order.
func (r *Router) Providers() []ProviderSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderSnapshot, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.snapshotLocked(r.providers[name]))
	}
	return out
}

func (r *Router) snapshotLocked(p *ProviderConfig) ProviderSnapshot {
	return ProviderSnapshot{
		ProviderConfig: *p,
		CurrentRPM:     r.limiter.CurrentRPM(p.Name),
		IsAvailable:    p.Enabled && r.limiter.WouldAllow(p.Name, p.RateLimitRPM),
	}
}

// Route picks a provider for inputText. It returns an error only when the
// registry is completely empty; with no surviving candidate it degrades to
// the first registered provider and logs the anomaly loudly. Routing alone
// has no admission side effects: callers that go through with the call must
// Admit the decision, and a discarded decision costs nothing.
func (r *Router) Route(inputText string, opts RouteOptions) (Decision, error) {
	start := time.Now()

	strategy := opts.Strategy
	if strategy == "" {
		r.mu.RLock()
		strategy = r.defaultStrategy
		r.mu.RUnlock()
	}

	r.mu.RLock()
	if len(r.providers) == 0 {
		r.mu.RUnlock()
		return Decision{}, domain.ErrNoProvidersConfigured
	}
	candidates := r.filterLocked(opts)
	first := r.providers[r.order[0]]
	r.mu.RUnlock()

	var decision Decision
	if len(candidates) == 0 {
		// Safety valve, not a normal outcome: every provider was filtered
		// out, so route to the first registered one anyway.
		slog.Warn("no providers available, degrading to first registered",
			"fallback_provider", first.Name,
			"required_capabilities", opts.RequiredCapabilities,
			"excluded", opts.ExcludeProviders,
			"request_id", opts.RequestID,
		)
		metrics.RoutingFallbacks.Inc()
		decision = Decision{
			Provider:  *first,
			Strategy:  strategy,
			Score:     math.Inf(1),
			Reason:    "no available providers, using first registered as fallback",
			RequestID: opts.RequestID,
			DecidedAt: time.Now(),
		}
	} else {
		decision = r.selectProvider(candidates, inputText, strategy, opts.RequestID)
	}

	routingTimeMs := float64(time.Since(start).Microseconds()) / 1000
	r.recordRouting(&decision, len(candidates) == 0, routingTimeMs)
	metrics.RecordRoutingDecision(string(strategy), decision.Provider.Name)

	slog.Info("routing decision",
		"provider", decision.Provider.Name,
		"strategy", string(strategy),
		"score", decision.Score,
		"candidates", len(candidates),
		"routing_time_ms", routingTimeMs,
		"request_id", opts.RequestID,
	)

	return decision, nil
}

// Admit consumes the chosen provider's rate-limit slot and marks the
// request in flight. Call it only when the request is actually going out:
// a decision dropped before the call, such as when the lane breaker is
// open, must not burn quota or inflate the active count. Every Admit is
// balanced by a later RecordResult.
func (r *Router) Admit(providerName string) {
	r.mu.RLock()
	rpm := 0
	if p, ok := r.providers[providerName]; ok {
		rpm = p.RateLimitRPM
	}
	r.mu.RUnlock()

	r.limiter.Allow(providerName, rpm)
	r.load.RecordStart(providerName)
}

// filterLocked applies the availability pipeline in order: exclusion,
// enabled, capabilities, circuit state, rate limit.
func (r *Router) filterLocked(opts RouteOptions) []*ProviderConfig {
	excluded := make(map[string]bool, len(opts.ExcludeProviders))
	for _, name := range opts.ExcludeProviders {
		excluded[name] = true
	}

	var candidates []*ProviderConfig
	for _, name := range r.order {
		p := r.providers[name]

		if excluded[p.Name] {
			continue
		}
		if !p.Enabled {
			continue
		}
		if !p.hasCapabilities(opts.RequiredCapabilities) {
			continue
		}
		if p.CircuitBreakerName != "" {
			if b, err := r.breakers.Lookup(p.CircuitBreakerName); err == nil && b.State() == circuitbreaker.StateOpen {
				continue
			}
		}
		if !r.limiter.WouldAllow(p.Name, p.RateLimitRPM) {
			metrics.RecordRateLimitHit(p.Name)
			continue
		}

		candidates = append(candidates, p)
	}
	return candidates
}

func (r *Router) selectProvider(candidates []*ProviderConfig, inputText string, strategy Strategy, requestID string) Decision {
	switch strategy {
	case StrategyCostOptimized:
		return r.selectByCost(candidates, inputText, requestID)
	case StrategyLatencyOptimized:
		return r.selectByLatency(candidates, requestID)
	case StrategyQualityOptimized:
		return r.selectByPriority(candidates, StrategyQualityOptimized, 3, requestID)
	case StrategyFailover:
		return r.selectByPriority(candidates, StrategyFailover, len(candidates), requestID)
	case StrategyRoundRobin:
		return r.selectRoundRobin(candidates, requestID)
	default:
		return r.selectBalanced(candidates, inputText, requestID)
	}
}

func (r *Router) selectByCost(candidates []*ProviderConfig, inputText string, requestID string) Decision {
	type ranked struct {
		provider *ProviderConfig
		estimate CostEstimate
	}

	rankedList := make([]ranked, 0, len(candidates))
	for _, p := range candidates {
		rankedList = append(rankedList, ranked{provider: p, estimate: r.cost.Estimate(p, inputText)})
	}
	sort.SliceStable(rankedList, func(i, j int) bool {
		return rankedList[i].estimate.EstimatedCost < rankedList[j].estimate.EstimatedCost
	})

	best := rankedList[0]
	return Decision{
		Provider:     *best.provider,
		Strategy:     StrategyCostOptimized,
		Score:        best.estimate.EstimatedCost,
		Alternatives: alternativeNames(rankedList[1:], 3, func(x ranked) string { return x.provider.Name }),
		Reason:       fmt.Sprintf("lowest estimated cost: $%.6f", best.estimate.EstimatedCost),
		RequestID:    requestID,
		DecidedAt:    time.Now(),
	}
}

func (r *Router) selectByLatency(candidates []*ProviderConfig, requestID string) Decision {
	best := r.load.SelectFastest(candidates)
	score := r.load.ObservedLatencyMs(best.Name, best.AvgLatencyMs)

	var alternatives []string
	for _, p := range candidates {
		if p.Name != best.Name && len(alternatives) < 3 {
			alternatives = append(alternatives, p.Name)
		}
	}

	return Decision{
		Provider:     *best,
		Strategy:     StrategyLatencyOptimized,
		Score:        score,
		Alternatives: alternatives,
		Reason:       fmt.Sprintf("lowest observed latency: %.0fms", score),
		RequestID:    requestID,
		DecidedAt:    time.Now(),
	}
}

func (r *Router) selectByPriority(candidates []*ProviderConfig, strategy Strategy, maxAlternatives int, requestID string) Decision {
	sorted := make([]*ProviderConfig, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	best := sorted[0]
	var alternatives []string
	for _, p := range sorted[1:] {
		if len(alternatives) >= maxAlternatives {
			break
		}
		alternatives = append(alternatives, p.Name)
	}

	reason := fmt.Sprintf("highest quality (priority %d)", best.Priority)
	if strategy == StrategyFailover {
		reason = fmt.Sprintf("primary %s with %d failover candidates", best.Name, len(alternatives))
	}

	return Decision{
		Provider:     *best,
		Strategy:     strategy,
		Score:        float64(best.Priority),
		Alternatives: alternatives,
		Reason:       reason,
		RequestID:    requestID,
		DecidedAt:    time.Now(),
	}
}

func (r *Router) selectRoundRobin(candidates []*ProviderConfig, requestID string) Decision {
	best := r.load.SelectRoundRobin(candidates)

	var alternatives []string
	for _, p := range candidates {
		if p.Name != best.Name && len(alternatives) < 3 {
			alternatives = append(alternatives, p.Name)
		}
	}

	return Decision{
		Provider:     *best,
		Strategy:     StrategyRoundRobin,
		Score:        0,
		Alternatives: alternatives,
		Reason:       "round robin rotation",
		RequestID:    requestID,
		DecidedAt:    time.Now(),
	}
}

// selectBalanced combines cost, latency and priority, each normalized
// against the candidate maximum: 0.3*cost + 0.3*latency + 0.4*priority.
func (r *Router) selectBalanced(candidates []*ProviderConfig, inputText string, requestID string) Decision {
	var maxCost, maxLatency float64
	maxPriority := 1
	for _, p := range candidates {
		if p.CostPer1KTokens > maxCost {
			maxCost = p.CostPer1KTokens
		}
		if p.AvgLatencyMs > maxLatency {
			maxLatency = p.AvgLatencyMs
		}
		if p.Priority > maxPriority {
			maxPriority = p.Priority
		}
	}

	scores := make(map[string]float64, len(candidates))
	for _, p := range candidates {
		var costScore, latencyScore float64
		if maxCost > 0 {
			costScore = p.CostPer1KTokens / maxCost
		}
		if maxLatency > 0 {
			latencyScore = p.AvgLatencyMs / maxLatency
		}
		priorityScore := float64(p.Priority) / float64(maxPriority)

		scores[p.Name] = 0.3*costScore + 0.3*latencyScore + 0.4*priorityScore
	}

	sorted := make([]*ProviderConfig, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool { return scores[sorted[i].Name] < scores[sorted[j].Name] })

	best := sorted[0]
	var alternatives []string
	for _, p := range sorted[1:] {
		if len(alternatives) >= 3 {
			break
		}
		alternatives = append(alternatives, p.Name)
	}

	return Decision{
		Provider:     *best,
		Strategy:     StrategyBalanced,
		Score:        scores[best.Name],
		Alternatives: alternatives,
		Reason:       fmt.Sprintf("balanced score: %.3f", scores[best.Name]),
		RequestID:    requestID,
		DecidedAt:    time.Now(),
	}
}

// RecordResult must be called after each routed call completes. It feeds the
// load tracker, the spend ledger, and the provider's moving averages.
func (r *Router) RecordResult(providerName string, success bool, latencyMs float64, tokensUsed int, cost float64) {
	r.load.RecordEnd(providerName, latencyMs)

	if cost > 0 {
		r.cost.Record(providerName, tokensUsed, cost)
	}

	metrics.RecordProviderResult(providerName, latencyMs/1000, tokensUsed, cost)

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[providerName]
	if !ok {
		return
	}

	successVal := 0.0
	if success {
		successVal = 1.0
	}
	p.SuccessRate = emaAlpha*successVal + (1-emaAlpha)*p.SuccessRate
	p.AvgLatencyMs = emaAlpha*latencyMs + (1-emaAlpha)*p.AvgLatencyMs
	now := time.Now().UTC()
	p.LastUsed = &now
}

// Health reports the health of every provider, folding in circuit state.
func (r *Router) Health() []ProviderHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderHealth, 0, len(r.order))
	for _, name := range r.order {
		p := r.providers[name]

		circuitState := circuitbreaker.StateClosed.String()
		if p.CircuitBreakerName != "" {
			if b, err := r.breakers.Lookup(p.CircuitBreakerName); err == nil {
				circuitState = b.State().String()
			}
		}

		available := p.Enabled && r.limiter.WouldAllow(p.Name, p.RateLimitRPM)
		out = append(out, ProviderHealth{
			Name:         p.Name,
			Healthy:      available && circuitState != circuitbreaker.StateOpen.String(),
			CircuitState: circuitState,
			SuccessRate:  p.SuccessRate,
			AvgLatencyMs: p.AvgLatencyMs,
		})
	}
	return out
}

func (r *Router) recordRouting(d *Decision, degraded bool, routingTimeMs float64) {
	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()

	r.metrics.TotalRequests++
	r.metrics.RequestsByProvider[d.Provider.Name]++
	r.metrics.RequestsByStrategy[string(d.Strategy)]++
	if degraded {
		r.metrics.DegradedDecisions++
	}

	n := float64(r.metrics.TotalRequests)
	r.metrics.AvgRoutingTimeMs = (r.metrics.AvgRoutingTimeMs*(n-1) + routingTimeMs) / n
}

// Metrics returns a copy of the aggregated routing counters.
func (r *Router) Metrics() Metrics {
	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()

	out := Metrics{
		TotalRequests:      r.metrics.TotalRequests,
		RequestsByProvider: make(map[string]int64, len(r.metrics.RequestsByProvider)),
		RequestsByStrategy: make(map[string]int64, len(r.metrics.RequestsByStrategy)),
		AvgRoutingTimeMs:   r.metrics.AvgRoutingTimeMs,
		DegradedDecisions:  r.metrics.DegradedDecisions,
	}
	for k, v := range r.metrics.RequestsByProvider {
		out.RequestsByProvider[k] = v
	}
	for k, v := range r.metrics.RequestsByStrategy {
		out.RequestsByStrategy[k] = v
	}
	return out
}

// CostSummary reports spend over the trailing window.
func (r *Router) CostSummary(hours int) CostSummary {
	return r.cost.Summary(hours)
}

// LoadStats exposes the load tracker snapshot.
func (r *Router) LoadStats() map[string]ProviderLoad {
	return r.load.Stats()
}

// DefaultStrategy returns the current default.
func (r *Router) DefaultStrategy() Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultStrategy
}

// SetDefaultStrategy changes the default used when callers pass none.
func (r *Router) SetDefaultStrategy(s Strategy) {
	r.mu.Lock()
	r.defaultStrategy = s
	r.mu.Unlock()

	slog.Info("default routing strategy changed", "strategy", string(s))
}

func alternativeNames[T any](rest []T, max int, name func(T) string) []string {
	var out []string
	for _, item := range rest {
		if len(out) >= max {
			break
		}
		out = append(out, name(item))
	}
	return out
}
