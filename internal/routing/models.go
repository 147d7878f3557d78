// Package routing selects among configured model providers.
// The Router scores candidates under a strategy, respecting circuit state,
// capability filters, and per-provider rate limits.
package routing

import (
	"fmt"
	"time"

	"github.com/oncallops/answergate/internal/domain"
)

// Strategy is a provider-selection policy. Lower score wins for every
// strategy that scores.
type Strategy string

const (
	StrategyCostOptimized    Strategy = "cost_optimized"
	StrategyLatencyOptimized Strategy = "latency_optimized"
	StrategyQualityOptimized Strategy = "quality_optimized"
	StrategyBalanced         Strategy = "balanced"
	StrategyFailover         Strategy = "failover"
	StrategyRoundRobin       Strategy = "round_robin"
)

// ParseStrategy validates a strategy name from config or an admin request.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyCostOptimized, StrategyLatencyOptimized, StrategyQualityOptimized,
		StrategyBalanced, StrategyFailover, StrategyRoundRobin:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrInvalidStrategy, s)
}

// ProviderKind identifies the backend implementation behind a provider entry.
type ProviderKind string

const (
	KindOllama    ProviderKind = "ollama"
	KindBedrock   ProviderKind = "bedrock"
	KindAnthropic ProviderKind = "anthropic"
)

// ProviderConfig describes one routable backend. The Router owns registered
// configs and updates the runtime fields (latency and success-rate EMAs,
// LastUsed) after each completed call.
type ProviderConfig struct {
	Name               string       `json:"name"`
	Kind               ProviderKind `json:"kind"`
	Model              string       `json:"model"`
	Priority           int          `json:"priority"`
	Weight             float64      `json:"weight"`
	CostPer1KTokens    float64      `json:"cost_per_1k_tokens"`
	AvgLatencyMs       float64      `json:"avg_latency_ms"`
	MaxTokens          int          `json:"max_tokens"`
	Capabilities       []string     `json:"capabilities"`
	Enabled            bool         `json:"enabled"`
	RateLimitRPM       int          `json:"rate_limit_rpm"`
	CircuitBreakerName string       `json:"circuit_breaker_name,omitempty"`

	// Runtime stats, updated by the router.
	SuccessRate float64    `json:"success_rate"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
}

func (p *ProviderConfig) hasCapabilities(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range p.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ProviderSnapshot is the admin view of a provider, including live counters.
type ProviderSnapshot struct {
	ProviderConfig
	CurrentRPM  int  `json:"current_rpm"`
	IsAvailable bool `json:"is_available"`
}

// ProviderHealth summarizes a provider for health reporting.
type ProviderHealth struct {
	Name         string  `json:"name"`
	Healthy      bool    `json:"healthy"`
	CircuitState string  `json:"circuit_state"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Decision is the outcome of one routing call. It is immutable once returned.
type Decision struct {
	Provider     ProviderConfig `json:"provider"`
	Strategy     Strategy       `json:"strategy"`
	Score        float64        `json:"score"`
	Alternatives []string       `json:"alternatives,omitempty"`
	Reason       string         `json:"reason"`
	RequestID    string         `json:"request_id,omitempty"`
	DecidedAt    time.Time      `json:"decided_at"`
}

// Metrics aggregates routing counters since startup.
type Metrics struct {
	TotalRequests      int64            `json:"total_requests"`
	RequestsByProvider map[string]int64 `json:"requests_by_provider"`
	RequestsByStrategy map[string]int64 `json:"requests_by_strategy"`
	AvgRoutingTimeMs   float64          `json:"avg_routing_time_ms"`
	DegradedDecisions  int64            `json:"degraded_decisions"`
}
