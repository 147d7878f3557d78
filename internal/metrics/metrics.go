package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AsksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answergate_asks_total",
			Help: "Total number of ask requests processed",
		},
		[]string{"lane", "provider", "outcome"},
	)

	AskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "answergate_ask_duration_seconds",
			Help:    "End-to-end ask duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"lane", "provider"},
	)

	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answergate_routing_decisions_total",
			Help: "Routing decisions by strategy and chosen provider",
		},
		[]string{"strategy", "provider"},
	)

	RoutingFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "answergate_routing_fallbacks_total",
			Help: "Times the router degraded to the first registered provider",
		},
	)

	FallbackAnswers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answergate_fallback_answers_total",
			Help: "Deterministic fallback answers served, by trigger",
		},
		[]string{"trigger"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "answergate_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"breaker"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answergate_provider_errors_total",
			Help: "Total number of provider errors",
		},
		[]string{"provider", "error_type"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "answergate_provider_latency_seconds",
			Help:    "Observed provider call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answergate_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"provider"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answergate_cost_usd_total",
			Help: "Total spend in USD",
		},
		[]string{"provider"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "answergate_cache_hits_total",
			Help: "Total number of answer cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "answergate_cache_misses_total",
			Help: "Total number of answer cache misses",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "answergate_rate_limit_hits_total",
			Help: "Times a provider was skipped for being at its RPM limit",
		},
		[]string{"provider"},
	)

	BudgetUsageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "answergate_budget_usage_ratio",
			Help: "Current budget usage ratio (0-1)",
		},
		[]string{"window"},
	)
)

func RecordAsk(lane, provider, outcome string, durationSec float64) {
	AsksTotal.WithLabelValues(lane, provider, outcome).Inc()
	AskDuration.WithLabelValues(lane, provider).Observe(durationSec)
}

func RecordRoutingDecision(strategy, provider string) {
	RoutingDecisions.WithLabelValues(strategy, provider).Inc()
}

func RecordProviderResult(provider string, latencySec float64, tokens int, costUSD float64) {
	ProviderLatency.WithLabelValues(provider).Observe(latencySec)
	if tokens > 0 {
		TokensTotal.WithLabelValues(provider).Add(float64(tokens))
	}
	if costUSD > 0 {
		CostTotal.WithLabelValues(provider).Add(costUSD)
	}
}

func RecordProviderError(provider, errorType string) {
	ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

func RecordFallbackAnswer(trigger string) {
	FallbackAnswers.WithLabelValues(trigger).Inc()
}

func SetCircuitBreakerState(breaker string, state int) {
	CircuitBreakerState.WithLabelValues(breaker).Set(float64(state))
}

func RecordRateLimitHit(provider string) {
	RateLimitHits.WithLabelValues(provider).Inc()
}

func SetBudgetUsage(window string, ratio float64) {
	BudgetUsageRatio.WithLabelValues(window).Set(ratio)
}
