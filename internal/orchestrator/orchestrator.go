package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oncallops/answergate/internal/answerer"
	"github.com/oncallops/answergate/internal/circuitbreaker"
	"github.com/oncallops/answergate/internal/domain"
	"github.com/oncallops/answergate/internal/metrics"
	"github.com/oncallops/answergate/internal/routing"
)

// Config bounds one guarded invocation. Breaker thresholds are shared by
// both lanes.
type Config struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:          12 * time.Second,
		MaxRetries:       1,
		RetryBaseDelay:   200 * time.Millisecond,
		RetryMaxDelay:    2 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Orchestrator owns the Ask flow. It consults the policy for the lane, the
// router for the concrete provider within that lane, and the lane's circuit
// breaker before any network call.
type Orchestrator struct {
	cfg        Config
	policy     Policy
	router     *routing.Router
	breakers   *circuitbreaker.Registry
	grounded   *answerer.Grounded
	direct     *answerer.Direct
	generators map[string]domain.Generator
}

func New(cfg Config, policy Policy, router *routing.Router, breakers *circuitbreaker.Registry, grounded *answerer.Grounded, generators map[string]domain.Generator) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		policy:     policy,
		router:     router,
		breakers:   breakers,
		grounded:   grounded,
		direct:     answerer.NewDirect(),
		generators: generators,
	}
}

// Ask answers one question. Operational failures (open circuit, provider
// errors, timeouts, low confidence) are absorbed into the deterministic
// fallback; only configuration errors surface to the caller.
func (o *Orchestrator) Ask(ctx context.Context, req domain.AskRequest, requestID string) (domain.AskResponse, error) {
	start := time.Now()
	lane := o.policy.Decide(req.LaneHint)

	decision, err := o.router.Route(req.Question, routing.RouteOptions{
		RequiredCapabilities: []string{string(lane)},
		RequestID:            requestID,
	})
	if err != nil {
		return domain.AskResponse{}, fmt.Errorf("route %s lane: %w", lane, err)
	}
	providerName := decision.Provider.Name

	gen, ok := o.generators[providerName]
	if !ok {
		return domain.AskResponse{}, fmt.Errorf("no generator for provider %q: %w", providerName, domain.ErrProviderNotFound)
	}

	slog.Info("ask start",
		"request_id", requestID,
		"lane", lane.String(),
		"provider", providerName,
	)

	breakerCfg := circuitbreaker.Config{
		Name:             string(lane),
		FailureThreshold: o.cfg.FailureThreshold,
		SuccessThreshold: o.cfg.SuccessThreshold,
		RecoveryTimeout:  o.cfg.RecoveryTimeout,
	}
	breaker := o.breakers.Get(string(lane), &breakerCfg)

	outcome := "ok"
	fallbackUsed := false
	var attempt answerer.Attempt

	if allowErr := breaker.Allow(); allowErr != nil {
		// Circuit is open: no network call, straight to fallback.
		outcome = "circuit_open"
		fallbackUsed = true
		attempt = o.fallback(req.Question)
		metrics.RecordFallbackAnswer("circuit_open")
		slog.Warn("ask short-circuited",
			"request_id", requestID,
			"lane", lane.String(),
			"provider", providerName,
			"error", allowErr.Error(),
		)
	} else {
		// The breaker admitted the call, so now the routing decision is
		// committed: the provider's rate-limit slot and active count are
		// consumed, balanced by RecordResult below.
		o.router.Admit(providerName)

		callStart := time.Now()
		attempt, err = o.callWithRetry(ctx, lane, gen, req.Question, breaker)
		callLatency := float64(time.Since(callStart).Milliseconds())

		if err != nil {
			o.router.RecordResult(providerName, false, callLatency, 0, 0)
			metrics.RecordProviderError(providerName, "call_failed")

			outcome = "error"
			fallbackUsed = true
			attempt = o.fallback(req.Question)
			metrics.RecordFallbackAnswer("error")
			slog.Error("ask failed, using fallback",
				"request_id", requestID,
				"lane", lane.String(),
				"provider", providerName,
				"error", err.Error(),
			)
		} else {
			tokens := 0
			if attempt.TokenEstimate != nil {
				tokens = *attempt.TokenEstimate
			} else {
				tokens = routing.EstimateTokens(attempt.Answer)
			}
			cost := float64(tokens) / 1000 * decision.Provider.CostPer1KTokens
			o.router.RecordResult(providerName, true, callLatency, tokens, cost)

			low := LooksLowConfidence(attempt.Answer)
			if lane == domain.LaneGrounded && len(attempt.Citations) == 0 {
				// The grounded lane's whole value is grounding; an answer
				// without citations cannot be trusted.
				low = true
			}
			if low {
				outcome = "fallback"
				fallbackUsed = true
				attempt = o.fallback(req.Question)
				metrics.RecordFallbackAnswer("low_confidence")
			}
		}
	}

	latencyMs := time.Since(start).Milliseconds()
	metrics.RecordAsk(lane.String(), attempt.Provider, outcome, time.Since(start).Seconds())

	slog.Info("ask complete",
		"request_id", requestID,
		"lane", lane.String(),
		"provider", attempt.Provider,
		"outcome", outcome,
		"fallback_used", fallbackUsed,
		"citations", len(attempt.Citations),
		"latency_ms", latencyMs,
	)

	return domain.AskResponse{
		Answer:    attempt.Answer,
		Citations: attempt.Citations,
		Route: domain.RouteDecision{
			Lane:         lane,
			Provider:     attempt.Provider,
			FallbackUsed: fallbackUsed,
		},
		Telemetry: domain.Telemetry{
			LatencyMs:     latencyMs,
			TokenEstimate: attempt.TokenEstimate,
			CharEstimate:  attempt.CharEstimate,
		},
		RequestID: requestID,
	}, nil
}

// callWithRetry runs the lane call under the per-attempt timeout, recording
// breaker outcomes. Timed-out attempts count as breaker failures. Backoff
// between attempts doubles from the base and is cancellable through ctx.
func (o *Orchestrator) callWithRetry(ctx context.Context, lane domain.Lane, gen domain.Generator, question string, breaker *circuitbreaker.Breaker) (answerer.Attempt, error) {
	var lastErr error

	for i := 0; i <= o.cfg.MaxRetries; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		attempt, err := o.answerLane(attemptCtx, lane, gen, question)
		cancel()

		if err == nil {
			breaker.RecordSuccess()
			return attempt, nil
		}

		breaker.RecordFailure(err)
		lastErr = err

		if i >= o.cfg.MaxRetries {
			break
		}

		backoff := o.cfg.RetryBaseDelay << uint(i)
		if backoff > o.cfg.RetryMaxDelay {
			backoff = o.cfg.RetryMaxDelay
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return answerer.Attempt{}, fmt.Errorf("%w: %v", ctx.Err(), lastErr)
		}
	}

	return answerer.Attempt{}, fmt.Errorf("%w after %d attempts: %v", domain.ErrCallFailed, o.cfg.MaxRetries+1, lastErr)
}

func (o *Orchestrator) answerLane(ctx context.Context, lane domain.Lane, gen domain.Generator, question string) (answerer.Attempt, error) {
	if lane == domain.LaneCloudDirect {
		return o.direct.Answer(ctx, gen, question)
	}
	return o.grounded.Answer(ctx, gen, question)
}

// fallback builds a deterministic answer from retrieval alone. It never
// touches a remote backend, so it cannot fail operationally.
func (o *Orchestrator) fallback(question string) answerer.Attempt {
	built := o.grounded.RetrieveAndBuild(question)

	answer := "I can't confidently answer based on the runbook evidence.\n" +
		"현재 런북 근거만으로는 확신 있게 답변하기 어렵습니다.\n\n" +
		"가장 관련 있어 보이는 런북 스니펫:\n"
	for _, c := range built.Citations {
		answer += fmt.Sprintf("- [chunk:%d source:%s] %s\n", c.ChunkID, c.Source, c.Preview)
	}

	return answerer.Attempt{
		Answer:       answer,
		Citations:    built.Citations,
		Provider:     "fallback",
		CharEstimate: built.CharEstimate,
	}
}
