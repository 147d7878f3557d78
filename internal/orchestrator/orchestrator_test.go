package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oncallops/answergate/internal/answerer"
	"github.com/oncallops/answergate/internal/circuitbreaker"
	"github.com/oncallops/answergate/internal/domain"
	"github.com/oncallops/answergate/internal/ratelimit"
	"github.com/oncallops/answergate/internal/retrieval"
	"github.com/oncallops/answergate/internal/routing"
)

const confidentAnswer = "Check pg_stat_activity for idle transactions, terminate stale sessions, " +
	"and restart the pooler once connections drop below the configured limit [chunk:1]."

type fakeGenerator struct {
	name  string
	text  string
	err   error
	block bool
	calls int
}

func (f *fakeGenerator) Name() string { return f.name }

func (f *fakeGenerator) Generate(ctx context.Context, _ string) (domain.GenerateResult, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return domain.GenerateResult{}, ctx.Err()
	}
	if f.err != nil {
		return domain.GenerateResult{}, f.err
	}
	return domain.GenerateResult{Text: f.text, Provider: f.name}, nil
}

type fixture struct {
	orch     *Orchestrator
	breakers *circuitbreaker.Registry
	router   *routing.Router
	gen      *fakeGenerator
}

func newFixture(t *testing.T, cfg Config, policy Policy, gen *fakeGenerator, capabilities ...string) *fixture {
	t.Helper()

	store := retrieval.NewStore()
	store.Ingest("db-runbook.md", nil, []string{
		"Postgres connection pool exhaustion: check pg_stat_activity for idle transactions and restart the pooler.",
	})
	grounded := answerer.NewGrounded(retrieval.NewRetriever(store), 5)

	breakers := circuitbreaker.NewRegistry()
	router := routing.NewRouter(breakers, ratelimit.New(), routing.NewCostTracker(routing.DefaultBudget()), routing.StrategyFailover)
	if len(capabilities) == 0 {
		capabilities = []string{string(domain.LaneGrounded)}
	}
	router.Register(routing.ProviderConfig{
		Name:         gen.name,
		Kind:         routing.KindOllama,
		Model:        "test",
		Priority:     1,
		AvgLatencyMs: 100,
		Capabilities: capabilities,
		Enabled:      true,
	})

	orch := New(cfg, policy, router, breakers, grounded, map[string]domain.Generator{gen.name: gen})
	return &fixture{orch: orch, breakers: breakers, router: router, gen: gen}
}

func askFixture(t *testing.T, f *fixture, question string) domain.AskResponse {
	t.Helper()
	resp, err := f.orch.Ask(context.Background(), domain.AskRequest{Question: question}, "req-1")
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestAsk_GroundedHappyPath(t *testing.T) {
	gen := &fakeGenerator{name: "ollama", text: confidentAnswer}
	f := newFixture(t, DefaultConfig(), Policy{}, gen)

	resp := askFixture(t, f, "postgres connection pool exhaustion")

	if resp.Route.FallbackUsed {
		t.Error("confident grounded answer should not fall back")
	}
	if resp.Route.Lane != domain.LaneGrounded {
		t.Errorf("expected grounded lane, got %s", resp.Route.Lane)
	}
	if resp.Route.Provider != "ollama" {
		t.Errorf("expected provider ollama, got %s", resp.Route.Provider)
	}
	if len(resp.Citations) == 0 {
		t.Error("grounded answer should carry citations")
	}
	if resp.RequestID != "req-1" {
		t.Errorf("unexpected request id %s", resp.RequestID)
	}
}

func TestAsk_ShortAnswerTriggersFallback(t *testing.T) {
	gen := &fakeGenerator{name: "ollama", text: "restart it"}
	f := newFixture(t, DefaultConfig(), Policy{}, gen)

	resp := askFixture(t, f, "postgres connection pool exhaustion")

	if !resp.Route.FallbackUsed {
		t.Error("short answer must trigger fallback")
	}
	if resp.Route.Provider != "fallback" {
		t.Errorf("expected fallback provider, got %s", resp.Route.Provider)
	}
	if len(resp.Citations) == 0 {
		t.Error("fallback should enumerate grounding citations when evidence exists")
	}
	if !strings.Contains(resp.Answer, "[chunk:") {
		t.Error("fallback answer should enumerate snippets")
	}
}

func TestAsk_UncertaintyMarkerTriggersFallback(t *testing.T) {
	hedged := "I am not sure about this, but you could possibly try restarting the entire " +
		"database cluster and hope the connection pool recovers afterwards."
	gen := &fakeGenerator{name: "ollama", text: hedged}
	f := newFixture(t, DefaultConfig(), Policy{}, gen)

	resp := askFixture(t, f, "postgres connection pool exhaustion")
	if !resp.Route.FallbackUsed {
		t.Error("hedged answer must trigger fallback")
	}
}

func TestAsk_ProviderErrorFallsBackAfterRetries(t *testing.T) {
	gen := &fakeGenerator{name: "ollama", err: errors.New("daemon down")}
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	f := newFixture(t, cfg, Policy{}, gen)

	resp := askFixture(t, f, "postgres connection pool exhaustion")

	if !resp.Route.FallbackUsed {
		t.Error("exhausted retries must trigger fallback")
	}
	if gen.calls != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", gen.calls)
	}

	b, err := f.breakers.Lookup(string(domain.LaneGrounded))
	if err != nil {
		t.Fatal(err)
	}
	if b.Stats().FailedCalls != 3 {
		t.Errorf("each failed attempt should count against the breaker, got %d", b.Stats().FailedCalls)
	}
}

func TestAsk_OpenBreakerSkipsNetworkCall(t *testing.T) {
	gen := &fakeGenerator{name: "ollama", text: confidentAnswer}
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	f := newFixture(t, cfg, Policy{}, gen)

	breakerCfg := circuitbreaker.Config{
		Name:             string(domain.LaneGrounded),
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Minute,
	}
	f.breakers.Get(string(domain.LaneGrounded), &breakerCfg).RecordFailure(errors.New("down"))

	resp := askFixture(t, f, "postgres connection pool exhaustion")

	if gen.calls != 0 {
		t.Errorf("open circuit must prevent any call, got %d", gen.calls)
	}
	if !resp.Route.FallbackUsed {
		t.Error("open circuit must yield fallbackUsed=true")
	}
	if resp.Answer == "" {
		t.Error("caller must still receive an answer")
	}
}

func TestAsk_OpenBreakerLeavesNoLoadFootprint(t *testing.T) {
	gen := &fakeGenerator{name: "ollama", text: confidentAnswer}
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	f := newFixture(t, cfg, Policy{}, gen)

	breakerCfg := circuitbreaker.Config{
		Name:             string(domain.LaneGrounded),
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Minute,
	}
	f.breakers.Get(string(domain.LaneGrounded), &breakerCfg).RecordFailure(errors.New("down"))

	for i := 0; i < 3; i++ {
		askFixture(t, f, "postgres connection pool exhaustion")
	}

	if gen.calls != 0 {
		t.Fatalf("open circuit must prevent any call, got %d", gen.calls)
	}
	if load := f.router.LoadStats()["ollama"]; load.ActiveRequests != 0 {
		t.Errorf("short-circuited asks must not leak active requests, got %d", load.ActiveRequests)
	}
	snap, err := f.router.Provider("ollama")
	if err != nil {
		t.Fatal(err)
	}
	if snap.CurrentRPM != 0 {
		t.Errorf("short-circuited asks must not consume rate-limit slots, got %d", snap.CurrentRPM)
	}
}

func TestAsk_TimeoutCountsAsBreakerFailure(t *testing.T) {
	gen := &fakeGenerator{name: "ollama", block: true}
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Millisecond
	cfg.MaxRetries = 0
	f := newFixture(t, cfg, Policy{}, gen)

	resp := askFixture(t, f, "postgres connection pool exhaustion")

	if !resp.Route.FallbackUsed {
		t.Error("timed-out call must trigger fallback")
	}
	b, err := f.breakers.Lookup(string(domain.LaneGrounded))
	if err != nil {
		t.Fatal(err)
	}
	if b.Stats().FailedCalls != 1 {
		t.Errorf("timeout should count as a breaker failure, got %d", b.Stats().FailedCalls)
	}
}

func TestAsk_CloudHintHonoredWhenEnabled(t *testing.T) {
	gen := &fakeGenerator{name: "bedrock", text: confidentAnswer}
	f := newFixture(t, DefaultConfig(), Policy{CloudEnabled: true}, gen, string(domain.LaneCloudDirect))

	resp, err := f.orch.Ask(context.Background(), domain.AskRequest{
		Question: "node is unhealthy",
		LaneHint: "cloud",
	}, "req-2")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route.Lane != domain.LaneCloudDirect {
		t.Errorf("expected cloud lane, got %s", resp.Route.Lane)
	}
	if len(resp.Citations) != 0 {
		t.Error("cloud lane should not produce citations")
	}
}

func TestAsk_CloudHintIgnoredWhenDisabled(t *testing.T) {
	gen := &fakeGenerator{name: "ollama", text: confidentAnswer}
	f := newFixture(t, DefaultConfig(), Policy{CloudEnabled: false}, gen)

	resp, err := f.orch.Ask(context.Background(), domain.AskRequest{
		Question: "postgres connection pool exhaustion",
		LaneHint: "cloud",
	}, "req-3")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Route.Lane != domain.LaneGrounded {
		t.Errorf("cloud hint with cloud disabled must stay grounded, got %s", resp.Route.Lane)
	}
}

func TestAsk_EmptyRegistryIsConfigurationError(t *testing.T) {
	store := retrieval.NewStore()
	grounded := answerer.NewGrounded(retrieval.NewRetriever(store), 5)
	breakers := circuitbreaker.NewRegistry()
	router := routing.NewRouter(breakers, ratelimit.New(), routing.NewCostTracker(routing.DefaultBudget()), routing.StrategyFailover)
	orch := New(DefaultConfig(), Policy{}, router, breakers, grounded, nil)

	_, err := orch.Ask(context.Background(), domain.AskRequest{Question: "q"}, "req-4")
	if !errors.Is(err, domain.ErrNoProvidersConfigured) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestLooksLowConfidence(t *testing.T) {
	cases := []struct {
		name string
		text string
		want bool
	}{
		{"empty", "", true},
		{"whitespace", "   \n ", true},
		{"short", "restart the pod", true},
		{"english marker", confidentAnswer + " but I don't know the root cause.", true},
		{"korean marker", confidentAnswer + " 정확한 원인은 알 수 없습니다.", true},
		{"confident", confidentAnswer, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := LooksLowConfidence(tc.text); got != tc.want {
				t.Errorf("LooksLowConfidence(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestPolicy_Decide(t *testing.T) {
	enabled := Policy{CloudEnabled: true}
	disabled := Policy{CloudEnabled: false}

	if got := enabled.Decide("cloud"); got != domain.LaneCloudDirect {
		t.Errorf("cloud hint with cloud enabled: got %s", got)
	}
	if got := enabled.Decide("cloud_direct"); got != domain.LaneCloudDirect {
		t.Errorf("cloud_direct hint: got %s", got)
	}
	if got := enabled.Decide(""); got != domain.LaneGrounded {
		t.Errorf("no hint should default grounded: got %s", got)
	}
	if got := disabled.Decide("cloud"); got != domain.LaneGrounded {
		t.Errorf("cloud hint with cloud disabled: got %s", got)
	}
	if got := enabled.Decide("something_else"); got != domain.LaneGrounded {
		t.Errorf("unknown hint should default grounded: got %s", got)
	}
}
