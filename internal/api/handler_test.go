package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/oncallops/answergate/internal/answerer"
	"github.com/oncallops/answergate/internal/auth"
	"github.com/oncallops/answergate/internal/cache"
	"github.com/oncallops/answergate/internal/circuitbreaker"
	"github.com/oncallops/answergate/internal/domain"
	"github.com/oncallops/answergate/internal/events"
	"github.com/oncallops/answergate/internal/metrics"
	"github.com/oncallops/answergate/internal/orchestrator"
	"github.com/oncallops/answergate/internal/ratelimit"
	"github.com/oncallops/answergate/internal/repository"
	"github.com/oncallops/answergate/internal/retrieval"
	"github.com/oncallops/answergate/internal/routing"
)

const confidentAnswer = "Check pg_stat_activity for idle transactions, terminate stale sessions, " +
	"and restart the pooler once connections drop below the configured limit [chunk:1]."

type fakeGenerator struct {
	name string
	text string
}

func (f *fakeGenerator) Name() string { return f.name }

func (f *fakeGenerator) Generate(context.Context, string) (domain.GenerateResult, error) {
	return domain.GenerateResult{Text: f.text, Provider: f.name}, nil
}

type stack struct {
	handler *Handler
	admin   *AdminHandler
	history *repository.InMemoryHistory
	events  *events.InMemoryPublisher
}

func newStack(t *testing.T, registerProvider bool) *stack {
	t.Helper()

	store := retrieval.NewStore()
	store.Ingest("db-runbook.md", nil, []string{
		"Postgres connection pool exhaustion: check pg_stat_activity for idle transactions and restart the pooler.",
	})
	grounded := answerer.NewGrounded(retrieval.NewRetriever(store), 5)

	breakers := circuitbreaker.NewRegistry()
	router := routing.NewRouter(breakers, ratelimit.New(), routing.NewCostTracker(routing.DefaultBudget()), routing.StrategyFailover)

	gen := &fakeGenerator{name: "ollama", text: confidentAnswer}
	if registerProvider {
		router.Register(routing.ProviderConfig{
			Name:         "ollama",
			Kind:         routing.KindOllama,
			Model:        "test",
			Priority:     1,
			AvgLatencyMs: 100,
			Capabilities: []string{string(domain.LaneGrounded)},
			Enabled:      true,
		})
	}

	orch := orchestrator.New(orchestrator.DefaultConfig(), orchestrator.Policy{}, router, breakers, grounded,
		map[string]domain.Generator{"ollama": gen})

	history := repository.NewInMemoryHistory()
	publisher := events.NewInMemoryPublisher()

	handler := NewHandler(HandlerConfig{
		Orchestrator: orch,
		Router:       router,
		Cache:        cache.NewInMemoryCache(),
		CacheTTL:     time.Minute,
		History:      history,
		Events:       publisher,
	})
	admin := NewAdminHandler(breakers, router, history, auth.NewGuard(nil))

	return &stack{handler: handler, admin: admin, history: history, events: publisher}
}

func postAsk(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleAsk_HappyPath(t *testing.T) {
	s := newStack(t, true)

	rec := postAsk(t, s.handler, `{"question": "postgres connection pool exhaustion"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp domain.AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Answer == "" {
		t.Error("expected an answer")
	}
	if resp.Route.Provider != "ollama" {
		t.Errorf("expected provider ollama, got %s", resp.Route.Provider)
	}
	if resp.RequestID == "" {
		t.Error("expected a request id")
	}

	recs, _ := s.history.List(context.Background(), 10)
	if len(recs) != 1 {
		t.Errorf("expected 1 history record, got %d", len(recs))
	}
	if got := s.events.Events(); len(got) != 1 || got[0].Outcome != "ok" {
		t.Errorf("expected 1 ok event, got %v", got)
	}
}

func TestHandleAsk_Validation(t *testing.T) {
	s := newStack(t, true)

	if rec := postAsk(t, s.handler, `{"question": ""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty question: expected 400, got %d", rec.Code)
	}
	if rec := postAsk(t, s.handler, `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: expected 400, got %d", rec.Code)
	}
	long := strings.Repeat("x", maxQuestionLength+1)
	if rec := postAsk(t, s.handler, `{"question": "`+long+`"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("oversized question: expected 400, got %d", rec.Code)
	}
}

func TestHandleAsk_SecondCallServedFromCache(t *testing.T) {
	s := newStack(t, true)
	hitsBefore := testutil.ToFloat64(metrics.CacheHits)
	missesBefore := testutil.ToFloat64(metrics.CacheMisses)

	first := postAsk(t, s.handler, `{"question": "postgres connection pool exhaustion"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("first ask failed: %d", first.Code)
	}

	second := postAsk(t, s.handler, `{"question": "postgres connection pool exhaustion"}`)
	if second.Code != http.StatusOK {
		t.Fatalf("second ask failed: %d", second.Code)
	}

	var resp domain.AskResponse
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Route.Provider != "cache" {
		t.Errorf("expected cache provider, got %s", resp.Route.Provider)
	}

	if got := testutil.ToFloat64(metrics.CacheHits) - hitsBefore; got != 1 {
		t.Errorf("expected 1 cache hit counted, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.CacheMisses) - missesBefore; got != 1 {
		t.Errorf("expected 1 cache miss counted, got %v", got)
	}
}

func TestHandleAsk_NoProvidersIsServiceUnavailable(t *testing.T) {
	s := newStack(t, false)

	rec := postAsk(t, s.handler, `{"question": "anything"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newStack(t, true)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("live probe: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ready probe: expected 200, got %d", rec.Code)
	}

	empty := newStack(t, false)
	rec = httptest.NewRecorder()
	empty.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready probe with no providers: expected 503, got %d", rec.Code)
	}
}
