package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/oncallops/answergate/internal/auth"
	"github.com/oncallops/answergate/internal/circuitbreaker"
	"github.com/oncallops/answergate/internal/domain"
	"github.com/oncallops/answergate/internal/repository"
	"github.com/oncallops/answergate/internal/routing"
)

// AdminHandler exposes operator endpoints: breaker inspection and resets,
// provider listings, routing strategy and metrics, costs, ask history.
// Reads require the viewer role, mutations the admin role.
type AdminHandler struct {
	mux      *http.ServeMux
	breakers *circuitbreaker.Registry
	router   *routing.Router
	history  repository.HistoryRepository
}

func NewAdminHandler(breakers *circuitbreaker.Registry, router *routing.Router, history repository.HistoryRepository, guard *auth.Guard) *AdminHandler {
	h := &AdminHandler{
		mux:      http.NewServeMux(),
		breakers: breakers,
		router:   router,
		history:  history,
	}

	view := func(fn http.HandlerFunc) http.Handler { return guard.Middleware(auth.RoleViewer, fn) }
	admin := func(fn http.HandlerFunc) http.Handler { return guard.Middleware(auth.RoleAdmin, fn) }

	h.mux.Handle("GET /admin/circuit-breakers", view(h.listBreakers))
	h.mux.Handle("GET /admin/circuit-breakers/{name}", view(h.getBreaker))
	h.mux.Handle("POST /admin/circuit-breakers/reset-all", admin(h.resetAllBreakers))
	h.mux.Handle("POST /admin/circuit-breakers/{name}/reset", admin(h.resetBreaker))
	h.mux.Handle("GET /admin/providers", view(h.listProviders))
	h.mux.Handle("GET /admin/providers/{name}", view(h.getProvider))
	h.mux.Handle("GET /admin/routing/metrics", view(h.routingMetrics))
	h.mux.Handle("PUT /admin/routing/strategy", admin(h.setStrategy))
	h.mux.Handle("GET /admin/routing/costs", view(h.routingCosts))
	h.mux.Handle("GET /admin/history", view(h.listHistory))

	return h
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *AdminHandler) listBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.breakers.AllStats())
}

func (h *AdminHandler) getBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	b, err := h.breakers.Lookup(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown circuit breaker: "+name)
		return
	}
	writeJSON(w, http.StatusOK, circuitbreaker.Snapshot{
		State: b.State().String(),
		Stats: b.Stats(),
	})
}

func (h *AdminHandler) resetBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.breakers.Reset(name); err != nil {
		writeError(w, http.StatusNotFound, "unknown circuit breaker: "+name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "breaker": name})
}

func (h *AdminHandler) resetAllBreakers(w http.ResponseWriter, r *http.Request) {
	h.breakers.ResetAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *AdminHandler) listProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.router.Providers())
}

func (h *AdminHandler) getProvider(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	snap, err := h.router.Provider(name)
	if err != nil {
		if errors.Is(err, domain.ErrProviderNotFound) {
			writeError(w, http.StatusNotFound, "unknown provider: "+name)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *AdminHandler) routingMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"routing":          h.router.Metrics(),
		"load":             h.router.LoadStats(),
		"default_strategy": h.router.DefaultStrategy(),
	})
}

func (h *AdminHandler) setStrategy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy string `json:"strategy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	strategy, err := routing.ParseStrategy(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid strategy: "+req.Strategy)
		return
	}

	h.router.SetDefaultStrategy(strategy)
	writeJSON(w, http.StatusOK, map[string]string{"strategy": string(strategy)})
}

func (h *AdminHandler) routingCosts(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid hours parameter")
			return
		}
		hours = n
	}
	writeJSON(w, http.StatusOK, h.router.CostSummary(hours))
}

func (h *AdminHandler) listHistory(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = n
	}

	records, err := h.history.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if records == nil {
		records = []repository.AskRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
