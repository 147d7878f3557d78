// Package api exposes the ask endpoint, health probes, metrics, and the
// operator admin surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oncallops/answergate/internal/cache"
	"github.com/oncallops/answergate/internal/domain"
	"github.com/oncallops/answergate/internal/events"
	"github.com/oncallops/answergate/internal/metrics"
	"github.com/oncallops/answergate/internal/orchestrator"
	"github.com/oncallops/answergate/internal/repository"
	"github.com/oncallops/answergate/internal/routing"
	"github.com/oncallops/answergate/internal/telemetry"
)

const maxQuestionLength = 4000

type HandlerConfig struct {
	Orchestrator *orchestrator.Orchestrator
	Router       *routing.Router
	Cache        cache.Cache
	CacheTTL     time.Duration
	History      repository.HistoryRepository
	Events       events.Publisher
}

type Handler struct {
	mux      *http.ServeMux
	orch     *orchestrator.Orchestrator
	router   *routing.Router
	cache    cache.Cache
	cacheTTL time.Duration
	history  repository.HistoryRepository
	events   events.Publisher
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		mux:      http.NewServeMux(),
		orch:     cfg.Orchestrator,
		router:   cfg.Router,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		history:  cfg.History,
		events:   cfg.Events,
	}

	h.mux.HandleFunc("POST /v1/ask", h.handleAsk)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", h.handleHealthReady)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type askRequest struct {
	Question  string   `json:"question"`
	Tags      []string `json:"tags,omitempty"`
	LaneHint  string   `json:"lane_hint,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()

	ctx, span := telemetry.StartSpan(r.Context(), "ask")
	defer span.End()

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if len(req.Question) > maxQuestionLength {
		writeError(w, http.StatusBadRequest, "question too long")
		return
	}

	cacheKey := cache.Key(req.Question, req.LaneHint)
	if h.cache != nil {
		if cached, ok := h.cache.Get(ctx, cacheKey); ok {
			metrics.CacheHits.Inc()
			resp := *cached
			resp.Route.Provider = "cache"
			resp.RequestID = requestID
			telemetry.AddCacheAttribute(span, true)
			slog.Info("ask served from cache", "request_id", requestID)
			writeJSON(w, http.StatusOK, resp)
			return
		}
		metrics.CacheMisses.Inc()
		telemetry.AddCacheAttribute(span, false)
	}

	resp, err := h.orch.Ask(ctx, domain.AskRequest{
		Question:  req.Question,
		Tags:      req.Tags,
		LaneHint:  req.LaneHint,
		SessionID: req.SessionID,
	}, requestID)
	if err != nil {
		// Only configuration errors escape the orchestrator.
		telemetry.AddErrorAttribute(span, err)
		slog.Error("ask configuration error", "request_id", requestID, "error", err.Error())
		if errors.Is(err, domain.ErrNoProvidersConfigured) || errors.Is(err, domain.ErrProviderNotFound) {
			writeError(w, http.StatusServiceUnavailable, "no providers configured")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	telemetry.AddAskAttributes(span, requestID, resp.Route.Lane.String(), resp.Route.Provider, resp.Route.FallbackUsed)
	if resp.Telemetry.TokenEstimate != nil {
		telemetry.AddTokenAttribute(span, *resp.Telemetry.TokenEstimate)
	}

	h.recordAsk(ctx, req, resp)

	if h.cache != nil && !resp.Route.FallbackUsed {
		if err := h.cache.Set(ctx, cacheKey, &resp, h.cacheTTL); err != nil {
			slog.Warn("cache write failed", "request_id", requestID, "error", err.Error())
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// recordAsk persists history and publishes the completion event. Neither
// failure affects the caller's response.
func (h *Handler) recordAsk(ctx context.Context, req askRequest, resp domain.AskResponse) {
	if h.history != nil {
		rec := repository.AskRecord{
			ID:            resp.RequestID,
			Question:      req.Question,
			Answer:        resp.Answer,
			Lane:          resp.Route.Lane.String(),
			Provider:      resp.Route.Provider,
			FallbackUsed:  resp.Route.FallbackUsed,
			LatencyMs:     resp.Telemetry.LatencyMs,
			TokenEstimate: resp.Telemetry.TokenEstimate,
			Tags:          req.Tags,
			CreatedAt:     time.Now().UTC(),
		}
		if err := h.history.Save(ctx, rec); err != nil {
			slog.Warn("history write failed", "request_id", resp.RequestID, "error", err.Error())
		}
	}

	if h.events != nil {
		outcome := "ok"
		if resp.Route.FallbackUsed {
			outcome = "fallback"
		}
		event := events.AskCompletedEvent{
			RequestID:     resp.RequestID,
			Lane:          resp.Route.Lane.String(),
			Provider:      resp.Route.Provider,
			Outcome:       outcome,
			FallbackUsed:  resp.Route.FallbackUsed,
			LatencyMs:     resp.Telemetry.LatencyMs,
			TokenEstimate: resp.Telemetry.TokenEstimate,
			CreatedAt:     time.Now().UTC(),
		}
		if err := h.events.Publish(ctx, event); err != nil {
			slog.Warn("event publish failed", "request_id", resp.RequestID, "error", err.Error())
		}
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": h.router.Health(),
	})
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *Handler) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	if len(h.router.Providers()) == 0 {
		writeError(w, http.StatusServiceUnavailable, "no providers registered")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response failed", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
