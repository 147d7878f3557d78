// Package repository persists ask history for the admin listing and
// offline analysis.
package repository

import (
	"context"
	"sync"
	"time"
)

// AskRecord is one answered question.
type AskRecord struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	Lane          string    `json:"lane"`
	Provider      string    `json:"provider"`
	FallbackUsed  bool      `json:"fallback_used"`
	LatencyMs     int64     `json:"latency_ms"`
	TokenEstimate *int      `json:"token_estimate,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryRepository stores and lists ask records.
type HistoryRepository interface {
	Save(ctx context.Context, rec AskRecord) error
	List(ctx context.Context, limit int) ([]AskRecord, error)
}

const inMemoryHistoryCap = 1000

// InMemoryHistory keeps the most recent records in a ring, newest first on
// listing. Suitable for single-instance deployments and tests.
type InMemoryHistory struct {
	mu      sync.RWMutex
	records []AskRecord
}

func NewInMemoryHistory() *InMemoryHistory {
	return &InMemoryHistory{}
}

func (h *InMemoryHistory) Save(_ context.Context, rec AskRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, rec)
	if len(h.records) > inMemoryHistoryCap {
		h.records = h.records[len(h.records)-inMemoryHistoryCap:]
	}
	return nil
}

func (h *InMemoryHistory) List(_ context.Context, limit int) ([]AskRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.records)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]AskRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, h.records[i])
	}
	return out, nil
}
