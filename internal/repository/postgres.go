package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresHistory stores ask records in Postgres for multi-replica
// deployments.
type PostgresHistory struct {
	db *sql.DB
}

func NewPostgresHistory(db *sql.DB) *PostgresHistory {
	return &PostgresHistory{db: db}
}

// EnsureSchema creates the ask_history table when missing.
func (r *PostgresHistory) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS ask_history (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			lane TEXT NOT NULL,
			provider TEXT NOT NULL,
			fallback_used BOOLEAN NOT NULL DEFAULT FALSE,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			token_estimate INTEGER,
			tags TEXT[],
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure ask_history schema: %w", err)
	}
	return nil
}

func (r *PostgresHistory) Save(ctx context.Context, rec AskRecord) error {
	query := `
		INSERT INTO ask_history
			(id, question, answer, lane, provider, fallback_used, latency_ms, token_estimate, tags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	var tokenEstimate sql.NullInt32
	if rec.TokenEstimate != nil {
		tokenEstimate = sql.NullInt32{Int32: int32(*rec.TokenEstimate), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Question,
		rec.Answer,
		rec.Lane,
		rec.Provider,
		rec.FallbackUsed,
		rec.LatencyMs,
		tokenEstimate,
		pq.StringArray(rec.Tags),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ask record: %w", err)
	}
	return nil
}

func (r *PostgresHistory) List(ctx context.Context, limit int) ([]AskRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, question, answer, lane, provider, fallback_used, latency_ms, token_estimate, tags, created_at
		FROM ask_history
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query ask history: %w", err)
	}
	defer rows.Close()

	var out []AskRecord
	for rows.Next() {
		var rec AskRecord
		var tokenEstimate sql.NullInt32
		var tags pq.StringArray

		if err := rows.Scan(
			&rec.ID,
			&rec.Question,
			&rec.Answer,
			&rec.Lane,
			&rec.Provider,
			&rec.FallbackUsed,
			&rec.LatencyMs,
			&tokenEstimate,
			&tags,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan ask record: %w", err)
		}

		if tokenEstimate.Valid {
			v := int(tokenEstimate.Int32)
			rec.TokenEstimate = &v
		}
		rec.Tags = []string(tags)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ask history: %w", err)
	}
	return out, nil
}
