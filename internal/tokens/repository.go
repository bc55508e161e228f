package tokens

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const tokensSchema = `CREATE TABLE IF NOT EXISTS tokens (
	token TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	rate_limit INTEGER NOT NULL DEFAULT 60,
	scope JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	comment TEXT
);`

// Repository loads tokens from postgres.
type Repository struct {
	DB *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{DB: db}
}

// EnsureSchema creates the tokens table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := r.DB.ExecContext(ctx, tokensSchema); err != nil {
		return fmt.Errorf("ensure tokens schema: %w", err)
	}
	return nil
}

// LoadTokens reads every token together with its owner, limit and scope.
// The table must exist, see EnsureSchema.
func (r *Repository) LoadTokens(ctx context.Context) (map[string]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.DB.QueryContext(ctx, `SELECT token, owner, rate_limit, scope FROM tokens`)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Entry)
	for rows.Next() {
		var (
			token string
			e     Entry
			raw   []byte
		)
		if err := rows.Scan(&token, &e.Owner, &e.RateLimit, &raw); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Scope); err != nil {
				return nil, fmt.Errorf("decode scope of token owned by %q: %w", e.Owner, err)
			}
		}
		out[token] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
