package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/traderun/internal/persistence"
)

// banditStore implements persistence.BanditStore on the hypotheses table.
type banditStore struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBanditStore creates a postgres-backed bandit posterior store.
func NewBanditStore(db *sqlx.DB, timeout time.Duration) persistence.BanditStore {
	return &banditStore{db: db, timeout: timeout}
}

// Read returns the posterior for key.
func (s *banditStore) Read(ctx context.Context, key string) (persistence.BanditState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var st persistence.BanditState
	err := s.db.GetContext(ctx, &st,
		`SELECT key, alpha, beta, promoted, version FROM hypotheses WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.BanditState{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.BanditState{}, fmt.Errorf("read bandit state: %w", err)
	}
	return st, nil
}

// Write persists the posterior conditioned on the version read. Version 0
// inserts a fresh row; a duplicate-key error there means another instance
// created the row first, which is also a conflict the caller should retry.
func (s *banditStore) Write(ctx context.Context, state persistence.BanditState) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if state.Version == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO hypotheses (key, alpha, beta, promoted, version) VALUES ($1, $2, $3, $4, 1)`,
			state.Key, state.Alpha, state.Beta, state.Promoted)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return persistence.ErrVersionConflict
			}
			return fmt.Errorf("insert bandit state: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE hypotheses
		 SET alpha = $1, beta = $2, promoted = $3, version = version + 1, updated_at = now()
		 WHERE key = $4 AND version = $5`,
		state.Alpha, state.Beta, state.Promoted, state.Key, state.Version)
	if err != nil {
		return fmt.Errorf("update bandit state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update bandit state: %w", err)
	}
	if n == 0 {
		return persistence.ErrVersionConflict
	}
	return nil
}
