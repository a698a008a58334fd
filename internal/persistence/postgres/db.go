// Package postgres implements the persistence interfaces on PostgreSQL via
// sqlx. Idempotency is enforced with unique constraints and ON CONFLICT
// clauses; bandit writes use a version column for optimistic concurrency.
package postgres

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/traderun/internal/persistence"
)

// Open connects to PostgreSQL and verifies connectivity.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// NewRepository builds the full postgres-backed repository set. Attention
// state is not stored in postgres; callers wire a redis or memory store.
func NewRepository(db *sqlx.DB, attention persistence.AttentionStore, timeout time.Duration) *persistence.Repository {
	return &persistence.Repository{
		Bandits:      NewBanditStore(db, timeout),
		Attention:    attention,
		Evidence:     NewEvidenceRepo(db, timeout),
		Executions:   NewExecutionRepo(db, timeout),
		Attributions: NewAttributionRepo(db, timeout),
		Equity:       NewEquityRepo(db, timeout),
		Policy:       NewPolicyRepo(db, timeout),
		Pipelines:    NewPipelineRepo(db, timeout),
	}
}
