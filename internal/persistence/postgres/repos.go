package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/traderun/internal/persistence"
)

// evidenceRepo implements persistence.EvidenceRepo on evidence_artifacts.
type evidenceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEvidenceRepo creates a postgres-backed evidence artifact repo.
func NewEvidenceRepo(db *sqlx.DB, timeout time.Duration) persistence.EvidenceRepo {
	return &evidenceRepo{db: db, timeout: timeout}
}

// Insert stores one verification artifact; the (pipeline_id, url) unique
// constraint makes step retries a no-op.
func (r *evidenceRepo) Insert(ctx context.Context, art persistence.EvidenceArtifact) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO evidence_artifacts (pipeline_id, url, sha256, provenance, byte_len)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (pipeline_id, url) DO NOTHING`,
		art.PipelineID, art.URL, art.SHA256, art.Provenance, art.ByteLen)
	if err != nil {
		return fmt.Errorf("insert evidence artifact: %w", err)
	}
	return nil
}

// LatestHash returns the newest hash recorded for (pipelineID, url).
func (r *evidenceRepo) LatestHash(ctx context.Context, pipelineID, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var hash string
	err := r.db.GetContext(ctx, &hash,
		`SELECT sha256 FROM evidence_artifacts
		 WHERE pipeline_id = $1 AND url = $2
		 ORDER BY created_at DESC LIMIT 1`, pipelineID, url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", persistence.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read evidence hash: %w", err)
	}
	return hash, nil
}

// executionRepo implements persistence.ExecutionRepo on executions.
type executionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewExecutionRepo creates a postgres-backed execution repo.
func NewExecutionRepo(db *sqlx.DB, timeout time.Duration) persistence.ExecutionRepo {
	return &executionRepo{db: db, timeout: timeout}
}

// Insert records one submission; duplicate idempotency keys are dropped so a
// retried submit step never double-charges.
func (r *executionRepo) Insert(ctx context.Context, ex persistence.Execution) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO executions (idempotency_key, order_id, symbol, venue, status, body)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		ex.IdempotencyKey, ex.OrderID, ex.Symbol, ex.Venue, ex.Status, ex.Body)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// UpdatePostmortem attaches the counterfactual comparison to an order.
func (r *executionRepo) UpdatePostmortem(ctx context.Context, orderID string, postmortem []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE executions SET postmortem = $1 WHERE order_id = $2`, postmortem, orderID)
	if err != nil {
		return fmt.Errorf("update postmortem: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetByIdempotencyKey returns the stored execution for key.
func (r *executionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*persistence.Execution, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var ex persistence.Execution
	err := r.db.GetContext(ctx, &ex,
		`SELECT id, idempotency_key, order_id, symbol, venue, status, body, postmortem, created_at
		 FROM executions WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read execution: %w", err)
	}
	return &ex, nil
}

// attributionRepo implements persistence.AttributionRepo on trade_attribution.
type attributionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAttributionRepo creates a postgres-backed attribution repo.
func NewAttributionRepo(db *sqlx.DB, timeout time.Duration) persistence.AttributionRepo {
	return &attributionRepo{db: db, timeout: timeout}
}

// Insert appends one audit row; the order_id unique constraint keeps retried
// submissions to exactly one row.
func (r *attributionRepo) Insert(ctx context.Context, rec persistence.AttributionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trade_attribution (order_id, symbol, mechanism, aslf, execution_style, impact_bps, status, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (order_id) DO NOTHING`,
		rec.OrderID, rec.Symbol, rec.Mechanism, rec.ASLF, rec.Style, rec.ImpactBps, rec.Status, rec.Notes)
	if err != nil {
		return fmt.Errorf("insert attribution: %w", err)
	}
	return nil
}

// ListBySymbol returns audit rows for symbol, newest first.
func (r *attributionRepo) ListBySymbol(ctx context.Context, symbol string, limit int) ([]persistence.AttributionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows := []persistence.AttributionRecord{}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, order_id, symbol, mechanism, aslf, execution_style AS style, impact_bps, status, notes, created_at
		 FROM trade_attribution WHERE symbol = $1 ORDER BY id DESC LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list attribution: %w", err)
	}
	return rows, nil
}

// equityRepo implements persistence.EquityRepo on equity_stats.
type equityRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEquityRepo creates a postgres-backed equity series repo.
func NewEquityRepo(db *sqlx.DB, timeout time.Duration) persistence.EquityRepo {
	return &equityRepo{db: db, timeout: timeout}
}

// Latest returns the newest equity row.
func (r *equityRepo) Latest(ctx context.Context) (*persistence.EquityStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stats persistence.EquityStats
	err := r.db.GetContext(ctx, &stats,
		`SELECT id, equity, high_water_mark, max_drawdown, romad, notes, created_at
		 FROM equity_stats ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read equity stats: %w", err)
	}
	return &stats, nil
}

// Insert appends one equity row.
func (r *equityRepo) Insert(ctx context.Context, stats persistence.EquityStats) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO equity_stats (equity, high_water_mark, max_drawdown, romad, notes)
		 VALUES ($1, $2, $3, $4, $5)`,
		stats.Equity, stats.HighWaterMark, stats.MaxDrawdown, stats.RoMaD, stats.Notes)
	if err != nil {
		return fmt.Errorf("insert equity stats: %w", err)
	}
	return nil
}

// policyRepo implements persistence.PolicyRepo on policy_flags.
type policyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPolicyRepo creates a postgres-backed policy flag reader.
func NewPolicyRepo(db *sqlx.DB, timeout time.Duration) persistence.PolicyRepo {
	return &policyRepo{db: db, timeout: timeout}
}

// TradingEnabled reads the global flag; a missing row means disabled.
func (r *policyRepo) TradingEnabled(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var enabled bool
	err := r.db.GetContext(ctx, &enabled,
		`SELECT trading_enabled FROM policy_flags WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read policy flag: %w", err)
	}
	return enabled, nil
}
