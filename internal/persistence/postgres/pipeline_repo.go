package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/traderun/internal/persistence"
)

// pipelineRepo implements persistence.PipelineRepo on pipeline_runs. Step
// outputs are stored as a JSON object so resume can replay completed steps.
type pipelineRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPipelineRepo creates a postgres-backed checkpoint store.
func NewPipelineRepo(db *sqlx.DB, timeout time.Duration) persistence.PipelineRepo {
	return &pipelineRepo{db: db, timeout: timeout}
}

type pipelineRow struct {
	PipelineID string    `db:"pipeline_id"`
	Symbol     string    `db:"symbol"`
	Cursor     string    `db:"cursor"`
	Outputs    []byte    `db:"outputs"`
	Status     string    `db:"status"`
	Reason     string    `db:"reason"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Save upserts the checkpoint for a pipeline instance.
func (r *pipelineRepo) Save(ctx context.Context, cp persistence.Checkpoint) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	outputs, err := json.Marshal(encodeOutputs(cp.Outputs))
	if err != nil {
		return fmt.Errorf("marshal step outputs: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (pipeline_id, symbol, cursor, outputs, status, reason, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (pipeline_id) DO UPDATE
		 SET cursor = EXCLUDED.cursor, outputs = EXCLUDED.outputs,
		     status = EXCLUDED.status, reason = EXCLUDED.reason, updated_at = now()`,
		cp.PipelineID, cp.Symbol, cp.Cursor, outputs, cp.Status, cp.Reason)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint for pipelineID.
func (r *pipelineRepo) Load(ctx context.Context, pipelineID string) (*persistence.Checkpoint, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row pipelineRow
	err := r.db.GetContext(ctx, &row,
		`SELECT pipeline_id, symbol, cursor, outputs, status, reason, updated_at
		 FROM pipeline_runs WHERE pipeline_id = $1`, pipelineID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var encoded map[string]json.RawMessage
	if len(row.Outputs) > 0 {
		if err := json.Unmarshal(row.Outputs, &encoded); err != nil {
			return nil, fmt.Errorf("unmarshal step outputs: %w", err)
		}
	}
	cp := persistence.Checkpoint{
		PipelineID: row.PipelineID,
		Symbol:     row.Symbol,
		Cursor:     row.Cursor,
		Outputs:    decodeOutputs(encoded),
		Status:     row.Status,
		Reason:     row.Reason,
		UpdatedAt:  row.UpdatedAt,
	}
	return &cp, nil
}

func encodeOutputs(outputs map[string][]byte) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(outputs))
	for k, v := range outputs {
		out[k] = json.RawMessage(v)
	}
	return out
}

func decodeOutputs(encoded map[string]json.RawMessage) map[string][]byte {
	out := make(map[string][]byte, len(encoded))
	for k, v := range encoded {
		out[k] = []byte(v)
	}
	return out
}
