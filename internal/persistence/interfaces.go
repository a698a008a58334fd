// Package persistence defines the repository interfaces the pipeline depends
// on. The store is the sole source of truth for bandit parameters and
// attribution history; implementations must keep read-modify-write sequences
// safe under concurrent pipeline instances.
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("persistence: not found")

// ErrVersionConflict is returned by optimistic-concurrency writes when the row
// changed since it was read. Callers retry the read-modify-write loop.
var ErrVersionConflict = errors.New("persistence: version conflict")

// BanditState is the Beta posterior for one symbol key ("aslf:<symbol>").
// Alpha and Beta never drop below 1; Promoted transitions false→true once.
type BanditState struct {
	Key      string  `json:"key" db:"key"`
	Alpha    float64 `json:"alpha" db:"alpha"`
	Beta     float64 `json:"beta" db:"beta"`
	Promoted bool    `json:"promoted" db:"promoted"`
	Version  int64   `json:"version" db:"version"`
}

// NewBanditState returns the uniform prior for a key.
func NewBanditState(key string) BanditState {
	return BanditState{Key: key, Alpha: 1, Beta: 1}
}

// PosteriorMean returns alpha/(alpha+beta).
func (s BanditState) PosteriorMean() float64 {
	total := s.Alpha + s.Beta
	if total <= 0 {
		return 0
	}
	return s.Alpha / total
}

// BanditStore persists per-key bandit posteriors with optimistic concurrency.
type BanditStore interface {
	// Read returns the state for key, or ErrNotFound (callers start from the
	// uniform prior with Version 0).
	Read(ctx context.Context, key string) (BanditState, error)

	// Write persists state conditioned on state.Version matching the stored
	// row (Version 0 means insert-if-absent). Returns ErrVersionConflict when
	// a concurrent writer got there first.
	Write(ctx context.Context, state BanditState) error
}

// AttentionState is the per-symbol burst estimator state.
type AttentionState struct {
	Fast      float64   `json:"fast" db:"fast"`
	Slow      float64   `json:"slow" db:"slow"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AttentionStore persists per-symbol attention state. Get returns found=false
// for symbols never observed.
type AttentionStore interface {
	Get(ctx context.Context, symbol string) (AttentionState, bool, error)
	Put(ctx context.Context, symbol string, state AttentionState) error
}

// EvidenceArtifact records the verified content of one evidence URL.
type EvidenceArtifact struct {
	ID         int64     `json:"id" db:"id"`
	PipelineID string    `json:"pipeline_id" db:"pipeline_id"`
	URL        string    `json:"url" db:"url"`
	SHA256     string    `json:"sha256" db:"sha256"`
	Provenance string    `json:"provenance" db:"provenance"`
	ByteLen    int       `json:"byte_len" db:"byte_len"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// EvidenceRepo stores verification artifacts. Insert is idempotent per
// (pipeline_id, url): re-running the verify step never duplicates rows.
type EvidenceRepo interface {
	Insert(ctx context.Context, art EvidenceArtifact) error
	// LatestHash returns the most recent sha256 recorded for url under the
	// given pipeline, or ErrNotFound.
	LatestHash(ctx context.Context, pipelineID, url string) (string, error)
}

// Execution is one recorded order submission.
type Execution struct {
	ID             int64     `json:"id" db:"id"`
	IdempotencyKey string    `json:"idempotency_key" db:"idempotency_key"`
	OrderID        string    `json:"order_id" db:"order_id"`
	Symbol         string    `json:"symbol" db:"symbol"`
	Venue          string    `json:"venue" db:"venue"`
	Status         string    `json:"status" db:"status"`
	Body           []byte    `json:"body" db:"body"`             // raw venue response
	Postmortem     []byte    `json:"postmortem" db:"postmortem"` // filled later
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ExecutionRepo stores submissions and their deferred postmortems. Insert is
// idempotent per idempotency key.
type ExecutionRepo interface {
	Insert(ctx context.Context, ex Execution) error
	UpdatePostmortem(ctx context.Context, orderID string, postmortem []byte) error
	GetByIdempotencyKey(ctx context.Context, key string) (*Execution, error)
}

// AttributionRecord is an append-only audit row linking an order to the
// attention score, execution style and impact estimate that produced it.
type AttributionRecord struct {
	ID        int64     `json:"id" db:"id"`
	OrderID   string    `json:"order_id" db:"order_id"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Mechanism string    `json:"mechanism" db:"mechanism"`
	ASLF      float64   `json:"aslf" db:"aslf"`
	Style     string    `json:"style" db:"style"`
	ImpactBps float64   `json:"impact_bps" db:"impact_bps"`
	Status    string    `json:"status" db:"status"`
	Notes     string    `json:"notes" db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AttributionRepo stores audit rows. Insert is idempotent per order id, so a
// retried submission step yields exactly one row.
type AttributionRepo interface {
	Insert(ctx context.Context, rec AttributionRecord) error
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]AttributionRecord, error)
}

// EquityStats is one row of the equity bookkeeping series.
type EquityStats struct {
	ID            int64     `json:"id" db:"id"`
	Equity        float64   `json:"equity" db:"equity"`
	HighWaterMark float64   `json:"high_water_mark" db:"high_water_mark"`
	MaxDrawdown   float64   `json:"max_drawdown" db:"max_drawdown"`
	RoMaD         float64   `json:"romad" db:"romad"`
	Notes         string    `json:"notes" db:"notes"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// EquityRepo reads and appends the equity series.
type EquityRepo interface {
	Latest(ctx context.Context) (*EquityStats, error) // ErrNotFound before first row
	Insert(ctx context.Context, stats EquityStats) error
}

// PolicyRepo reads the global trading-enabled flag.
type PolicyRepo interface {
	TradingEnabled(ctx context.Context) (bool, error)
}

// Checkpoint is the persisted cursor of one pipeline instance. Steps already
// completed are replayed from Outputs instead of re-executed on resume.
type Checkpoint struct {
	PipelineID string            `json:"pipeline_id" db:"pipeline_id"`
	Symbol     string            `json:"symbol" db:"symbol"`
	Cursor     string            `json:"cursor" db:"cursor"` // last completed step
	Outputs    map[string][]byte `json:"outputs" db:"-"`     // step name -> JSON output
	Status     string            `json:"status" db:"status"` // running|rejected|executed|sliced
	Reason     string            `json:"reason" db:"reason"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`
}

// PipelineRepo persists pipeline checkpoints for crash resume.
type PipelineRepo interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, pipelineID string) (*Checkpoint, error) // ErrNotFound for fresh runs
}

// Repository aggregates the persistence interfaces the orchestrator wires.
type Repository struct {
	Bandits      BanditStore
	Attention    AttentionStore
	Evidence     EvidenceRepo
	Executions   ExecutionRepo
	Attributions AttributionRepo
	Equity       EquityRepo
	Policy       PolicyRepo
	Pipelines    PipelineRepo
}
