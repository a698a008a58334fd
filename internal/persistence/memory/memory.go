// Package memory provides in-process Repository implementations backed by
// mutex-guarded maps. Used by tests and by single-process mock runs; the
// optimistic-concurrency contract matches the postgres implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/traderun/internal/persistence"
)

// BanditStore is a versioned in-memory bandit posterior store.
type BanditStore struct {
	mu     sync.Mutex
	states map[string]persistence.BanditState
}

// NewBanditStore returns an empty store.
func NewBanditStore() *BanditStore {
	return &BanditStore{states: make(map[string]persistence.BanditState)}
}

// Read implements persistence.BanditStore.
func (s *BanditStore) Read(ctx context.Context, key string) (persistence.BanditState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	if !ok {
		return persistence.BanditState{}, persistence.ErrNotFound
	}
	return st, nil
}

// Write implements persistence.BanditStore with compare-and-swap semantics.
func (s *BanditStore) Write(ctx context.Context, state persistence.BanditState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.states[state.Key]
	if !ok {
		if state.Version != 0 {
			return persistence.ErrVersionConflict
		}
	} else if cur.Version != state.Version {
		return persistence.ErrVersionConflict
	}
	state.Version++
	s.states[state.Key] = state
	return nil
}

// AttentionStore is a sharded in-memory attention state store.
type AttentionStore struct {
	mu     sync.RWMutex
	states map[string]persistence.AttentionState
}

// NewAttentionStore returns an empty store.
func NewAttentionStore() *AttentionStore {
	return &AttentionStore{states: make(map[string]persistence.AttentionState)}
}

// Get implements persistence.AttentionStore.
func (s *AttentionStore) Get(ctx context.Context, symbol string) (persistence.AttentionState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[symbol]
	return st, ok, nil
}

// Put implements persistence.AttentionStore.
func (s *AttentionStore) Put(ctx context.Context, symbol string, state persistence.AttentionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[symbol] = state
	return nil
}

// EvidenceRepo is an in-memory evidence artifact store.
type EvidenceRepo struct {
	mu   sync.Mutex
	rows []persistence.EvidenceArtifact
}

// NewEvidenceRepo returns an empty repo.
func NewEvidenceRepo() *EvidenceRepo { return &EvidenceRepo{} }

// Insert stores one artifact, ignoring duplicates per (pipeline_id, url).
func (r *EvidenceRepo) Insert(ctx context.Context, art persistence.EvidenceArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.PipelineID == art.PipelineID && row.URL == art.URL {
			return nil
		}
	}
	art.ID = int64(len(r.rows) + 1)
	art.CreatedAt = time.Now()
	r.rows = append(r.rows, art)
	return nil
}

// LatestHash returns the most recent hash recorded for (pipelineID, url).
func (r *EvidenceRepo) LatestHash(ctx context.Context, pipelineID, url string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].PipelineID == pipelineID && r.rows[i].URL == url {
			return r.rows[i].SHA256, nil
		}
	}
	return "", persistence.ErrNotFound
}

// ExecutionRepo is an in-memory execution store keyed by idempotency key.
type ExecutionRepo struct {
	mu   sync.Mutex
	rows map[string]*persistence.Execution
}

// NewExecutionRepo returns an empty repo.
func NewExecutionRepo() *ExecutionRepo {
	return &ExecutionRepo{rows: make(map[string]*persistence.Execution)}
}

// Insert stores one execution; a duplicate idempotency key is a no-op.
func (r *ExecutionRepo) Insert(ctx context.Context, ex persistence.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[ex.IdempotencyKey]; ok {
		return nil
	}
	ex.ID = int64(len(r.rows) + 1)
	ex.CreatedAt = time.Now()
	r.rows[ex.IdempotencyKey] = &ex
	return nil
}

// UpdatePostmortem attaches a postmortem payload to the matching order.
func (r *ExecutionRepo) UpdatePostmortem(ctx context.Context, orderID string, postmortem []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.rows {
		if ex.OrderID == orderID {
			ex.Postmortem = postmortem
			return nil
		}
	}
	return persistence.ErrNotFound
}

// GetByIdempotencyKey returns the stored execution for key.
func (r *ExecutionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*persistence.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ex, ok := r.rows[key]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	cp := *ex
	return &cp, nil
}

// AttributionRepo is an in-memory audit log keyed by order id.
type AttributionRepo struct {
	mu   sync.Mutex
	rows []persistence.AttributionRecord
	seen map[string]bool
}

// NewAttributionRepo returns an empty repo.
func NewAttributionRepo() *AttributionRepo {
	return &AttributionRepo{seen: make(map[string]bool)}
}

// Insert appends one audit row; duplicate order ids are dropped.
func (r *AttributionRepo) Insert(ctx context.Context, rec persistence.AttributionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.OrderID != "" && r.seen[rec.OrderID] {
		return nil
	}
	rec.ID = int64(len(r.rows) + 1)
	rec.CreatedAt = time.Now()
	r.rows = append(r.rows, rec)
	if rec.OrderID != "" {
		r.seen[rec.OrderID] = true
	}
	return nil
}

// ListBySymbol returns audit rows for symbol, newest first.
func (r *AttributionRepo) ListBySymbol(ctx context.Context, symbol string, limit int) ([]persistence.AttributionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []persistence.AttributionRecord
	for _, rec := range r.rows {
		if rec.Symbol == symbol {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EquityRepo is an in-memory equity series.
type EquityRepo struct {
	mu   sync.Mutex
	rows []persistence.EquityStats
}

// NewEquityRepo returns an empty repo.
func NewEquityRepo() *EquityRepo { return &EquityRepo{} }

// Latest returns the newest equity row.
func (r *EquityRepo) Latest(ctx context.Context) (*persistence.EquityStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rows) == 0 {
		return nil, persistence.ErrNotFound
	}
	cp := r.rows[len(r.rows)-1]
	return &cp, nil
}

// Insert appends one equity row.
func (r *EquityRepo) Insert(ctx context.Context, stats persistence.EquityStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats.ID = int64(len(r.rows) + 1)
	stats.CreatedAt = time.Now()
	r.rows = append(r.rows, stats)
	return nil
}

// PolicyRepo is a settable in-memory trading flag.
type PolicyRepo struct {
	mu      sync.Mutex
	enabled bool
}

// NewPolicyRepo returns a repo with trading enabled.
func NewPolicyRepo() *PolicyRepo { return &PolicyRepo{enabled: true} }

// SetEnabled flips the trading flag.
func (r *PolicyRepo) SetEnabled(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = v
}

// TradingEnabled implements persistence.PolicyRepo.
func (r *PolicyRepo) TradingEnabled(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled, nil
}

// PipelineRepo is an in-memory checkpoint store.
type PipelineRepo struct {
	mu   sync.Mutex
	rows map[string]persistence.Checkpoint
}

// NewPipelineRepo returns an empty repo.
func NewPipelineRepo() *PipelineRepo {
	return &PipelineRepo{rows: make(map[string]persistence.Checkpoint)}
}

// Save upserts the checkpoint for a pipeline instance.
func (r *PipelineRepo) Save(ctx context.Context, cp persistence.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp.UpdatedAt = time.Now()
	outputs := make(map[string][]byte, len(cp.Outputs))
	for k, v := range cp.Outputs {
		outputs[k] = append([]byte(nil), v...)
	}
	cp.Outputs = outputs
	r.rows[cp.PipelineID] = cp
	return nil
}

// Load returns the checkpoint for pipelineID. Outputs are copied so callers
// can mutate the returned checkpoint without writing through to the store.
func (r *PipelineRepo) Load(ctx context.Context, pipelineID string) (*persistence.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.rows[pipelineID]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	outputs := make(map[string][]byte, len(cp.Outputs))
	for k, v := range cp.Outputs {
		outputs[k] = append([]byte(nil), v...)
	}
	cp.Outputs = outputs
	return &cp, nil
}

// NewRepository bundles fresh in-memory implementations of every interface.
func NewRepository() *persistence.Repository {
	return &persistence.Repository{
		Bandits:      NewBanditStore(),
		Attention:    NewAttentionStore(),
		Evidence:     NewEvidenceRepo(),
		Executions:   NewExecutionRepo(),
		Attributions: NewAttributionRepo(),
		Equity:       NewEquityRepo(),
		Policy:       NewPolicyRepo(),
		Pipelines:    NewPipelineRepo(),
	}
}
