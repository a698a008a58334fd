// Package redisstore implements the attention state store on Redis so burst
// intensities survive process restarts and are shared across workers.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sawpanic/traderun/internal/persistence"
)

// AttentionStore keeps per-symbol attention state in a Redis hash.
type AttentionStore struct {
	client  redis.Cmdable
	timeout time.Duration
}

// NewAttentionStore wraps a Redis client.
func NewAttentionStore(client redis.Cmdable, timeout time.Duration) *AttentionStore {
	return &AttentionStore{client: client, timeout: timeout}
}

func attentionKey(symbol string) string { return "attention:" + symbol }

// Get implements persistence.AttentionStore.
func (s *AttentionStore) Get(ctx context.Context, symbol string) (persistence.AttentionState, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, attentionKey(symbol)).Result()
	if err != nil {
		return persistence.AttentionState{}, false, fmt.Errorf("read attention state: %w", err)
	}
	if len(fields) == 0 {
		return persistence.AttentionState{}, false, nil
	}
	fast, err := strconv.ParseFloat(fields["fast"], 64)
	if err != nil {
		return persistence.AttentionState{}, false, fmt.Errorf("parse fast intensity: %w", err)
	}
	slow, err := strconv.ParseFloat(fields["slow"], 64)
	if err != nil {
		return persistence.AttentionState{}, false, fmt.Errorf("parse baseline intensity: %w", err)
	}
	nanos, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return persistence.AttentionState{}, false, fmt.Errorf("parse update timestamp: %w", err)
	}
	return persistence.AttentionState{
		Fast:      fast,
		Slow:      slow,
		UpdatedAt: time.Unix(0, nanos),
	}, true, nil
}

// Put implements persistence.AttentionStore.
func (s *AttentionStore) Put(ctx context.Context, symbol string, state persistence.AttentionState) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.client.HSet(ctx, attentionKey(symbol),
		"fast", strconv.FormatFloat(state.Fast, 'g', -1, 64),
		"slow", strconv.FormatFloat(state.Slow, 'g', -1, 64),
		"updated_at", strconv.FormatInt(state.UpdatedAt.UnixNano(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("write attention state: %w", err)
	}
	return nil
}
