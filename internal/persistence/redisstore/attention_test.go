package redisstore

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/traderun/internal/persistence"
)

func TestAttentionStoreMissingSymbol(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewAttentionStore(client, time.Second)

	mock.ExpectHGetAll("attention:BTCUSDT").SetVal(map[string]string{})

	_, found, err := store.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttentionStoreRoundTrip(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewAttentionStore(client, time.Second)

	updated := time.Unix(0, 1700000000000000000)
	state := persistence.AttentionState{Fast: 2.5, Slow: 0.75, UpdatedAt: updated}

	mock.ExpectHSet("attention:BTCUSDT",
		"fast", "2.5",
		"slow", "0.75",
		"updated_at", strconv.FormatInt(updated.UnixNano(), 10),
	).SetVal(3)
	mock.ExpectHGetAll("attention:BTCUSDT").SetVal(map[string]string{
		"fast":       "2.5",
		"slow":       "0.75",
		"updated_at": strconv.FormatInt(updated.UnixNano(), 10),
	})

	require.NoError(t, store.Put(context.Background(), "BTCUSDT", state))

	got, found, err := store.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2.5, got.Fast)
	assert.Equal(t, 0.75, got.Slow)
	assert.True(t, got.UpdatedAt.Equal(updated))
	assert.NoError(t, mock.ExpectationsWereMet())
}
