package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/traderun/internal/domain"
	"github.com/sawpanic/traderun/internal/marketdata"
	"github.com/sawpanic/traderun/internal/persistence"
	"github.com/sawpanic/traderun/internal/persistence/memory"
)

func TestMockSubmitterFillsAtLastPrice(t *testing.T) {
	market := marketdata.NewFake()
	market.SetPrice("BTCUSDT", 50000)
	repo := memory.NewExecutionRepo()
	sub := NewMockSubmitter(market, repo, 100)

	res, err := sub.Submit(context.Background(), OrderRequest{
		Symbol:         "BTCUSDT",
		Side:           domain.SideBuy,
		QuoteNotional:  100,
		IdempotencyKey: "pipe-1:BTCUSDT",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusMockFilled, res.Status)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, 50000.0, res.AvgPrice)
	require.Len(t, res.Fills, 1)
	assert.InDelta(t, 0.002, res.Fills[0].Qty, 1e-9)
	assert.Equal(t, 100.0, res.Fills[0].QuoteQty)

	stored, err := repo.GetByIdempotencyKey(context.Background(), "pipe-1:BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, res.OrderID, stored.OrderID)
	assert.Equal(t, StatusMockFilled, stored.Status)
}

func TestMockSubmitterIsIdempotent(t *testing.T) {
	market := marketdata.NewFake()
	market.SetPrice("BTCUSDT", 50000)
	repo := memory.NewExecutionRepo()
	sub := NewMockSubmitter(market, repo, 100)

	req := OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy,
		QuoteNotional: 100, IdempotencyKey: "pipe-1:BTCUSDT",
	}
	first, err := sub.Submit(context.Background(), req)
	require.NoError(t, err)

	// Price moves; the replay must still return the original fill.
	market.SetPrice("BTCUSDT", 60000)
	second, err := sub.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.AvgPrice, second.AvgPrice)
}

// outageExecutions fails idempotency lookups to simulate a store outage.
type outageExecutions struct {
	persistence.ExecutionRepo
}

func (o *outageExecutions) GetByIdempotencyKey(ctx context.Context, key string) (*persistence.Execution, error) {
	return nil, errors.New("store unavailable")
}

func TestMockSubmitterErrorsWhenLookupFails(t *testing.T) {
	market := marketdata.NewFake()
	market.SetPrice("BTCUSDT", 50000)
	repo := &outageExecutions{ExecutionRepo: memory.NewExecutionRepo()}
	sub := NewMockSubmitter(market, repo, 100)

	// An unreadable idempotency record must never fall through to a fresh
	// submission.
	_, err := sub.Submit(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy,
		QuoteNotional: 100, IdempotencyKey: "pipe-1:BTCUSDT",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, persistence.ErrNotFound)
}

func TestMockSubmitterClassifiesVenueFailure(t *testing.T) {
	market := marketdata.NewFake() // no price -> ErrUnavailable
	repo := memory.NewExecutionRepo()
	sub := NewMockSubmitter(market, repo, 100)

	res, err := sub.Submit(context.Background(), OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideBuy,
		QuoteNotional: 100, IdempotencyKey: "pipe-1:BTCUSDT",
	})
	require.NoError(t, err, "venue failures classify, they do not error")
	assert.Equal(t, StatusExchangeError, res.Status)
	assert.Empty(t, res.OrderID)

	stored, err := repo.GetByIdempotencyKey(context.Background(), "pipe-1:BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, StatusExchangeError, stored.Status)
}
