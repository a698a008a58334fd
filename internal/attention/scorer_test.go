package attention

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/traderun/internal/collector"
	"github.com/sawpanic/traderun/internal/config"
	"github.com/sawpanic/traderun/internal/marketdata"
	"github.com/sawpanic/traderun/internal/persistence/memory"
)

func docsFromHosts(hosts ...string) []collector.Document {
	out := make([]collector.Document, 0, len(hosts))
	for i, h := range hosts {
		out = append(out, collector.Document{URL: fmt.Sprintf("https://%s/article-%d", h, i)})
	}
	return out
}

func deepBook() *marketdata.OrderBook {
	return &marketdata.OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []marketdata.Level{{Price: 100.00, Qty: 100}},
		Asks:   []marketdata.Level{{Price: 100.01, Qty: 100}},
	}
}

func shallowBook(spreadBps float64) *marketdata.OrderBook {
	half := spreadBps / 2 / 1e4 * 100
	return &marketdata.OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []marketdata.Level{{Price: 100 - half, Qty: 0.25}},
		Asks:   []marketdata.Level{{Price: 100 + half, Qty: 0.25}},
	}
}

func newTestScorer(docs []collector.Document, book *marketdata.OrderBook) (*Scorer, *marketdata.Fake) {
	market := marketdata.NewFake()
	if book != nil {
		market.SetBook("BTCUSDT", book)
	}
	repo := memory.NewRepository()
	s := NewScorer(config.DefaultAttentionConfig(), repo.Attention, market, &collector.Static{Docs: docs})
	return s, market
}

func TestScoreFailsClosedWithoutBook(t *testing.T) {
	s, _ := newTestScorer(docsFromHosts("a.example", "b.example"), nil)

	sc, err := s.Score(context.Background(), "BTCUSDT", 60)
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, sc.Decision)
	assert.Less(t, sc.ASLF, -1e8)
	assert.True(t, sc.ASLF < 0)
}

func TestBurstGrowsBetweenObservations(t *testing.T) {
	s, _ := newTestScorer(
		docsFromHosts("a.example", "b.example", "c.example", "d.example", "e.example"),
		deepBook(),
	)
	base := time.Now()
	s.now = func() time.Time { return base }

	first, err := s.Score(context.Background(), "BTCUSDT", 60)
	require.NoError(t, err)

	// A minute later the fast horizon has absorbed far more of the arrivals
	// than the slow baseline.
	s.now = func() time.Time { return base.Add(time.Minute) }
	second, err := s.Score(context.Background(), "BTCUSDT", 60)
	require.NoError(t, err)

	assert.Greater(t, second.Burst, first.Burst)
	assert.Greater(t, second.Burst, 1.0)
	assert.Equal(t, DecisionAllow, second.Decision)
	assert.Equal(t, 5, second.UniqueSources)
	assert.Equal(t, 1.0, second.Authority)
}

func TestIntensityDecaysWithoutArrivals(t *testing.T) {
	s, _ := newTestScorer(
		docsFromHosts("a.example", "b.example", "c.example"),
		deepBook(),
	)
	base := time.Now()
	ctx := context.Background()

	// Two observations with arrivals push the fast intensity above zero.
	s.now = func() time.Time { return base }
	_, err := s.Score(ctx, "BTCUSDT", 60)
	require.NoError(t, err)
	s.now = func() time.Time { return base.Add(time.Minute) }
	_, err = s.Score(ctx, "BTCUSDT", 60)
	require.NoError(t, err)

	// Sources go quiet: every later observation sees zero arrivals, so both
	// intensities must decay toward the zero baseline without going negative.
	s.docs = &collector.Static{}

	prevFast := math.Inf(1)
	prevBurst := math.Inf(1)
	firstQuietBurst := 0.0
	for i := 2; i <= 6; i++ {
		offset := time.Duration(i) * time.Minute
		s.now = func() time.Time { return base.Add(offset) }
		sc, err := s.Score(ctx, "BTCUSDT", 60)
		require.NoError(t, err)

		state, found, serr := s.store.Get(ctx, "BTCUSDT")
		require.NoError(t, serr)
		require.True(t, found)

		assert.GreaterOrEqual(t, state.Fast, 0.0)
		assert.GreaterOrEqual(t, state.Slow, 0.0)
		assert.GreaterOrEqual(t, sc.Burst, 0.0)
		assert.Less(t, state.Fast, prevFast, "fast intensity must decay monotonically")
		assert.Less(t, sc.Burst, prevBurst, "burst must trend toward the baseline")
		prevFast, prevBurst = state.Fast, sc.Burst
		if firstQuietBurst == 0 {
			firstQuietBurst = sc.Burst
		}
	}
	assert.Less(t, prevBurst, firstQuietBurst/2)
}

func TestLowDiversityHalvesBurst(t *testing.T) {
	diverse, _ := newTestScorer(
		docsFromHosts("a.example", "b.example", "c.example"),
		deepBook(),
	)
	narrow, _ := newTestScorer(
		docsFromHosts("a.example", "a.example", "a.example"),
		deepBook(),
	)
	base := time.Now()
	for _, s := range []*Scorer{diverse, narrow} {
		s.now = func() time.Time { return base }
		_, err := s.Score(context.Background(), "BTCUSDT", 60)
		require.NoError(t, err)
		s.now = func() time.Time { return base.Add(time.Minute) }
	}

	d, err := diverse.Score(context.Background(), "BTCUSDT", 60)
	require.NoError(t, err)
	n, err := narrow.Score(context.Background(), "BTCUSDT", 60)
	require.NoError(t, err)

	assert.InDelta(t, d.Burst/2, n.Burst, 1e-9)
}

func TestNeutralBandDenies(t *testing.T) {
	s, _ := newTestScorer(nil, shallowBook(2))

	sc, err := s.Score(context.Background(), "BTCUSDT", 60)
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, sc.Decision)
	assert.Greater(t, sc.ASLF, s.cfg.ThetaFade)
	assert.Less(t, sc.ASLF, s.cfg.ThetaBuy)
}

func TestHeavyFrictionFades(t *testing.T) {
	s, _ := newTestScorer(nil, shallowBook(10))

	sc, err := s.Score(context.Background(), "BTCUSDT", 60)
	require.NoError(t, err)
	assert.Equal(t, DecisionFade, sc.Decision)
	assert.LessOrEqual(t, sc.ASLF, s.cfg.ThetaFade)
}

func TestVolatilityAddsFriction(t *testing.T) {
	calm, _ := newTestScorer(nil, deepBook())
	hot, hotMarket := newTestScorer(nil, deepBook())
	hotMarket.SetReturns("BTCUSDT", []float64{0.05, -0.04, 0.06, -0.05, 0.04, -0.06})

	c, err := calm.Score(context.Background(), "BTCUSDT", 60)
	require.NoError(t, err)
	h, err := hot.Score(context.Background(), "BTCUSDT", 60)
	require.NoError(t, err)

	assert.Greater(t, h.LMF, c.LMF)
	assert.Less(t, h.ASLF, c.ASLF)
	assert.Greater(t, h.Vol, 0.0)
}
