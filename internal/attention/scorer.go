// Package attention implements the ASLF gate: a burst-intensity attention
// score netted against a liquidity friction penalty. The score decides whether
// a proposal is worth routing into the risk and execution stages at all.
package attention

import (
	"context"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/traderun/internal/collector"
	"github.com/sawpanic/traderun/internal/config"
	"github.com/sawpanic/traderun/internal/marketdata"
	"github.com/sawpanic/traderun/internal/metrics"
	"github.com/sawpanic/traderun/internal/persistence"
)

// Decision is the gate outcome for one scored symbol.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionFade  Decision = "fade"
	DecisionDeny  Decision = "deny"
)

// failClosedScore is the sentinel ASLF assigned when liquidity friction cannot
// be measured. Market data loss denies; it never silently passes.
const failClosedScore = -1e9

// volLookback is how many recent returns feed the realized-volatility term.
const volLookback = 30

// Score is the full scored breakdown for one symbol.
type Score struct {
	Symbol        string   `json:"symbol"`
	Decision      Decision `json:"decision"`
	ASLF          float64  `json:"aslf"`
	AAS           float64  `json:"aas"`
	LMF           float64  `json:"lmf"`
	Burst         float64  `json:"burst"`
	Authority     float64  `json:"authority"`
	SpreadBps     float64  `json:"spread_bps"`
	DepthRatio    float64  `json:"depth_ratio"`
	Price         float64  `json:"price"`
	Vol           float64  `json:"vol"`
	Docs          int      `json:"docs"`
	UniqueSources int      `json:"unique_sources"`
}

// Scorer maintains per-symbol burst estimator state and scores proposals.
// Updates to one symbol's state are serialized; different symbols score
// concurrently.
type Scorer struct {
	cfg    config.AttentionConfig
	store  persistence.AttentionStore
	market marketdata.Facade
	docs   collector.Collector

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewScorer wires a scorer over the attention store, market data facade and
// document collector.
func NewScorer(cfg config.AttentionConfig, store persistence.AttentionStore, market marketdata.Facade, docs collector.Collector) *Scorer {
	return &Scorer{
		cfg:    cfg,
		store:  store,
		market: market,
		docs:   docs,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

func (s *Scorer) keyLock(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		s.locks[symbol] = l
	}
	return l
}

// Score collects recent documents for symbol, updates the burst estimator and
// nets the attention score against liquidity friction. When the order book is
// unreachable the gate fails closed with a deny.
func (s *Scorer) Score(ctx context.Context, symbol string, horizonMinutes int) (Score, error) {
	lock := s.keyLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	docs, err := s.docs.Collect(ctx, symbol, horizonMinutes)
	if err != nil {
		// Attention degrades gracefully; only friction loss denies.
		log.Warn().Str("symbol", symbol).Err(err).Msg("document collection failed, scoring with zero arrivals")
		docs = nil
	}
	uniq := uniqueSources(docs)
	burst, err := s.updateBurst(ctx, symbol, len(docs), uniq)
	if err != nil {
		return Score{}, err
	}
	metrics.BurstScore.Observe(burst)

	auth := s.authorityWeight(uniq)
	aas := burst * auth

	sc := Score{
		Symbol:        symbol,
		AAS:           aas,
		Burst:         burst,
		Authority:     auth,
		Docs:          len(docs),
		UniqueSources: uniq,
	}

	book, err := s.market.Book(ctx, symbol, 5)
	if err != nil {
		log.Warn().Str("symbol", symbol).Err(err).Msg("order book unavailable, ASLF fails closed")
		sc.LMF = math.Inf(1)
		sc.ASLF = failClosedScore
		sc.Decision = DecisionDeny
		metrics.AttentionDecisions.WithLabelValues(string(sc.Decision)).Inc()
		return sc, nil
	}
	sc.SpreadBps = book.SpreadBps()
	sc.DepthRatio = book.DepthRatio(s.cfg.ProbeNotional)
	sc.Price = book.Mid()
	sc.Vol = s.realizedVol(ctx, symbol)

	sc.LMF = s.cfg.LMFAlpha*sc.SpreadBps - s.cfg.LMFBeta*math.Log(1+sc.DepthRatio) + s.cfg.LMFGamma*sc.Vol
	sc.ASLF = aas - s.cfg.Lambda*sc.LMF

	switch {
	case sc.ASLF >= s.cfg.ThetaBuy:
		sc.Decision = DecisionAllow
	case sc.ASLF <= s.cfg.ThetaFade:
		sc.Decision = DecisionFade
	default:
		sc.Decision = DecisionDeny
	}
	metrics.AttentionDecisions.WithLabelValues(string(sc.Decision)).Inc()
	log.Info().
		Str("symbol", symbol).
		Float64("aslf", sc.ASLF).
		Float64("burst", burst).
		Int("unique_sources", uniq).
		Str("decision", string(sc.Decision)).
		Msg("attention gate scored")
	return sc, nil
}

// updateBurst advances the two-horizon intensity estimator and returns the
// burst ratio of fast intensity over the slow baseline.
func (s *Scorer) updateBurst(ctx context.Context, symbol string, arrivals, uniq int) (float64, error) {
	now := s.now()
	state, found, err := s.store.Get(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if !found {
		state = persistence.AttentionState{UpdatedAt: now}
	}
	dt := math.Max(0, now.Sub(state.UpdatedAt).Seconds())
	wf := decayWeight(dt, s.cfg.FastTauSeconds)
	ws := decayWeight(dt, s.cfg.SlowTauSeconds)

	n := float64(arrivals)
	state.Fast = state.Fast*wf + n*(1-wf)
	state.Slow = state.Slow*ws + n*(1-ws)
	state.UpdatedAt = now
	if err := s.store.Put(ctx, symbol, state); err != nil {
		return 0, err
	}

	burst := state.Fast / math.Max(1e-6, state.Slow)
	if uniq < s.cfg.MinUniqueSources {
		burst *= 0.5
	}
	return burst, nil
}

func (s *Scorer) authorityWeight(uniq int) float64 {
	k := float64(s.cfg.MinUniqueSources)
	if k < 5 {
		k = 5
	}
	return math.Max(0, math.Min(1, float64(uniq)/k))
}

// realizedVol is the sample standard deviation of recent per-step returns.
// Unavailable return history contributes zero friction rather than denying.
func (s *Scorer) realizedVol(ctx context.Context, symbol string) float64 {
	rets, err := s.market.RecentReturns(ctx, symbol, volLookback)
	if err != nil || len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var ss float64
	for _, r := range rets {
		d := r - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(rets)-1))
}

func decayWeight(dtSeconds, tauSeconds float64) float64 {
	if tauSeconds <= 0 {
		return 0
	}
	return math.Exp(-math.Max(0, dtSeconds) / tauSeconds)
}

func uniqueSources(docs []collector.Document) int {
	hosts := make(map[string]bool)
	for _, d := range docs {
		u, err := url.Parse(d.URL)
		if err != nil || u.Host == "" {
			continue
		}
		hosts[u.Host] = true
	}
	return len(hosts)
}
