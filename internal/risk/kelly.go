// Package risk holds the sizing, drawdown-simulation and bandit components
// that sit between the attention gate and execution.
package risk

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/traderun/internal/config"
	"github.com/sawpanic/traderun/internal/persistence"
)

// FractionalKelly returns the Kelly-fraction notional capped at kCap of
// equity. Non-positive variance sizes to zero.
func FractionalKelly(edge, variance, kCap, equity float64) float64 {
	if variance <= 0 {
		return 0
	}
	k := math.Max(0, math.Min(edge/variance, kCap))
	return k * equity
}

// Sizer maps proposal confidence and the attention score to a quote notional.
// Sizing works off the latest recorded equity so realized PnL compounds into
// subsequent orders.
type Sizer struct {
	cfg    config.RiskConfig
	equity persistence.EquityRepo
}

// NewSizer builds a sizer from the risk configuration. A nil equity repo
// sizes from the configured starting equity.
func NewSizer(cfg config.RiskConfig, equity persistence.EquityRepo) *Sizer {
	return &Sizer{cfg: cfg, equity: equity}
}

// equityBase returns the latest recorded equity, falling back to the starting
// equity before the first row or when the read fails.
func (s *Sizer) equityBase(ctx context.Context) float64 {
	if s.equity == nil {
		return s.cfg.EquityStart
	}
	latest, err := s.equity.Latest(ctx)
	if errors.Is(err, persistence.ErrNotFound) {
		return s.cfg.EquityStart
	}
	if err != nil {
		log.Warn().Err(err).Msg("equity read failed, sizing from starting equity")
		return s.cfg.EquityStart
	}
	return latest.Equity
}

// Notional returns the order size in quote currency. probeBps > 0 overrides
// the Kelly size with a fixed fraction of equity; the floor and cap apply
// either way.
func (s *Sizer) Notional(ctx context.Context, confidence, aslf, probeBps float64) float64 {
	equity := s.equityBase(ctx)
	edge := math.Max(0, confidence-0.5) + math.Max(0, aslf)*s.cfg.KAttention
	var size float64
	if probeBps > 0 {
		size = equity * probeBps / 1e4
	} else {
		size = FractionalKelly(edge, s.cfg.VariancePlace, s.cfg.KellyCap, equity)
	}
	return math.Max(s.cfg.MinNotional, math.Min(size, equity*s.cfg.KellyCap))
}

// NextEquityStats rolls the equity bookkeeping forward one observation:
// high-water mark, max drawdown and return-over-max-drawdown.
func NextEquityStats(prev persistence.EquityStats, equity float64) persistence.EquityStats {
	hwm := math.Max(prev.HighWaterMark, equity)
	mdd := math.Max(prev.MaxDrawdown, hwm-equity)
	denom := mdd
	if denom <= 0 {
		denom = 1
	}
	romad := (equity - prev.Equity + (prev.Equity - (prev.HighWaterMark - prev.MaxDrawdown))) / denom
	return persistence.EquityStats{
		Equity:        equity,
		HighWaterMark: hwm,
		MaxDrawdown:   mdd,
		RoMaD:         romad,
	}
}
