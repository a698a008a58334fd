package risk

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/traderun/internal/config"
	"github.com/sawpanic/traderun/internal/marketdata"
)

// SimResult is the drawdown simulator verdict for one proposal.
type SimResult struct {
	OK           bool    `json:"ok"`
	ProbDDExceed float64 `json:"prob_dd_exceed"`
}

// Simulator estimates whether the expected drawdown over the proposal horizon
// exceeds the configured limit. Unreachable market data fails open: the
// simulator is advisory, the hard stop is the attention gate.
type Simulator struct {
	cfg    config.RiskConfig
	market marketdata.ReturnsReader
}

// NewSimulator builds a simulator over the returns reader.
func NewSimulator(cfg config.RiskConfig, market marketdata.ReturnsReader) *Simulator {
	return &Simulator{cfg: cfg, market: market}
}

// Assess pulls recent per-step returns and applies a normal approximation:
// expected drawdown over h steps is |mu|*h + 2*sigma*sqrt(h), compared against
// the bps limit.
func (s *Simulator) Assess(ctx context.Context, symbol string, horizonMinutes int) (SimResult, error) {
	rets, err := s.market.RecentReturns(ctx, symbol, s.cfg.ReturnLookback)
	if err != nil {
		log.Warn().Str("symbol", symbol).Err(err).Msg("return history unavailable, drawdown sim passes open")
		return SimResult{OK: true, ProbDDExceed: 0}, nil
	}
	steps := horizonMinutes
	if steps > s.cfg.DDHorizonCap {
		steps = s.cfg.DDHorizonCap
	}
	prob := probabilityDrawdownExceeds(rets, steps, s.cfg.DDLimitBps)
	return SimResult{OK: prob < 0.5, ProbDDExceed: prob}, nil
}

// probabilityDrawdownExceeds is a coarse proxy: 1 when the approximated
// drawdown magnitude crosses the limit, else 0.
func probabilityDrawdownExceeds(returns []float64, horizonSteps int, ddLimitBps float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var mu float64
	for _, r := range returns {
		mu += r
	}
	mu /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		d := r - mu
		ss += d * d
	}
	sigma := math.Sqrt(ss / float64(len(returns)))
	if sigma == 0 {
		sigma = 1e-6
	}
	h := float64(horizonSteps)
	expectedDD := math.Abs(mu)*h + 2*sigma*math.Sqrt(h)
	if expectedDD*1e4 > ddLimitBps {
		return 1
	}
	return 0
}
