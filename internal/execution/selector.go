// Package execution chooses an execution style for a sized order and submits
// it, either directly or sliced over time.
package execution

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/traderun/internal/config"
	"github.com/sawpanic/traderun/internal/marketdata"
)

// Style is the execution style for an order.
type Style string

const (
	StyleMarket Style = "MARKET"
	StyleTWAP   Style = "TWAP"
	StyleVWAP   Style = "VWAP"
	StylePOV    Style = "POV"
)

// twapVolCutoff splits time-weighted from volume-weighted slicing.
const twapVolCutoff = 0.03

const (
	minSlices = 1
	maxSlices = 20
)

// Plan is the selector's recommendation for one order.
type Plan struct {
	Style           Style   `json:"style"`
	Slices          int     `json:"slices"`
	DurationMinutes int     `json:"duration_minutes"`
	Participation   float64 `json:"participation"` // per-slice fraction of volume, 0 for MARKET
	ImpactBps       float64 `json:"impact_bps"`
	ThresholdBps    float64 `json:"threshold_bps"`
	SpreadBps       float64 `json:"spread_bps"`
	DepthRatio      float64 `json:"depth_ratio"`
	Vol             float64 `json:"vol"`
	Overridden      bool    `json:"overridden"` // hard slippage cap forced POV
}

// Selector estimates market impact from the live book and picks a style.
type Selector struct {
	cfg    config.ExecutionConfig
	market marketdata.BookReader
}

// NewSelector wires a selector over the book reader.
func NewSelector(cfg config.ExecutionConfig, market marketdata.BookReader) *Selector {
	return &Selector{cfg: cfg, market: market}
}

// Choose fetches the book, estimates impact for the notional and maps it to a
// style. Volatility comes from the caller, which already measured it for the
// attention gate.
func (s *Selector) Choose(ctx context.Context, symbol string, notional, vol float64) (Plan, error) {
	book, err := s.market.Book(ctx, symbol, 5)
	if err != nil {
		return Plan{}, fmt.Errorf("fetch book for %s: %w", symbol, err)
	}
	spread := book.SpreadBps()
	depthRatio := book.DepthRatio(notional)

	impact := EstimateImpactBps(spread, depthRatio, vol, notional)
	threshold := s.cfg.MaxImpactBps * (1 + vol*10)

	plan := Plan{
		ImpactBps:    impact,
		ThresholdBps: threshold,
		SpreadBps:    spread,
		DepthRatio:   depthRatio,
		Vol:          vol,
	}
	if impact <= threshold {
		plan.Style = StyleMarket
		plan.Slices = 1
		return plan, nil
	}

	slices := int(math.Ceil((impact / s.cfg.TargetImpactBps) * math.Max(1, vol*50)))
	if slices < minSlices {
		slices = minSlices
	}
	if slices > maxSlices {
		slices = maxSlices
	}
	plan.Slices = slices
	plan.Participation = sliceParticipation(slices)
	if vol > twapVolCutoff {
		plan.Style = StyleTWAP
		plan.DurationMinutes = 2 * slices
	} else {
		plan.Style = StyleVWAP
		plan.DurationMinutes = slices
	}
	log.Debug().
		Str("symbol", symbol).
		Str("style", string(plan.Style)).
		Float64("impact_bps", impact).
		Int("slices", slices).
		Msg("execution style chosen")
	return plan, nil
}

// EstimateImpactBps is the slippage proxy: half the spread, depth-diminished
// market impact, a volatility premium and a mild size penalty.
func EstimateImpactBps(spreadBps, depthRatio, vol, notional float64) float64 {
	depthTerm := 100 / math.Max(1, depthRatio)
	volTerm := vol * 1e4 * 0.5
	sizeTerm := math.Log10(math.Max(1, notional/1000)) * 2
	return spreadBps/2 + depthTerm + volTerm + sizeTerm
}

// CapSlippage applies the orchestrator-level hard cap: when estimated impact
// exceeds the maximum tolerated slippage the plan becomes POV with at least
// five slices, regardless of what the selector recommended.
func CapSlippage(p Plan, maxSlippageBps float64) Plan {
	if p.ImpactBps <= maxSlippageBps {
		return p
	}
	p.Style = StylePOV
	if p.Slices < 5 {
		p.Slices = 5
	}
	if p.DurationMinutes < p.Slices {
		p.DurationMinutes = p.Slices
	}
	p.Participation = sliceParticipation(p.Slices)
	p.Overridden = true
	return p
}

func sliceParticipation(slices int) float64 {
	return math.Max(0.05, math.Min(0.15, 10/float64(slices)/10))
}
