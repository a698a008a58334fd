package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/traderun/internal/config"
	"github.com/sawpanic/traderun/internal/domain"
	"github.com/sawpanic/traderun/internal/marketdata"
)

// VenueRules pre-checks a proposal against venue constraints: an optional
// symbol allowlist, a live price, and the minimum viable notional. The check
// is best-effort unless configured as required; unreachable venue data then
// passes rather than rejecting.
type VenueRules struct {
	cfg         config.PipelineConfig
	market      marketdata.PriceReader
	equityStart float64
	minNotional float64
}

// NewVenueRules wires the validator.
func NewVenueRules(cfg config.PipelineConfig, riskCfg config.RiskConfig, market marketdata.PriceReader) *VenueRules {
	return &VenueRules{
		cfg:         cfg,
		market:      market,
		equityStart: riskCfg.EquityStart,
		minNotional: riskCfg.MinNotional,
	}
}

// Validate returns nil when the proposal may proceed to execution checks.
func (v *VenueRules) Validate(ctx context.Context, p *domain.Proposal) error {
	if len(v.cfg.AllowedSymbols) > 0 && !contains(v.cfg.AllowedSymbols, p.Symbol) {
		return fmt.Errorf("symbol %s not in allowlist", p.Symbol)
	}

	impliedNotional := v.equityStart * p.SizeBpsEquity / 1e4
	if impliedNotional < v.minNotional {
		return fmt.Errorf("implied notional %.2f below venue minimum %.2f", impliedNotional, v.minNotional)
	}

	price, err := v.market.LastPrice(ctx, p.Symbol)
	if err != nil {
		if v.cfg.VenueRulesRequired {
			return fmt.Errorf("no tradable price for %s: %w", p.Symbol, err)
		}
		log.Debug().Str("symbol", p.Symbol).Err(err).Msg("venue rules check degraded, passing best-effort")
		return nil
	}
	if price <= 0 {
		return fmt.Errorf("non-positive price %.8f for %s", price, p.Symbol)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
