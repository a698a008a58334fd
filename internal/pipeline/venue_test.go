package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/traderun/internal/config"
	"github.com/sawpanic/traderun/internal/domain"
	"github.com/sawpanic/traderun/internal/marketdata"
)

func venueProposal(symbol string, sizeBps float64) *domain.Proposal {
	return &domain.Proposal{
		Action: domain.ActionOpen, Symbol: symbol, Side: domain.SideBuy,
		SizeBpsEquity: sizeBps, HorizonMinutes: 60, Confidence: 0.6,
		Evidence: []domain.Evidence{{URL: "https://x.example/a", Type: domain.EvidenceNewsHeadline}},
	}
}

func TestVenueRulesAllowlist(t *testing.T) {
	cfg := config.DefaultPipelineConfig()
	cfg.AllowedSymbols = []string{"BTCUSDT", "ETHUSDT"}
	market := marketdata.NewFake()
	market.SetPrice("BTCUSDT", 100)
	market.SetPrice("DOGEUSDT", 0.1)
	v := NewVenueRules(cfg, config.DefaultRiskConfig(), market)

	assert.NoError(t, v.Validate(context.Background(), venueProposal("BTCUSDT", 10)))
	assert.Error(t, v.Validate(context.Background(), venueProposal("DOGEUSDT", 10)))
}

func TestVenueRulesMinNotional(t *testing.T) {
	market := marketdata.NewFake()
	market.SetPrice("BTCUSDT", 100)
	v := NewVenueRules(config.DefaultPipelineConfig(), config.DefaultRiskConfig(), market)

	// 2 bps of 10k equity is 2 quote units, below the 5 minimum.
	assert.Error(t, v.Validate(context.Background(), venueProposal("BTCUSDT", 2)))
	assert.NoError(t, v.Validate(context.Background(), venueProposal("BTCUSDT", 10)))
}

func TestVenueRulesBestEffortWithoutPrice(t *testing.T) {
	market := marketdata.NewFake() // no price at all
	optional := NewVenueRules(config.DefaultPipelineConfig(), config.DefaultRiskConfig(), market)
	assert.NoError(t, optional.Validate(context.Background(), venueProposal("BTCUSDT", 10)))

	cfg := config.DefaultPipelineConfig()
	cfg.VenueRulesRequired = true
	required := NewVenueRules(cfg, config.DefaultRiskConfig(), market)
	assert.Error(t, required.Validate(context.Background(), venueProposal("BTCUSDT", 10)))
}
