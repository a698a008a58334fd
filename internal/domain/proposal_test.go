package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProposal() Proposal {
	return Proposal{
		Action:         ActionOpen,
		Symbol:         "BTCUSDT",
		Side:           SideBuy,
		SizeBpsEquity:  400,
		HorizonMinutes: 120,
		Thesis:         "exchange status recovery",
		Risk:           RiskParams{StopLossBps: 60, TakeProfitBps: 120, MaxSlippageBps: 15},
		Evidence: []Evidence{
			{URL: "https://example.com/announcement", Type: EvidenceExchangeStatus},
		},
		Confidence: 0.74,
	}
}

func TestProposalValidate(t *testing.T) {
	p := validProposal()
	require.NoError(t, p.Validate())
}

func TestProposalValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Proposal)
	}{
		{"bad action", func(p *Proposal) { p.Action = "hold" }},
		{"empty symbol", func(p *Proposal) { p.Symbol = "  " }},
		{"bad side", func(p *Proposal) { p.Side = "long" }},
		{"zero size", func(p *Proposal) { p.SizeBpsEquity = 0 }},
		{"zero horizon", func(p *Proposal) { p.HorizonMinutes = 0 }},
		{"confidence above one", func(p *Proposal) { p.Confidence = 1.2 }},
		{"no evidence", func(p *Proposal) { p.Evidence = nil }},
		{"bad evidence url", func(p *Proposal) { p.Evidence[0].URL = "not-a-url" }},
		{"bad evidence type", func(p *Proposal) { p.Evidence[0].Type = "rumor" }},
		{"negative slippage", func(p *Proposal) { p.Risk.MaxSlippageBps = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validProposal()
			tc.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	p := validProposal()
	assert.Equal(t, "wf-123:BTCUSDT", p.IdempotencyKey("wf-123"))
}
