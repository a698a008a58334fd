// Package domain defines the validated trade proposal types that enter the
// decision pipeline. Proposals are rejected at the boundary; nothing past
// Validate ever sees a malformed proposal.
package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Action describes what the proposal wants to do with the position.
type Action string

const (
	ActionOpen   Action = "open"
	ActionReduce Action = "reduce"
	ActionClose  Action = "close"
)

// EvidenceType classifies a declared evidence source.
type EvidenceType string

const (
	EvidenceNewsHeadline   EvidenceType = "news_headline"
	EvidenceOnchainAlert   EvidenceType = "onchain_alert"
	EvidenceExchangeStatus EvidenceType = "exchange_status"
)

// Evidence is a single supporting item attached to a proposal. Hash and
// Provenance are filled by the verification step, not by the proposer.
type Evidence struct {
	URL  string       `json:"url" yaml:"url"`
	Type EvidenceType `json:"type" yaml:"type"`
}

// RiskParams carries the proposer's own risk limits in basis points.
type RiskParams struct {
	StopLossBps    int `json:"stop_loss_bps" yaml:"stop_loss_bps"`
	TakeProfitBps  int `json:"take_profit_bps" yaml:"take_profit_bps"`
	MaxSlippageBps int `json:"max_slippage_bps" yaml:"max_slippage_bps"`
}

// Proposal is a candidate trade emitted by the drafting service. Once accepted
// by the orchestrator it is immutable; the pipeline derives everything else.
type Proposal struct {
	Action         Action     `json:"action" yaml:"action"`
	Symbol         string     `json:"symbol" yaml:"symbol"`
	Side           Side       `json:"side" yaml:"side"`
	SizeBpsEquity  float64    `json:"size_bps_equity" yaml:"size_bps_equity"`
	HorizonMinutes int        `json:"horizon_minutes" yaml:"horizon_minutes"`
	Thesis         string     `json:"thesis" yaml:"thesis"`
	Risk           RiskParams `json:"risk" yaml:"risk"`
	Evidence       []Evidence `json:"evidence" yaml:"evidence"`
	Confidence     float64    `json:"confidence" yaml:"confidence"`
}

// Validate checks the proposal exhaustively and returns the first violation.
func (p *Proposal) Validate() error {
	switch p.Action {
	case ActionOpen, ActionReduce, ActionClose:
	default:
		return fmt.Errorf("invalid action %q", p.Action)
	}
	if strings.TrimSpace(p.Symbol) == "" {
		return fmt.Errorf("symbol is required")
	}
	switch p.Side {
	case SideBuy, SideSell:
	default:
		return fmt.Errorf("invalid side %q", p.Side)
	}
	if p.SizeBpsEquity <= 0 {
		return fmt.Errorf("size_bps_equity must be positive, got %.2f", p.SizeBpsEquity)
	}
	if p.HorizonMinutes <= 0 {
		return fmt.Errorf("horizon_minutes must be positive, got %d", p.HorizonMinutes)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %.3f outside [0,1]", p.Confidence)
	}
	if len(p.Evidence) == 0 {
		return fmt.Errorf("at least one evidence item is required")
	}
	for i, ev := range p.Evidence {
		if err := ev.validate(); err != nil {
			return fmt.Errorf("evidence[%d]: %w", i, err)
		}
	}
	if p.Risk.MaxSlippageBps < 0 || p.Risk.StopLossBps < 0 || p.Risk.TakeProfitBps < 0 {
		return fmt.Errorf("risk params must be non-negative")
	}
	return nil
}

func (ev *Evidence) validate() error {
	u, err := url.Parse(ev.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid url %q", ev.URL)
	}
	switch ev.Type {
	case EvidenceNewsHeadline, EvidenceOnchainAlert, EvidenceExchangeStatus:
	default:
		return fmt.Errorf("unknown evidence type %q", ev.Type)
	}
	return nil
}

// IdempotencyKey derives the at-most-once submission key for this proposal
// under the given pipeline instance.
func (p *Proposal) IdempotencyKey(pipelineID string) string {
	return fmt.Sprintf("%s:%s", pipelineID, p.Symbol)
}
