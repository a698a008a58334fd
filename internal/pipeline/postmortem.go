package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/traderun/internal/marketdata"
	"github.com/sawpanic/traderun/internal/persistence"
)

// Report compares a filled order against the zero-trade counterfactual after
// the horizon wait.
type Report struct {
	Symbol              string  `json:"symbol"`
	OrderID             string  `json:"order_id"`
	EntryPrice          float64 `json:"entry_price"`
	MarkPrice           float64 `json:"mark_price"`
	PnLTrade            float64 `json:"pnl_trade"`
	PnLNoTrade          float64 `json:"pnl_no_trade"`
	CounterfactualDelta float64 `json:"counterfactual_delta"`
}

// Postmortem waits out a bounded fraction of the proposal horizon, marks the
// position to the current price and persists the comparison on the execution
// row. The wait is capped so abandoned scaffolding runs do not pin resources;
// production deployments honor the full horizon instead.
type Postmortem struct {
	market           marketdata.PriceReader
	repo             persistence.ExecutionRepo
	cap              time.Duration
	honorFullHorizon bool

	wait func(ctx context.Context, d time.Duration) error
}

// NewPostmortem wires the postmortem process.
func NewPostmortem(market marketdata.PriceReader, repo persistence.ExecutionRepo, cap time.Duration, honorFullHorizon bool) *Postmortem {
	return &Postmortem{
		market:           market,
		repo:             repo,
		cap:              cap,
		honorFullHorizon: honorFullHorizon,
		wait:             waitCtx,
	}
}

// Run blocks for the horizon wait, computes the counterfactual and attaches
// it to the order.
func (p *Postmortem) Run(ctx context.Context, symbol string, entryPrice float64, horizonMinutes int, orderID string) (Report, error) {
	if err := p.wait(ctx, p.horizonWait(horizonMinutes)); err != nil {
		return Report{}, err
	}
	mark, err := p.market.LastPrice(ctx, symbol)
	if err != nil {
		return Report{}, fmt.Errorf("fetch mark price for %s: %w", symbol, err)
	}
	rep := Report{
		Symbol:              symbol,
		OrderID:             orderID,
		EntryPrice:          entryPrice,
		MarkPrice:           mark,
		PnLTrade:            mark - entryPrice,
		PnLNoTrade:          0,
		CounterfactualDelta: mark - entryPrice,
	}
	body, err := json.Marshal(rep)
	if err != nil {
		return Report{}, fmt.Errorf("encode postmortem: %w", err)
	}
	if err := p.repo.UpdatePostmortem(ctx, orderID, body); err != nil {
		return Report{}, fmt.Errorf("persist postmortem for %s: %w", orderID, err)
	}
	log.Info().
		Str("symbol", symbol).
		Str("order_id", orderID).
		Float64("counterfactual_delta", rep.CounterfactualDelta).
		Msg("postmortem recorded")
	return rep, nil
}

func (p *Postmortem) horizonWait(horizonMinutes int) time.Duration {
	if p.honorFullHorizon {
		return time.Duration(horizonMinutes) * time.Minute
	}
	d := time.Duration(horizonMinutes) * time.Second
	if d < time.Second {
		d = time.Second
	}
	if d > p.cap {
		d = p.cap
	}
	return d
}

func waitCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
