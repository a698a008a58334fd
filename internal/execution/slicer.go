package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/traderun/internal/domain"
	"github.com/sawpanic/traderun/internal/metrics"
)

// SliceOutcome is the result of one child order.
type SliceOutcome struct {
	Index  int         `json:"index"`
	Key    string      `json:"key"`
	Result OrderResult `json:"result"`
	Err    error       `json:"-"`
}

// SliceKey returns the idempotency key for child i of a sliced order.
func SliceKey(i int, symbol string) string {
	return fmt.Sprintf("slice-%d-%s", i, symbol)
}

// Slicer runs the slicing sub-pipeline: equal-notional child orders submitted
// sequentially with fixed pacing. Slice failures are independent; nothing is
// rolled back.
type Slicer struct {
	submitter Submitter
	pacing    time.Duration

	wait func(ctx context.Context, d time.Duration) error
}

// NewSlicer wires a slicer over the submitter.
func NewSlicer(submitter Submitter, pacing time.Duration) *Slicer {
	return &Slicer{
		submitter: submitter,
		pacing:    pacing,
		wait:      sleepCtx,
	}
}

// Run submits slices equal child orders for totalNotional. It returns an
// outcome per slice; context cancellation stops before the next submission
// but never unwinds prior slices.
func (s *Slicer) Run(ctx context.Context, symbol string, side domain.Side, totalNotional float64, slices int) []SliceOutcome {
	if slices < 1 {
		slices = 1
	}
	perSlice := math.Max(1, totalNotional/float64(slices))
	outcomes := make([]SliceOutcome, 0, slices)
	for i := 0; i < slices; i++ {
		key := SliceKey(i, symbol)
		res, err := s.submitter.Submit(ctx, OrderRequest{
			Symbol:         symbol,
			Side:           side,
			QuoteNotional:  perSlice,
			IdempotencyKey: key,
		})
		if err != nil {
			log.Error().Str("key", key).Err(err).Msg("slice submission errored")
			metrics.SlicesSubmitted.WithLabelValues(symbol, StatusExchangeError).Inc()
		} else {
			metrics.SlicesSubmitted.WithLabelValues(symbol, res.Status).Inc()
		}
		outcomes = append(outcomes, SliceOutcome{Index: i, Key: key, Result: res, Err: err})

		if i < slices-1 {
			if werr := s.wait(ctx, s.pacing); werr != nil {
				log.Warn().Str("symbol", symbol).Int("submitted", i+1).Int("planned", slices).Msg("slicing interrupted")
				break
			}
		}
	}
	return outcomes
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
