package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/sawpanic/traderun/internal/domain"
	"github.com/sawpanic/traderun/internal/marketdata"
	"github.com/sawpanic/traderun/internal/metrics"
	"github.com/sawpanic/traderun/internal/persistence"
)

// Classified submission statuses. Filled and mock-filled both count as
// success for bandit outcome recording.
const (
	StatusFilled        = "filled"
	StatusMockFilled    = "mock_filled"
	StatusSliced        = "sliced"
	StatusExchangeError = "exchange_error"
)

// OrderRequest is one submission to the venue.
type OrderRequest struct {
	Symbol         string      `json:"symbol"`
	Side           domain.Side `json:"side"`
	QuoteNotional  float64     `json:"quote_notional"`
	IdempotencyKey string      `json:"idempotency_key"`
}

// Fill is one execution fill.
type Fill struct {
	Price      float64 `json:"price"`
	Qty        float64 `json:"qty"`
	QuoteQty   float64 `json:"quote_qty"`
	Commission float64 `json:"commission"`
}

// OrderResult is the classified outcome of a submission.
type OrderResult struct {
	Status   string  `json:"status"`
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	AvgPrice float64 `json:"avg_price"`
	Fills    []Fill  `json:"fills"`
}

// Submitter is the abstract order-submission capability. Submitting twice
// with the same idempotency key must not double-execute; venue failures come
// back as a StatusExchangeError result, not an error.
type Submitter interface {
	Submit(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// MockSubmitter simulates immediate fills at the last traded price. It
// persists every submission so repeated idempotency keys replay the stored
// result, and rate-limits calls the way a venue adapter would.
type MockSubmitter struct {
	market  marketdata.PriceReader
	repo    persistence.ExecutionRepo
	limiter *rate.Limiter
	venue   string
}

// NewMockSubmitter wires a mock submitter. ratePerSec bounds submissions per
// second across all pipelines sharing this instance.
func NewMockSubmitter(market marketdata.PriceReader, repo persistence.ExecutionRepo, ratePerSec float64) *MockSubmitter {
	if ratePerSec <= 0 {
		ratePerSec = 2
	}
	return &MockSubmitter{
		market:  market,
		repo:    repo,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		venue:   "mock",
	}
}

// Submit implements Submitter.
func (m *MockSubmitter) Submit(ctx context.Context, req OrderRequest) (OrderResult, error) {
	existing, err := m.repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err == nil {
		var res OrderResult
		if jerr := json.Unmarshal(existing.Body, &res); jerr != nil {
			return OrderResult{}, fmt.Errorf("decode stored submission %s: %w", req.IdempotencyKey, jerr)
		}
		log.Debug().Str("idempotency_key", req.IdempotencyKey).Msg("duplicate submission replayed from store")
		return res, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		// A store outage must not look like a fresh key: submitting blind
		// risks a double execution once the store comes back.
		return OrderResult{}, fmt.Errorf("lookup submission %s: %w", req.IdempotencyKey, err)
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return OrderResult{}, err
	}

	price, err := m.market.LastPrice(ctx, req.Symbol)
	if err != nil {
		// Venue-level failure: classify and record, never crash the pipeline.
		res := OrderResult{Status: StatusExchangeError, Symbol: req.Symbol}
		if rerr := m.record(ctx, req, res); rerr != nil {
			return OrderResult{}, rerr
		}
		metrics.OrdersSubmitted.WithLabelValues(req.Symbol, res.Status).Inc()
		log.Warn().Str("symbol", req.Symbol).Err(err).Msg("submission failed at venue")
		return res, nil
	}

	qty := math.Max(1e-9, req.QuoteNotional/math.Max(price, 1e-9))
	res := OrderResult{
		Status:   StatusMockFilled,
		OrderID:  fmt.Sprintf("mock-%s-%s", req.Symbol, uuid.NewString()[:8]),
		Symbol:   req.Symbol,
		AvgPrice: price,
		Fills:    []Fill{{Price: price, Qty: qty, QuoteQty: req.QuoteNotional}},
	}
	if err := m.record(ctx, req, res); err != nil {
		return OrderResult{}, err
	}
	metrics.OrdersSubmitted.WithLabelValues(req.Symbol, res.Status).Inc()
	log.Info().
		Str("symbol", req.Symbol).
		Str("order_id", res.OrderID).
		Float64("notional", req.QuoteNotional).
		Float64("price", price).
		Msg("order filled")
	return res, nil
}

func (m *MockSubmitter) record(ctx context.Context, req OrderRequest, res OrderResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode submission result: %w", err)
	}
	ex := persistence.Execution{
		IdempotencyKey: req.IdempotencyKey,
		OrderID:        res.OrderID,
		Symbol:         req.Symbol,
		Venue:          m.venue,
		Status:         res.Status,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.repo.Insert(ctx, ex); err != nil {
		return fmt.Errorf("record submission %s: %w", req.IdempotencyKey, err)
	}
	return nil
}
