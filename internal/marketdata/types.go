// Package marketdata provides last-price, order-book and return-history reads
// behind small interfaces, with an ordered fallback chain over HTTP sources
// guarded by per-source circuit breakers.
package marketdata

import (
	"context"
	"errors"
	"math"
)

// ErrUnavailable is returned when every configured source failed. Callers must
// treat it as "no data", never as an empty book.
var ErrUnavailable = errors.New("marketdata: all sources unavailable")

// Level is one price level of an order book side.
type Level struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// OrderBook is a top-of-book snapshot with a few depth levels per side.
type OrderBook struct {
	Symbol string  `json:"symbol"`
	Bids   []Level `json:"bids"`
	Asks   []Level `json:"asks"`
}

// Mid returns the bid/ask midpoint.
func (ob *OrderBook) Mid() float64 {
	if len(ob.Bids) == 0 || len(ob.Asks) == 0 {
		return 0
	}
	return (ob.Bids[0].Price + ob.Asks[0].Price) / 2
}

// SpreadBps returns the bid/ask spread in basis points of the midpoint.
func (ob *OrderBook) SpreadBps() float64 {
	mid := ob.Mid()
	if mid <= 0 {
		return 0
	}
	return (ob.Asks[0].Price - ob.Bids[0].Price) / mid * 1e4
}

// DepthRatio returns bid-side depth relative to the base quantity the given
// quote notional would consume at mid.
func (ob *OrderBook) DepthRatio(notional float64) float64 {
	mid := ob.Mid()
	if mid <= 0 {
		return 0
	}
	var bidQty float64
	for _, lvl := range ob.Bids {
		bidQty += lvl.Qty
	}
	baseNeeded := notional / math.Max(mid, 1e-9)
	return bidQty / math.Max(baseNeeded, 1e-9)
}

// PriceReader reads the latest traded price for a symbol.
type PriceReader interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// BookReader reads an order-book snapshot for a symbol.
type BookReader interface {
	Book(ctx context.Context, symbol string, depth int) (*OrderBook, error)
}

// ReturnsReader reads the most recent n per-step returns for a symbol.
type ReturnsReader interface {
	RecentReturns(ctx context.Context, symbol string, n int) ([]float64, error)
}

// Facade bundles the three read capabilities the pipeline needs.
type Facade interface {
	PriceReader
	BookReader
	ReturnsReader
}
