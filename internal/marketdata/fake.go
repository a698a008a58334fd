package marketdata

import (
	"context"
	"sync"
)

// Fake is an in-memory Facade for tests and mock execution mode.
type Fake struct {
	mu      sync.Mutex
	prices  map[string]float64
	books   map[string]*OrderBook
	returns map[string][]float64

	PriceErr   error
	BookErr    error
	ReturnsErr error
}

// NewFake returns an empty fake facade.
func NewFake() *Fake {
	return &Fake{
		prices:  make(map[string]float64),
		books:   make(map[string]*OrderBook),
		returns: make(map[string][]float64),
	}
}

// SetPrice sets the last price for a symbol.
func (f *Fake) SetPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

// SetBook sets the book snapshot for a symbol.
func (f *Fake) SetBook(symbol string, book *OrderBook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[symbol] = book
}

// SetReturns sets the recent returns for a symbol.
func (f *Fake) SetReturns(symbol string, rets []float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.returns[symbol] = rets
}

// LastPrice implements PriceReader.
func (f *Fake) LastPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PriceErr != nil {
		return 0, f.PriceErr
	}
	if px, ok := f.prices[symbol]; ok {
		return px, nil
	}
	return 0, ErrUnavailable
}

// Book implements BookReader.
func (f *Fake) Book(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BookErr != nil {
		return nil, f.BookErr
	}
	if ob, ok := f.books[symbol]; ok {
		return ob, nil
	}
	return nil, ErrUnavailable
}

// RecentReturns implements ReturnsReader.
func (f *Fake) RecentReturns(ctx context.Context, symbol string, n int) ([]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReturnsErr != nil {
		return nil, f.ReturnsErr
	}
	rets, ok := f.returns[symbol]
	if !ok {
		return nil, ErrUnavailable
	}
	if len(rets) > n {
		rets = rets[len(rets)-n:]
	}
	return rets, nil
}
