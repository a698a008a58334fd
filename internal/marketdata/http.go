package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/traderun/internal/metrics"
)

// ChainClient reads market data from an ordered list of HTTP sources. A source
// answering 403/429/451 is a hard failure: the call falls through to the next
// source and the per-source breaker records the failure. When every source
// fails the caller gets ErrUnavailable.
type ChainClient struct {
	sources  []string
	breakers map[string]*gobreaker.CircuitBreaker
	client   *http.Client
	depth    int
}

// NewChainClient builds a client over the given base URLs, in priority order.
func NewChainClient(sources []string, timeout time.Duration, depth int) *ChainClient {
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(sources))
	for _, src := range sources {
		st := gobreaker.Settings{Name: src}
		st.Interval = 60 * time.Second
		st.Timeout = 60 * time.Second
		st.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		}
		breakers[src] = gobreaker.NewCircuitBreaker(st)
	}
	if depth <= 0 {
		depth = 5
	}
	return &ChainClient{
		sources:  sources,
		breakers: breakers,
		client:   &http.Client{Timeout: timeout},
		depth:    depth,
	}
}

// hardStatus reports response codes that mean the source is refusing us, not
// that the symbol is bad. These trigger fallback instead of a terminal error.
func hardStatus(code int) bool {
	return code == http.StatusForbidden || code == http.StatusTooManyRequests || code == http.StatusUnavailableForLegalReasons
}

func (c *ChainClient) get(ctx context.Context, path string, out any) error {
	var lastErr error
	for _, src := range c.sources {
		br := c.breakers[src]
		_, err := br.Execute(func() (any, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, src+path, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "application/json")
			resp, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if hardStatus(resp.StatusCode) {
				return nil, fmt.Errorf("source refused: HTTP %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("unexpected HTTP %d", resp.StatusCode)
			}
			return nil, json.NewDecoder(resp.Body).Decode(out)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		metrics.BookSourceFailures.WithLabelValues(src).Inc()
		log.Warn().Str("source", src).Str("path", path).Err(err).Msg("market data source failed, trying next")
	}
	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
	}
	return ErrUnavailable
}

// rawBook matches the venue depth payload: price/qty tuples as strings.
type rawBook struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

func parseLevels(raw [][2]string) ([]Level, error) {
	out := make([]Level, 0, len(raw))
	for _, pair := range raw {
		price, err := strconv.ParseFloat(pair[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", pair[0], err)
		}
		qty, err := strconv.ParseFloat(pair[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parse qty %q: %w", pair[1], err)
		}
		out = append(out, Level{Price: price, Qty: qty})
	}
	return out, nil
}

// Book fetches a depth snapshot, falling through the source chain.
func (c *ChainClient) Book(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	if depth <= 0 {
		depth = c.depth
	}
	var raw rawBook
	path := fmt.Sprintf("/api/v3/depth?symbol=%s&limit=%d", url.QueryEscape(symbol), depth)
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}
	bids, err := parseLevels(raw.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(raw.Asks)
	if err != nil {
		return nil, err
	}
	if len(bids) == 0 || len(asks) == 0 {
		return nil, fmt.Errorf("%w: empty book for %s", ErrUnavailable, symbol)
	}
	return &OrderBook{Symbol: symbol, Bids: bids, Asks: asks}, nil
}

// closes fetches the last n one-minute closes, oldest first.
func (c *ChainClient) closes(ctx context.Context, symbol string, n int) ([]float64, error) {
	var raw [][]any
	path := fmt.Sprintf("/api/v3/klines?symbol=%s&interval=1m&limit=%d", url.QueryEscape(symbol), n)
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(raw))
	for _, k := range raw {
		if len(k) < 5 {
			return nil, fmt.Errorf("malformed kline row of %d fields", len(k))
		}
		s, ok := k[4].(string)
		if !ok {
			return nil, fmt.Errorf("kline close is %T, want string", k[4])
		}
		px, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse close %q: %w", s, err)
		}
		out = append(out, px)
	}
	return out, nil
}

// LastPrice returns the latest one-minute close.
func (c *ChainClient) LastPrice(ctx context.Context, symbol string) (float64, error) {
	closes, err := c.closes(ctx, symbol, 1)
	if err != nil {
		return 0, err
	}
	if len(closes) == 0 {
		return 0, fmt.Errorf("%w: no closes for %s", ErrUnavailable, symbol)
	}
	return closes[len(closes)-1], nil
}

// RecentReturns returns up to n per-step simple returns from recent closes.
func (c *ChainClient) RecentReturns(ctx context.Context, symbol string, n int) ([]float64, error) {
	closes, err := c.closes(ctx, symbol, n+1)
	if err != nil {
		return nil, err
	}
	rets := make([]float64, 0, len(closes))
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		rets = append(rets, closes[i]/closes[i-1]-1)
	}
	return rets, nil
}
