package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const depthBody = `{"bids":[["100.0","2.0"],["99.5","3.0"]],"asks":[["100.5","1.5"],["101.0","2.5"]]}`
const klinesBody = `[[0,"100","101","99","100.0",""],[0,"100","101","99","101.0",""]]`

func TestChainClientBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/api/v3/depth"))
		w.Write([]byte(depthBody))
	}))
	defer srv.Close()

	c := NewChainClient([]string{srv.URL}, time.Second, 5)
	ob, err := c.Book(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	assert.InDelta(t, 100.25, ob.Mid(), 1e-9)
	assert.InDelta(t, (100.5-100.0)/100.25*1e4, ob.SpreadBps(), 1e-9)
	// 5 base units on the bid against notional 100.25 quote (1 base unit at mid).
	assert.InDelta(t, 5.0, ob.DepthRatio(100.25), 1e-9)
}

func TestChainClientFallsThroughOnHardStatus(t *testing.T) {
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnavailableForLegalReasons)
	}))
	defer blocked.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(depthBody))
	}))
	defer good.Close()

	c := NewChainClient([]string{blocked.URL, good.URL}, time.Second, 5)
	ob, err := c.Book(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	assert.Equal(t, 100.0, ob.Bids[0].Price)
}

func TestChainClientAllSourcesFail(t *testing.T) {
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer blocked.Close()

	c := NewChainClient([]string{blocked.URL}, time.Second, 5)
	_, err := c.Book(context.Background(), "BTCUSDT", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestChainClientReturns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	c := NewChainClient([]string{srv.URL}, time.Second, 5)
	rets, err := c.RecentReturns(context.Background(), "BTCUSDT", 1)
	require.NoError(t, err)
	require.Len(t, rets, 1)
	assert.InDelta(t, 0.01, rets[0], 1e-9)

	px, err := c.LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 101.0, px)
}
