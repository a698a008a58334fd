package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><head><title>BTC Breaks Out</title>
<style>body { color: red }</style></head>
<body><script>var x = 1;</script>
<h1>Bitcoin   rallies</h1>
<p>Spot volume up
	across venues.</p></body></html>`

func TestHTTPCollectorExtractsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	c := NewHTTPCollector([]string{srv.URL}, time.Second, 8)
	docs, err := c.Collect(context.Background(), "BTCUSDT", 60)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, "BTC Breaks Out", docs[0].Title)
	assert.Equal(t, "Bitcoin rallies Spot volume up across venues.", docs[0].Text)
	assert.NotContains(t, docs[0].Text, "var x")
	assert.NotContains(t, docs[0].Text, "color: red")
	assert.Equal(t, srv.URL, docs[0].URL)
}

func TestHTTPCollectorSkipsFailingSources(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePage))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	c := NewHTTPCollector([]string{bad.URL, good.URL}, time.Second, 8)
	docs, err := c.Collect(context.Background(), "BTCUSDT", 60)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, good.URL, docs[0].URL)
}

func TestStaticCollectorDedupsByURL(t *testing.T) {
	s := &Static{Docs: []Document{
		{URL: "https://a.example/x", Text: "one"},
		{URL: "https://a.example/x", Text: "dup"},
		{URL: "https://b.example/y", Text: "two"},
	}}
	docs, err := s.Collect(context.Background(), "ETHUSDT", 60)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "one", docs[0].Text)
	assert.Equal(t, "two", docs[1].Text)
}
