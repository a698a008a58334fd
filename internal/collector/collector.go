// Package collector fetches recent documents about a symbol from configured
// HTTP sources. It is the pipeline's view of the external feed crawler: a
// deduplicated list of timestamped documents, nothing more.
package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// Document is one collected item. Text is tag-stripped and
// whitespace-normalized.
type Document struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Timestamp  time.Time `json:"timestamp"`
	Text       string    `json:"text"`
	SourceType string    `json:"source_type"`
}

// Collector returns recent documents for a query, deduplicated by URL.
type Collector interface {
	Collect(ctx context.Context, query string, horizonMinutes int) ([]Document, error)
}

// HTTPCollector pulls each configured source URL and extracts its text.
// Individual source failures are skipped; the collector only errors when it
// cannot make progress at all.
type HTTPCollector struct {
	sources []string
	client  *http.Client
	maxDocs int
}

// NewHTTPCollector builds a collector over the given source URLs.
func NewHTTPCollector(sources []string, timeout time.Duration, maxDocs int) *HTTPCollector {
	if maxDocs <= 0 {
		maxDocs = 8
	}
	return &HTTPCollector{
		sources: sources,
		client:  &http.Client{Timeout: timeout},
		maxDocs: maxDocs,
	}
}

// Collect implements Collector.
func (c *HTTPCollector) Collect(ctx context.Context, query string, horizonMinutes int) ([]Document, error) {
	docs := make([]Document, 0, c.maxDocs)
	seen := make(map[string]bool)
	for _, src := range c.sources {
		if len(docs) >= c.maxDocs {
			break
		}
		doc, err := c.fetch(ctx, src)
		if err != nil {
			log.Debug().Str("source", src).Err(err).Msg("document source skipped")
			continue
		}
		if seen[doc.URL] {
			continue
		}
		seen[doc.URL] = true
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *HTTPCollector) fetch(ctx context.Context, src string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return Document{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Document{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	text, title := extractText(resp.Body)
	return Document{
		URL:        src,
		Title:      title,
		Timestamp:  time.Now().UTC(),
		Text:       text,
		SourceType: "http",
	}, nil
}

// extractText walks the HTML tree collecting visible text, skipping script
// and style subtrees, and collapses whitespace.
func extractText(r io.Reader) (text, title string) {
	root, err := html.Parse(r)
	if err != nil {
		return "", ""
	}
	var parts []string
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, inTitle bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				inTitle = true
			}
		}
		if n.Type == html.TextNode {
			trimmed := strings.Join(strings.Fields(n.Data), " ")
			if trimmed != "" {
				if inTitle && title == "" {
					title = trimmed
				} else {
					parts = append(parts, trimmed)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child, inTitle)
		}
	}
	walk(root, false)
	return strings.Join(parts, " "), title
}

// Static is a fixed-document Collector for tests and offline runs.
type Static struct {
	Docs []Document
	Err  error
}

// Collect returns the configured documents, deduplicated by URL.
func (s *Static) Collect(ctx context.Context, query string, horizonMinutes int) ([]Document, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	seen := make(map[string]bool)
	out := make([]Document, 0, len(s.Docs))
	for _, d := range s.Docs {
		if seen[d.URL] {
			continue
		}
		seen[d.URL] = true
		out = append(out, d)
	}
	return out, nil
}
