// Package evidence verifies the evidence URLs attached to a trade proposal.
// Verification fetches each URL, normalizes the content, hashes it, and stores
// an artifact; re-verification later in the pipeline detects evidence that
// changed between the gate checks and the point of execution.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/traderun/internal/domain"
	"github.com/sawpanic/traderun/internal/persistence"
)

// ErrEvidenceChanged is returned by Reverify when a URL's content hash no
// longer matches the artifact stored at verification time.
var ErrEvidenceChanged = errors.New("evidence: content changed since verification")

// ErrTooSmall is returned when fetched content is below the minimum size;
// tiny bodies are almost always error pages or empty shells.
var ErrTooSmall = errors.New("evidence: content below minimum size")

const maxBodyBytes = 4 << 20

// Verifier fetches and hashes proposal evidence.
type Verifier struct {
	client   *http.Client
	repo     persistence.EvidenceRepo
	minBytes int
}

// NewVerifier builds a verifier over the artifact repo.
func NewVerifier(repo persistence.EvidenceRepo, timeout time.Duration, minBytes int) *Verifier {
	return &Verifier{
		client:   &http.Client{Timeout: timeout},
		repo:     repo,
		minBytes: minBytes,
	}
}

// Verify fetches every evidence URL, hashes the normalized content and records
// one artifact per URL. Any single failure fails the whole set; the
// orchestrator retries the step as a unit.
func (v *Verifier) Verify(ctx context.Context, pipelineID string, items []domain.Evidence) ([]persistence.EvidenceArtifact, error) {
	arts := make([]persistence.EvidenceArtifact, 0, len(items))
	for _, item := range items {
		art, err := v.fetchArtifact(ctx, pipelineID, item.URL)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", item.URL, err)
		}
		if err := v.repo.Insert(ctx, art); err != nil {
			return nil, fmt.Errorf("store artifact for %s: %w", item.URL, err)
		}
		log.Debug().Str("url", item.URL).Str("sha256", art.SHA256[:12]).Int("bytes", art.ByteLen).Msg("evidence verified")
		arts = append(arts, art)
	}
	return arts, nil
}

// Reverify re-fetches each URL and compares against the hash stored by Verify.
// A missing artifact or a hash mismatch both mean the evidence can no longer
// be trusted.
func (v *Verifier) Reverify(ctx context.Context, pipelineID string, items []domain.Evidence) error {
	for _, item := range items {
		stored, err := v.repo.LatestHash(ctx, pipelineID, item.URL)
		if err != nil {
			return fmt.Errorf("load stored hash for %s: %w", item.URL, err)
		}
		art, err := v.fetchArtifact(ctx, pipelineID, item.URL)
		if err != nil {
			return fmt.Errorf("reverify %s: %w", item.URL, err)
		}
		if art.SHA256 != stored {
			log.Warn().Str("url", item.URL).Msg("evidence content drifted")
			return fmt.Errorf("%w: %s", ErrEvidenceChanged, item.URL)
		}
	}
	return nil
}

func (v *Verifier) fetchArtifact(ctx context.Context, pipelineID, url string) (persistence.EvidenceArtifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return persistence.EvidenceArtifact{}, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return persistence.EvidenceArtifact{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return persistence.EvidenceArtifact{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return persistence.EvidenceArtifact{}, err
	}
	normalized := normalize(body)
	if len(normalized) < v.minBytes {
		return persistence.EvidenceArtifact{}, fmt.Errorf("%w: %d < %d", ErrTooSmall, len(normalized), v.minBytes)
	}
	sum := sha256.Sum256([]byte(normalized))
	return persistence.EvidenceArtifact{
		PipelineID: pipelineID,
		URL:        url,
		SHA256:     hex.EncodeToString(sum[:]),
		Provenance: classify(resp.Header.Get("Content-Type")),
		ByteLen:    len(normalized),
	}, nil
}

// normalize collapses whitespace so cosmetic reformatting of a page does not
// read as changed evidence.
func normalize(body []byte) string {
	return strings.Join(strings.Fields(string(body)), " ")
}

func classify(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return "api"
	case strings.Contains(ct, "html"):
		return "web"
	case strings.Contains(ct, "text"):
		return "text"
	default:
		return "unknown"
	}
}
