package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/traderun/internal/config"
	"github.com/sawpanic/traderun/internal/metrics"
	"github.com/sawpanic/traderun/internal/persistence"
)

// casRetries bounds the optimistic-concurrency retry loop when recording
// outcomes under contention.
const casRetries = 5

// probeMultCap limits the size multiplier for unpromoted hypotheses.
const probeMultCap = 0.25

// Decision is one Thompson draw over a symbol's hypothesis posterior.
type Decision struct {
	Key            string  `json:"key"`
	Status         string  `json:"status"` // probe|promoted
	SizeMultiplier float64 `json:"size_multiplier"`
	IsProbe        bool    `json:"is_probe"`
	ProbeBps       float64 `json:"probe_bps"`
	Sample         float64 `json:"sample"`
}

// Bandit runs Thompson sampling over per-symbol Beta posteriors. Unpromoted
// hypotheses trade probe-sized until their posterior mean clears the
// promotion threshold; promotion is one-way.
type Bandit struct {
	store persistence.BanditStore
	cfg   config.RiskConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewBandit builds a bandit over the posterior store. A nil rng gets a
// time-seeded source; tests inject a fixed seed.
func NewBandit(store persistence.BanditStore, cfg config.RiskConfig, rng *rand.Rand) *Bandit {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Bandit{store: store, cfg: cfg, rng: rng}
}

// Key returns the hypothesis key for a symbol.
func Key(symbol string) string { return "aslf:" + symbol }

// Decide samples the posterior for symbol and maps the draw to a size
// multiplier. A missing hypothesis starts from the uniform prior.
func (b *Bandit) Decide(ctx context.Context, symbol string) (Decision, error) {
	key := Key(symbol)
	state, err := b.store.Read(ctx, key)
	if errors.Is(err, persistence.ErrNotFound) {
		state = persistence.NewBanditState(key)
		if werr := b.store.Write(ctx, state); werr != nil && !errors.Is(werr, persistence.ErrVersionConflict) {
			return Decision{}, fmt.Errorf("seed hypothesis %s: %w", key, werr)
		}
	} else if err != nil {
		return Decision{}, fmt.Errorf("read hypothesis %s: %w", key, err)
	}

	sample := b.sampleBeta(state.Alpha, state.Beta)
	isProbe := !state.Promoted && sample < b.cfg.PromoteThreshold
	maxMult := 1.0
	if isProbe {
		maxMult = probeMultCap
	}
	mult := math.Max(0.05, math.Min(maxMult, sample))
	status := "promoted"
	if isProbe {
		status = "probe"
	}
	return Decision{
		Key:            key,
		Status:         status,
		SizeMultiplier: mult,
		IsProbe:        isProbe,
		ProbeBps:       b.cfg.ProbeSizeBps,
		Sample:         sample,
	}, nil
}

// RecordOutcome folds one execution result into the posterior: filled and
// mock_filled count as success, everything else as failure. Lost updates are
// retried via the store's version check so concurrent pipelines never drop an
// observation.
func (b *Bandit) RecordOutcome(ctx context.Context, symbol, status string) error {
	key := Key(symbol)
	success := status == "filled" || status == "mock_filled"

	for attempt := 0; attempt < casRetries; attempt++ {
		state, err := b.store.Read(ctx, key)
		if errors.Is(err, persistence.ErrNotFound) {
			state = persistence.NewBanditState(key)
		} else if err != nil {
			return fmt.Errorf("read hypothesis %s: %w", key, err)
		}

		if success {
			state.Alpha++
		} else {
			state.Beta++
		}
		mean := state.Alpha / math.Max(1, state.Alpha+state.Beta)
		promoting := !state.Promoted && mean >= b.cfg.PromoteThreshold
		state.Promoted = state.Promoted || promoting

		err = b.store.Write(ctx, state)
		if errors.Is(err, persistence.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("write hypothesis %s: %w", key, err)
		}
		if promoting {
			metrics.BanditPromotions.Inc()
			log.Info().Str("key", key).Float64("posterior_mean", mean).Msg("hypothesis promoted")
		}
		return nil
	}
	return fmt.Errorf("record outcome for %s: %w", key, persistence.ErrVersionConflict)
}

// sampleBeta draws Beta(alpha, beta) as X/(X+Y) for gamma variates X, Y.
func (b *Bandit) sampleBeta(alpha, beta float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	x := b.sampleGamma(alpha)
	y := b.sampleGamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws Gamma(shape, 1) via Marsaglia-Tsang squeeze, with the
// shape<1 boost transform.
func (b *Bandit) sampleGamma(shape float64) float64 {
	if shape < 1 {
		u := b.rng.Float64()
		return b.sampleGamma(shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := b.rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := b.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
