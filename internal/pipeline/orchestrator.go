// Package pipeline implements the durable trade decision state machine: a
// fixed sequence of gate, risk and execution steps with per-step retries,
// checkpointed after every completed step so a crashed instance resumes
// without re-executing side effects.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/traderun/internal/attention"
	"github.com/sawpanic/traderun/internal/config"
	"github.com/sawpanic/traderun/internal/domain"
	"github.com/sawpanic/traderun/internal/evidence"
	"github.com/sawpanic/traderun/internal/execution"
	"github.com/sawpanic/traderun/internal/marketdata"
	"github.com/sawpanic/traderun/internal/metrics"
	"github.com/sawpanic/traderun/internal/persistence"
	"github.com/sawpanic/traderun/internal/risk"
)

// Terminal statuses.
const (
	StatusRunning  = "running"
	StatusRejected = "rejected"
	StatusExecuted = "executed"
	StatusSliced   = "sliced"
)

// Rejection reason codes.
const (
	ReasonEvidenceFailed  = "evidence_failed"
	ReasonPolicyDenied    = "policy_denied"
	ReasonASLFDenied      = "aslf_denied"
	ReasonVenueRules      = "venue_rules"
	ReasonEvidenceChanged = "evidence_changed"
	ReasonRiskSimDenied   = "risk_sim_denied"
)

// Step names. These key the checkpoint outputs, so renaming one invalidates
// in-flight resumable runs.
const (
	stepVerifyEvidence   = "verify_evidence"
	stepGatePolicy       = "gate_policy"
	stepAttention        = "compute_attention_liquidity"
	stepVenueRules       = "validate_venue_rules"
	stepReverifyEvidence = "reverify_evidence"
	stepRiskSimulate     = "risk_simulate"
	stepBanditDecide     = "bandit_decide"
	stepChooseExecution  = "choose_execution"
	stepComputeTradeSize = "compute_trade_size"
	stepSubmit           = "submit"
	stepAttribution      = "record_attribution"
	stepBanditOutcome    = "record_bandit_outcome"
	stepUpdateEquity     = "update_equity"

	resultKey = "result"
)

// Result is the terminal outcome of one pipeline instance.
type Result struct {
	PipelineID string                 `json:"pipeline_id"`
	Symbol     string                 `json:"symbol"`
	Status     string                 `json:"status"`
	Reason     string                 `json:"reason,omitempty"`
	Score      *attention.Score       `json:"score,omitempty"`
	Sim        *risk.SimResult        `json:"sim,omitempty"`
	Bandit     *risk.Decision         `json:"bandit,omitempty"`
	Plan       *execution.Plan        `json:"plan,omitempty"`
	Notional   float64                `json:"notional,omitempty"`
	Order      *execution.OrderResult `json:"order,omitempty"`
}

// Deps bundles the collaborators one orchestrator instance needs.
type Deps struct {
	Repo       *persistence.Repository
	Verifier   *evidence.Verifier
	Scorer     *attention.Scorer
	Venue      *VenueRules
	Simulator  *risk.Simulator
	Bandit     *risk.Bandit
	Sizer      *risk.Sizer
	Selector   *execution.Selector
	Submitter  execution.Submitter
	Slicer     *execution.Slicer
	Market     marketdata.Facade
	Postmortem *Postmortem
}

// Orchestrator drives proposals through the decision steps. Instances are
// cheap; one Orchestrator serves many concurrent Run calls.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps

	backoff time.Duration
	spawn   func(fn func())
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		backoff: 100 * time.Millisecond,
		spawn:   func(fn func()) { go fn() },
	}
}

// Run executes (or resumes) the pipeline instance pipelineID for the given
// proposal. Gate failures come back as a rejected Result; only
// infrastructure errors (store unreachable mid-run) return a non-nil error,
// leaving the checkpoint resumable.
func (o *Orchestrator) Run(ctx context.Context, pipelineID string, p *domain.Proposal) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid proposal: %w", err)
	}

	cp, err := o.loadCheckpoint(ctx, pipelineID, p.Symbol)
	if err != nil {
		return nil, err
	}
	if cp.Status != StatusRunning {
		return o.replayTerminal(cp), nil
	}

	res := &Result{PipelineID: pipelineID, Symbol: p.Symbol}

	// 1. Evidence must verify before anything else runs.
	if _, err := runStep(ctx, o, cp, stepVerifyEvidence, 3, func(ctx context.Context) (bool, error) {
		_, verr := o.deps.Verifier.Verify(ctx, pipelineID, p.Evidence)
		return verr == nil, verr
	}); err != nil {
		return o.reject(ctx, cp, res, ReasonEvidenceFailed)
	}

	// 2. Global trading switch.
	enabled, err := runStep(ctx, o, cp, stepGatePolicy, 3, func(ctx context.Context) (bool, error) {
		return o.deps.Repo.Policy.TradingEnabled(ctx)
	})
	if err != nil || !enabled {
		return o.reject(ctx, cp, res, ReasonPolicyDenied)
	}

	// 3. Attention/liquidity gate.
	score, err := runStep(ctx, o, cp, stepAttention, 1, func(ctx context.Context) (attention.Score, error) {
		return o.deps.Scorer.Score(ctx, p.Symbol, p.HorizonMinutes)
	})
	res.Score = &score
	if err != nil || score.Decision != attention.DecisionAllow {
		return o.reject(ctx, cp, res, ReasonASLFDenied)
	}

	// 4. Venue constraints, best-effort unless required.
	if _, err := runStep(ctx, o, cp, stepVenueRules, 1, func(ctx context.Context) (bool, error) {
		verr := o.deps.Venue.Validate(ctx, p)
		return verr == nil, verr
	}); err != nil {
		return o.reject(ctx, cp, res, ReasonVenueRules)
	}

	// 5. Evidence must not have drifted between the gate and execution.
	if _, err := runStep(ctx, o, cp, stepReverifyEvidence, 2, func(ctx context.Context) (bool, error) {
		rerr := o.deps.Verifier.Reverify(ctx, pipelineID, p.Evidence)
		return rerr == nil, rerr
	}); err != nil {
		return o.reject(ctx, cp, res, ReasonEvidenceChanged)
	}

	// 6. Drawdown simulation (fail-open inside the simulator).
	sim, err := runStep(ctx, o, cp, stepRiskSimulate, 1, func(ctx context.Context) (risk.SimResult, error) {
		return o.deps.Simulator.Assess(ctx, p.Symbol, p.HorizonMinutes)
	})
	res.Sim = &sim
	if err != nil || !sim.OK {
		return o.reject(ctx, cp, res, ReasonRiskSimDenied)
	}

	// 7. Thompson draw for probe/promote sizing.
	band, err := runStep(ctx, o, cp, stepBanditDecide, 1, func(ctx context.Context) (risk.Decision, error) {
		return o.deps.Bandit.Decide(ctx, p.Symbol)
	})
	if err != nil {
		return nil, fmt.Errorf("bandit decide: %w", err)
	}
	res.Bandit = &band

	// 8. Style selection plus the hard slippage override.
	plan, err := runStep(ctx, o, cp, stepChooseExecution, 1, func(ctx context.Context) (execution.Plan, error) {
		pl, perr := o.deps.Selector.Choose(ctx, p.Symbol, o.cfg.Attention.ProbeNotional, score.Vol)
		if perr != nil {
			return pl, perr
		}
		return execution.CapSlippage(pl, o.cfg.Execution.MaxSlippageBps), nil
	})
	if err != nil {
		return nil, fmt.Errorf("choose execution: %w", err)
	}
	res.Plan = &plan

	// 9. Kelly or probe-forced notional. The probe notional is used verbatim;
	// otherwise the bandit multiplier scales the Kelly base.
	notional, err := runStep(ctx, o, cp, stepComputeTradeSize, 1, func(ctx context.Context) (float64, error) {
		if band.IsProbe {
			return o.deps.Sizer.Notional(ctx, p.Confidence, score.ASLF, band.ProbeBps), nil
		}
		base := o.deps.Sizer.Notional(ctx, p.Confidence, score.ASLF, 0)
		return math.Max(o.cfg.Risk.MinNotional, base*band.SizeMultiplier), nil
	})
	if err != nil {
		return nil, fmt.Errorf("compute trade size: %w", err)
	}
	res.Notional = notional

	// 10. Submit directly or hand off to the slicing sub-pipeline.
	order, err := o.submit(ctx, cp, pipelineID, p, plan, notional)
	if err != nil {
		return nil, err
	}
	res.Order = &order

	// 11. Attribution and bandit outcome always record, even for failures; a
	// failed submission is itself a learning signal.
	if _, err := runStep(ctx, o, cp, stepAttribution, 1, func(ctx context.Context) (bool, error) {
		return true, o.deps.Repo.Attributions.Insert(ctx, persistence.AttributionRecord{
			OrderID:   order.OrderID,
			Symbol:    p.Symbol,
			Mechanism: "aslf",
			ASLF:      score.ASLF,
			Style:     string(plan.Style),
			ImpactBps: plan.ImpactBps,
			Status:    order.Status,
		})
	}); err != nil {
		return nil, fmt.Errorf("record attribution: %w", err)
	}
	if _, err := runStep(ctx, o, cp, stepBanditOutcome, 1, func(ctx context.Context) (bool, error) {
		return true, o.deps.Bandit.RecordOutcome(ctx, p.Symbol, order.Status)
	}); err != nil {
		return nil, fmt.Errorf("record bandit outcome: %w", err)
	}

	if entry := entryPrice(order); entry > 0 {
		// Checkpointed so a crash before the terminal save cannot book the
		// same fill's PnL twice on resume.
		if _, err := runStep(ctx, o, cp, stepUpdateEquity, 1, func(ctx context.Context) (bool, error) {
			o.updateEquity(ctx, p.Symbol, entry)
			return true, nil
		}); err != nil {
			return nil, fmt.Errorf("update equity: %w", err)
		}
		symbol, horizon, orderID := p.Symbol, p.HorizonMinutes, order.OrderID
		o.spawn(func() {
			if _, perr := o.deps.Postmortem.Run(context.Background(), symbol, entry, horizon, orderID); perr != nil {
				log.Warn().Str("order_id", orderID).Err(perr).Msg("postmortem failed")
			}
		})
	}

	res.Status = StatusExecuted
	if order.Status == execution.StatusSliced {
		res.Status = StatusSliced
	}
	return o.finish(ctx, cp, res)
}

func (o *Orchestrator) submit(ctx context.Context, cp *persistence.Checkpoint, pipelineID string, p *domain.Proposal, plan execution.Plan, notional float64) (execution.OrderResult, error) {
	if plan.Style == execution.StyleMarket {
		order, err := runStep(ctx, o, cp, stepSubmit, 3, func(ctx context.Context) (execution.OrderResult, error) {
			return o.deps.Submitter.Submit(ctx, execution.OrderRequest{
				Symbol:         p.Symbol,
				Side:           p.Side,
				QuoteNotional:  notional,
				IdempotencyKey: p.IdempotencyKey(pipelineID),
			})
		})
		if err != nil {
			return execution.OrderResult{}, fmt.Errorf("submit order: %w", err)
		}
		return order, nil
	}

	// Sliced styles run as an independent concurrent unit; the parent
	// records an intermediate result with no order id.
	return runStep(ctx, o, cp, stepSubmit, 1, func(ctx context.Context) (execution.OrderResult, error) {
		symbol, side, slices := p.Symbol, p.Side, plan.Slices
		o.spawn(func() { o.deps.Slicer.Run(context.Background(), symbol, side, notional, slices) })
		return execution.OrderResult{Status: execution.StatusSliced, Symbol: symbol}, nil
	})
}

func (o *Orchestrator) loadCheckpoint(ctx context.Context, pipelineID, symbol string) (*persistence.Checkpoint, error) {
	cp, err := o.deps.Repo.Pipelines.Load(ctx, pipelineID)
	if errors.Is(err, persistence.ErrNotFound) {
		return &persistence.Checkpoint{
			PipelineID: pipelineID,
			Symbol:     symbol,
			Status:     StatusRunning,
			Outputs:    make(map[string][]byte),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", pipelineID, err)
	}
	if cp.Outputs == nil {
		cp.Outputs = make(map[string][]byte)
	}
	log.Info().Str("pipeline_id", pipelineID).Str("cursor", cp.Cursor).Msg("resuming pipeline from checkpoint")
	return cp, nil
}

func (o *Orchestrator) replayTerminal(cp *persistence.Checkpoint) *Result {
	if raw, ok := cp.Outputs[resultKey]; ok {
		var res Result
		if err := json.Unmarshal(raw, &res); err == nil {
			return &res
		}
	}
	return &Result{PipelineID: cp.PipelineID, Symbol: cp.Symbol, Status: cp.Status, Reason: cp.Reason}
}

func (o *Orchestrator) reject(ctx context.Context, cp *persistence.Checkpoint, res *Result, reason string) (*Result, error) {
	res.Status = StatusRejected
	res.Reason = reason
	return o.finish(ctx, cp, res)
}

func (o *Orchestrator) finish(ctx context.Context, cp *persistence.Checkpoint, res *Result) (*Result, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	cp.Outputs[resultKey] = raw
	cp.Status = res.Status
	cp.Reason = res.Reason
	if err := o.deps.Repo.Pipelines.Save(ctx, *cp); err != nil {
		return nil, fmt.Errorf("save terminal checkpoint: %w", err)
	}
	metrics.PipelineOutcomes.WithLabelValues(res.Status, res.Reason).Inc()
	log.Info().
		Str("pipeline_id", res.PipelineID).
		Str("symbol", res.Symbol).
		Str("status", res.Status).
		Str("reason", res.Reason).
		Msg("pipeline finished")
	return res, nil
}

// updateEquity rolls the equity series forward after a fill. Best-effort:
// bookkeeping failures never fail the pipeline.
func (o *Orchestrator) updateEquity(ctx context.Context, symbol string, entry float64) {
	prev, err := o.deps.Repo.Equity.Latest(ctx)
	if errors.Is(err, persistence.ErrNotFound) {
		prev = &persistence.EquityStats{
			Equity:        o.cfg.Risk.EquityStart,
			HighWaterMark: o.cfg.Risk.EquityStart,
		}
	} else if err != nil {
		log.Warn().Err(err).Msg("equity read failed")
		return
	}
	mark, err := o.deps.Market.LastPrice(ctx, symbol)
	if err != nil {
		log.Warn().Str("symbol", symbol).Err(err).Msg("equity mark price unavailable")
		return
	}
	next := risk.NextEquityStats(*prev, prev.Equity+(mark-entry))
	if err := o.deps.Repo.Equity.Insert(ctx, next); err != nil {
		log.Warn().Err(err).Msg("equity write failed")
	}
}

func entryPrice(order execution.OrderResult) float64 {
	if order.AvgPrice > 0 {
		return order.AvgPrice
	}
	if len(order.Fills) > 0 {
		return order.Fills[0].Price
	}
	return 0
}

// runStep executes one checkpointed step: if the checkpoint already holds the
// step's output it is replayed without re-executing side effects; otherwise
// fn runs under the per-step timeout with bounded retries, and the output is
// persisted before the pipeline moves on.
func runStep[T any](ctx context.Context, o *Orchestrator, cp *persistence.Checkpoint, name string, attempts int, fn func(context.Context) (T, error)) (T, error) {
	var out T
	if raw, ok := cp.Outputs[name]; ok {
		if err := json.Unmarshal(raw, &out); err == nil {
			log.Debug().Str("pipeline_id", cp.PipelineID).Str("step", name).Msg("step replayed from checkpoint")
			return out, nil
		}
	}

	timer := prometheus.NewTimer(metrics.StepDuration.WithLabelValues(name))
	defer timer.ObserveDuration()

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.Pipeline.StepTimeout())
		out, err = fn(stepCtx)
		cancel()
		if err == nil {
			break
		}
		log.Warn().
			Str("pipeline_id", cp.PipelineID).
			Str("step", name).
			Int("attempt", attempt).
			Err(err).
			Msg("step attempt failed")
		if attempt < attempts {
			if werr := waitCtx(ctx, o.backoff*time.Duration(attempt)); werr != nil {
				var zero T
				return zero, werr
			}
		}
	}
	if err != nil {
		var zero T
		return zero, err
	}

	raw, merr := json.Marshal(out)
	if merr != nil {
		var zero T
		return zero, fmt.Errorf("encode %s output: %w", name, merr)
	}
	cp.Outputs[name] = raw
	cp.Cursor = name
	if serr := o.deps.Repo.Pipelines.Save(ctx, *cp); serr != nil {
		var zero T
		return zero, fmt.Errorf("checkpoint after %s: %w", name, serr)
	}
	return out, nil
}
