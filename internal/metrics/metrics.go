// Package metrics exposes prometheus collectors for the decision pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PipelineOutcomes counts terminal pipeline results by status and reason.
	PipelineOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "traderun_pipeline_outcomes_total", Help: "Terminal pipeline outcomes by status and rejection reason"},
		[]string{"status", "reason"},
	)
	// StepDuration observes per-step wall time.
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "traderun_step_duration_seconds",
			Help:    "Pipeline step execution time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)
	// AttentionDecisions counts scorer gate decisions.
	AttentionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "traderun_attention_decisions_total", Help: "ASLF gate decisions"},
		[]string{"decision"},
	)
	// BurstScore observes the attention burst ratio distribution.
	BurstScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "traderun_attention_burst_score",
			Help:    "Burst score (fast intensity over baseline)",
			Buckets: []float64{0.25, 0.5, 1, 1.5, 2, 3, 5, 10},
		},
	)
	// OrdersSubmitted counts venue submissions by classified outcome.
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "traderun_orders_submitted_total", Help: "Order submissions by symbol and classified status"},
		[]string{"symbol", "status"},
	)
	// SlicesSubmitted counts child slice submissions.
	SlicesSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "traderun_slices_submitted_total", Help: "Slice submissions by symbol and classified status"},
		[]string{"symbol", "status"},
	)
	// BanditPromotions counts one-way probe-to-promoted transitions.
	BanditPromotions = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "traderun_bandit_promotions_total", Help: "Bandit keys promoted past the posterior-mean threshold"},
	)
	// BookSourceFailures counts order-book source failures by host.
	BookSourceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "traderun_book_source_failures_total", Help: "Order book source failures triggering fallback"},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(
		PipelineOutcomes,
		StepDuration,
		AttentionDecisions,
		BurstScore,
		OrdersSubmitted,
		SlicesSubmitted,
		BanditPromotions,
		BookSourceFailures,
	)
}
