package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triagebot_runs_total",
			Help: "Pipeline runs by terminal status",
		},
		[]string{"status"}, // completed, aborted, error, canceled
	)

	StageInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triagebot_stage_invocations_total",
			Help: "Stage invocations by stage name",
		},
		[]string{"stage"},
	)

	SchemaFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triagebot_schema_failures_total",
			Help: "Stage outputs rejected by their schema",
		},
		[]string{"schema"},
	)

	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triagebot_decisions_total",
			Help: "Dispositions reported by decision",
		},
		[]string{"decision"},
	)

	OverridesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triagebot_overrides_total",
			Help: "Policy overrides applied by intent",
		},
		[]string{"intent"},
	)

	ClassificationConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triagebot_classification_confidence",
			Help:    "Classification confidence distribution",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	LowConfidenceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triagebot_low_confidence_total",
			Help: "Classifications below the low-confidence mark by intent",
		},
		[]string{"intent"},
	)

	RunDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triagebot_run_duration_seconds",
			Help:    "End-to-end pipeline run latency",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	OracleTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triagebot_oracle_tokens_total",
			Help: "Oracle tokens consumed by direction",
		},
		[]string{"direction"}, // input, output
	)

	PolledIncidentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triagebot_polled_incidents_total",
			Help: "Incidents seen by the intake poller by outcome",
		},
		[]string{"outcome"}, // fetched, skipped, processed, failed
	)
)

// LowConfidenceMark is the confidence below which a classification is
// counted as low confidence.
const LowConfidenceMark = 0.3

func RecordStage(stage string) {
	StageInvocationsTotal.WithLabelValues(stage).Inc()
}

func RecordSchemaFailure(schema string) {
	SchemaFailuresTotal.WithLabelValues(schema).Inc()
}

func RecordClassification(intent string, confidence float64) {
	ClassificationConfidence.Observe(confidence)
	if confidence < LowConfidenceMark {
		LowConfidenceTotal.WithLabelValues(intent).Inc()
	}
}

func RecordDecision(decision string, overrideIntent string) {
	DecisionsTotal.WithLabelValues(decision).Inc()
	if overrideIntent != "" {
		OverridesTotal.WithLabelValues(overrideIntent).Inc()
	}
}

func RecordRun(status string, elapsed time.Duration) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDurationSeconds.Observe(elapsed.Seconds())
}

func RecordTokens(input, output int64) {
	if input > 0 {
		OracleTokensTotal.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		OracleTokensTotal.WithLabelValues("output").Add(float64(output))
	}
}

func RecordPoll(outcome string, n int) {
	if n > 0 {
		PolledIncidentsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}
