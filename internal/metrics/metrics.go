package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/spigell/cv-screener/internal/ai"
)

const namespace = "cv_screener"

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeTransient = "transient"
	OutcomeError     = "error"
	OutcomeDeclined  = "declined"
)

// Recorder owns a private registry with the collectors of one screening process. A nil
// Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	oracleCalls    *prometheus.CounterVec
	oracleLatency  *prometheus.HistogramVec
	sampleFailures *prometheus.CounterVec
	fitScore       *prometheus.GaugeVec
	stageDuration  *prometheus.HistogramVec
	runs           *prometheus.CounterVec
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "requests_total",
			Help:      "Oracle requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		oracleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "request_duration_seconds",
			Help:      "Oracle round-trip latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		}, []string{"provider"}),
		sampleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "failures_total",
			Help:      "Failed sample sets by failure kind.",
		}, []string{"kind"}),
		fitScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aggregated_fit_score",
			Help:      "Aggregated fit score per candidate of the last run.",
		}, []string{"candidate_id"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration spent in each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
	}

	r.registry.MustRegister(r.oracleCalls, r.oracleLatency, r.sampleFailures, r.fitScore, r.stageDuration, r.runs)

	return r
}

// Registry exposes the underlying registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveOracleCall records one oracle request.
func (r *Recorder) ObserveOracleCall(provider string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case ai.IsTransient(err):
		outcome = OutcomeTransient
	default:
		outcome = OutcomeError
	}
	r.oracleCalls.WithLabelValues(provider, outcome).Inc()
	r.oracleLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// IncSampleFailure counts a failed sample set.
func (r *Recorder) IncSampleFailure(kind string) {
	if r == nil {
		return
	}
	r.sampleFailures.WithLabelValues(kind).Inc()
}

// SetFitScore records the aggregated score of a candidate.
func (r *Recorder) SetFitScore(candidateID string, score float64) {
	if r == nil {
		return
	}
	r.fitScore.WithLabelValues(candidateID).Set(score)
}

// ObserveStage records the duration of a pipeline stage.
func (r *Recorder) ObserveStage(stage string, err error, duration time.Duration) {
	if r == nil {
		return
	}
	status := OutcomeSuccess
	if err != nil {
		status = OutcomeError
	}
	r.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// IncRun counts a finished run.
func (r *Recorder) IncRun(outcome string) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
}

// WriteTextfile dumps the registry in the text exposition format for the node exporter
// textfile collector. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || strings.TrimSpace(path) == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// InstrumentOracle records every call of next under the provider label.
func InstrumentOracle(next ai.Oracle, provider string, recorder *Recorder) ai.Oracle {
	if recorder == nil || next == nil {
		return next
	}
	return &instrumentedOracle{next: next, provider: provider, recorder: recorder}
}

type instrumentedOracle struct {
	next     ai.Oracle
	provider string
	recorder *Recorder
}

func (o *instrumentedOracle) Complete(ctx context.Context, model, system, user string) (string, error) {
	start := time.Now()
	out, err := o.next.Complete(ctx, model, system, user)
	if errors.Is(err, context.Canceled) {
		return out, err
	}
	o.recorder.ObserveOracleCall(o.provider, err, time.Since(start))
	return out, err
}
