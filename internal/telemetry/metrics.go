package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
	"github.com/tjfontaine/polyglot-relay/internal/tokens"
)

// Stream outcomes reported by StreamFinished.
const (
	StreamAnswered       = "answered"
	StreamFailed         = "error"
	StreamTransportFault = "transport_fault"
)

// Metrics records run and stage metrics. It satisfies pipeline.Observer.
type Metrics struct {
	registry *prometheus.Registry
	counter  *tokens.Registry

	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	stageTokens   *prometheus.HistogramVec
	streams       *prometheus.CounterVec
}

// NewMetrics registers the relay collectors on a fresh registry.
func NewMetrics(counter *tokens.Registry) *Metrics {
	if counter == nil {
		counter = tokens.NewRegistry()
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		counter:  counter,
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_runs_total",
				Help: "Finished pipeline runs by terminal status",
			},
			[]string{"pipeline", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_run_duration_seconds",
				Help:    "Wall time of finished pipeline runs",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"pipeline"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_stage_duration_seconds",
				Help:    "Duration of stage capability calls",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"pipeline", "stage"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_stage_failures_total",
				Help: "Stage executions that returned an error",
			},
			[]string{"pipeline", "stage"},
		),
		stageTokens: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_stage_output_tokens",
				Help:    "Tokens in each stage output of succeeded runs",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"pipeline", "stage"},
		),
		streams: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_streams_total",
				Help: "Progress streams by outcome",
			},
			[]string{"pipeline", "outcome"},
		),
	}

	m.registry.MustRegister(
		m.runs, m.runDuration, m.stageDuration, m.stageFailures, m.stageTokens, m.streams,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StageFinished(pipeline, stage string, d time.Duration, err error) {
	m.stageDuration.WithLabelValues(pipeline, stage).Observe(d.Seconds())
	if err != nil {
		m.stageFailures.WithLabelValues(pipeline, stage).Inc()
	}
}

func (m *Metrics) RunFinished(snap *domain.RunSnapshot) {
	m.runs.WithLabelValues(snap.Pipeline, string(snap.Status)).Inc()
	m.runDuration.WithLabelValues(snap.Pipeline).Observe(snap.Duration().Seconds())

	if snap.Status != domain.RunSucceeded {
		return
	}
	for _, st := range snap.Trace {
		n := m.counter.Count(st.Model, st.Output).Tokens
		m.stageTokens.WithLabelValues(snap.Pipeline, st.StageID).Observe(float64(n))
	}
}

// StreamFinished counts one finished progress stream.
func (m *Metrics) StreamFinished(pipeline, outcome string) {
	m.streams.WithLabelValues(pipeline, outcome).Inc()
}
