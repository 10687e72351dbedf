package api

import (
	"time"

	"github.com/ethpandaops/flakeoor/pkg/detector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "flakeoor"

type metrics struct {
	detections        *prometheus.CounterVec
	detectionDuration prometheus.Histogram
	executions        prometheus.Counter
	flagged           *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "detection_runs_total",
				Help:      "Number of detection requests by outcome.",
			},
			[]string{"outcome"},
		),
		detectionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "detection_duration_seconds",
				Help:      "Time spent running the detection pipeline.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),
		executions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "executions_analyzed_total",
				Help:      "Number of execution records analyzed.",
			},
		),
		flagged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "flagged_executions_total",
				Help:      "Number of executions flagged as flaky, by method.",
			},
			[]string{"method"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route and status code.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.detections,
		m.detectionDuration,
		m.executions,
		m.flagged,
		m.requestDuration,
	)

	return m
}

// observeDetection records a successful detection pass.
func (m *metrics) observeDetection(res *detector.Result, took time.Duration) {
	m.detections.WithLabelValues("success").Inc()
	m.detectionDuration.Observe(took.Seconds())
	m.executions.Add(float64(res.Summary.TotalExecutions))
	m.flagged.WithLabelValues("any").Add(float64(res.Summary.FlakyExecutions))
	m.flagged.WithLabelValues("stat").Add(float64(res.Summary.StatFlaggedExecutions))
	m.flagged.WithLabelValues("ml").Add(float64(res.Summary.MLFlaggedExecutions))
}

func (m *metrics) observeFailure(outcome string) {
	m.detections.WithLabelValues(outcome).Inc()
}
