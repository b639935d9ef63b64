package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the sampling loop and its collaborators.
var (
	SampleCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstrace_samples_total",
			Help: "Number of samples taken, by result.",
		},
		[]string{"result"},
	)
	QueryErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstrace_query_errors_total",
			Help: "Number of failed ss invocations, by kind.",
		},
		[]string{"kind"},
	)
	QueryLatencyHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "sstrace_query_latency_seconds",
			Help: "A histogram of ss invocation latencies.",
			Buckets: []float64{
				.0001, .00025, .0005, .001, .0025,
				.005, .01, .025, .05, .1,
				.25, .5, 1, 2.5, 5},
		},
	)
	ParseErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstrace_parse_errors_total",
			Help: "Number of quarantined samples, by error type.",
		},
		[]string{"error"},
	)
	ConnectionsPerSample = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sstrace_connections_per_sample",
			Help:    "A histogram of the number of matching connections per sample.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
		},
	)
	CaptureRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sstrace_capture_running",
			Help: "A gauge of packet capture processes currently running.",
		},
	)
	TerminationChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sstrace_termination_checks_total",
			Help: "Number of termination flag lookups, by result.",
		},
		[]string{"result"},
	)
)
