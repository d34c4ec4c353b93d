package chainsync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"

	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "chainsync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Height of the highest block persisted locally.
	BlockProgress metrics.Gauge

	// Height of the fork-choice head tracked by the fork view.
	HeadHeight metrics.Gauge

	// Number of blocks pulled from the exchange's result queue.
	DownloadedBlocks metrics.Counter

	// Number of chain segments that verified successfully.
	ValidChains metrics.Counter

	// Number of chain segments rejected by validation.
	InvalidChains metrics.Counter

	// Size of the accumulated bad-headers set.
	BadHeaders metrics.Gauge

	// Whether the engine is downloading. 1 if yes, 0 if no.
	Syncing metrics.Gauge
}

// PrometheusMetrics returns Metrics built using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		BlockProgress: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "block_progress",
			Help:      "Height of the highest block persisted locally.",
		}, labels).With(labelsAndValues...),
		HeadHeight: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "head_height",
			Help:      "Height of the fork-choice head.",
		}, labels).With(labelsAndValues...),
		DownloadedBlocks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "downloaded_blocks",
			Help:      "Number of blocks pulled from the result queue.",
		}, labels).With(labelsAndValues...),
		ValidChains: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "valid_chains",
			Help:      "Number of chain segments that verified successfully.",
		}, labels).With(labelsAndValues...),
		InvalidChains: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "invalid_chains",
			Help:      "Number of chain segments rejected by validation.",
		}, labels).With(labelsAndValues...),
		BadHeaders: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "bad_headers",
			Help:      "Size of the accumulated bad-headers set.",
		}, labels).With(labelsAndValues...),
		Syncing: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "syncing",
			Help:      "Whether the engine is downloading. 1 if yes, 0 if no.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		BlockProgress:    discard.NewGauge(),
		HeadHeight:       discard.NewGauge(),
		DownloadedBlocks: discard.NewCounter(),
		ValidChains:      discard.NewCounter(),
		InvalidChains:    discard.NewCounter(),
		BadHeaders:       discard.NewGauge(),
		Syncing:          discard.NewGauge(),
	}
}
