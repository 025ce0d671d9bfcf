package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gensvc",
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Generation requests by channel and terminal status",
		},
		[]string{"channel", "status"},
	)

	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gensvc",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "End-to-end pipeline duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"channel"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gensvc",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of sequential pipeline stages in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage", "status"},
	)

	FanoutItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gensvc",
			Subsystem: "pipeline",
			Name:      "fanout_items_total",
			Help:      "Fan-out items by outcome",
		},
		[]string{"channel", "outcome"},
	)

	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gensvc",
			Subsystem: "quota",
			Name:      "admissions_total",
			Help:      "Quota admission decisions",
		},
		[]string{"decision"},
	)

	QuotaSettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gensvc",
			Subsystem: "quota",
			Name:      "settlements_total",
			Help:      "Quota reservations settled by kind",
		},
		[]string{"kind", "status"},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gensvc",
			Subsystem: "storage",
			Name:      "operations_total",
			Help:      "Object storage operations",
		},
		[]string{"driver", "operation", "status"},
	)

	StorageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gensvc",
			Subsystem: "storage",
			Name:      "duration_seconds",
			Help:      "Object storage operation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"driver", "operation"},
	)

	SweepPurgedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gensvc",
			Subsystem: "storage",
			Name:      "sweep_purged_total",
			Help:      "Ephemeral assets handled by the sweeper",
		},
		[]string{"status"},
	)

	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gensvc",
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "External provider calls by capability and status",
		},
		[]string{"provider", "capability", "status"},
	)
)

// RecordRequest records a finished pipeline run.
func RecordRequest(channel, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(channel, status).Inc()
	PipelineDuration.WithLabelValues(channel).Observe(durationSec)
}

// RecordStage records one sequential stage.
func RecordStage(stage, status string, durationSec float64) {
	StageDuration.WithLabelValues(stage, status).Observe(durationSec)
}

// RecordItem records a fan-out item outcome.
func RecordItem(channel, outcome string) {
	FanoutItemsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordAdmission records an admission decision.
func RecordAdmission(decision string) {
	AdmissionsTotal.WithLabelValues(decision).Inc()
}

// RecordSettlement records a quota commit or release.
func RecordSettlement(kind, status string) {
	QuotaSettlementsTotal.WithLabelValues(kind, status).Inc()
}

// RecordStorage records an object storage operation.
func RecordStorage(driver, operation, status string, durationSec float64) {
	StorageOperationsTotal.WithLabelValues(driver, operation, status).Inc()
	StorageDuration.WithLabelValues(driver, operation).Observe(durationSec)
}

// RecordSweep records the result of purging one ephemeral asset.
func RecordSweep(status string) {
	SweepPurgedTotal.WithLabelValues(status).Inc()
}

// RecordProviderCall records one external provider call.
func RecordProviderCall(provider, capability, status string) {
	ProviderCallsTotal.WithLabelValues(provider, capability, status).Inc()
}

// Status maps an error to the "success"/"error" label used by the counters.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
