package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_sync_runs_total",
			Help: "Finished tenant sync runs by mode and terminal state",
		},
		[]string{"mode", "state"},
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_sync_run_duration_seconds",
			Help:    "Wall time of tenant sync runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"mode"},
	)

	SyncStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_sync_stage_duration_seconds",
			Help:    "Wall time of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"stage"},
	)

	SyncStageRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_sync_stage_records_total",
			Help: "Records reconciled per stage by outcome (created, updated, unchanged, skipped)",
		},
		[]string{"stage", "outcome"},
	)

	SyncStageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_sync_stage_failures_total",
			Help: "Pipeline stages that ended a run",
		},
		[]string{"stage"},
	)

	RemoteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_remote_requests_total",
			Help: "Remote gateway calls by resource kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_remote_request_duration_seconds",
			Help:    "Latency of remote gateway calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mirror_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	PairedIncidentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_paired_incidents_total",
			Help: "Problem events paired with their resolution",
		},
	)

	PairingAnomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_pairing_anomalies_total",
			Help: "Non-fatal pairing anomalies by kind",
		},
		[]string{"kind"},
	)

	LeaseRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_lease_rejections_total",
			Help: "Runs rejected because the tenant already had a run in progress",
		},
	)

	BackfillRelinkedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_backfill_relinked_total",
			Help: "Orphaned event references relinked after a stage",
		},
		[]string{"reference"},
	)

	IndexCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_index_cache_lookups_total",
			Help: "Tenant index cache lookups by result (hit, miss)",
		},
		[]string{"result"},
	)

	RunNotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_run_notifications_total",
			Help: "Run result notifications by outcome (published, failed)",
		},
		[]string{"outcome"},
	)
)

func RecordStageCounts(stage string, created, updated, unchanged, skipped int) {
	SyncStageRecords.WithLabelValues(stage, "created").Add(float64(created))
	SyncStageRecords.WithLabelValues(stage, "updated").Add(float64(updated))
	SyncStageRecords.WithLabelValues(stage, "unchanged").Add(float64(unchanged))
	SyncStageRecords.WithLabelValues(stage, "skipped").Add(float64(skipped))
}
