package possync

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PendingRecordsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pos_pending_records",
			Help: "Records waiting in the local durable queue",
		},
		[]string{"kind"},
	)

	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_sync_runs_total",
			Help: "Reconciliation passes by final status",
		},
		[]string{"status"},
	)

	SyncSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pos_sync_skipped_total",
			Help: "Sync triggers ignored because a pass was already in flight",
		},
	)

	RecordsSyncedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_records_synced_total",
			Help: "Offline records successfully reconciled",
		},
		[]string{"kind"},
	)

	SyncErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_sync_errors_total",
			Help: "Per-record reconciliation failures",
		},
		[]string{"kind", "step"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(
		PendingRecordsGauge,
		SyncRunsTotal,
		SyncSkippedTotal,
		RecordsSyncedTotal,
		SyncErrorsTotal,
	)
}
