package services

import "github.com/prometheus/client_golang/prometheus"

var (
	recomputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaderboard_recomputes_total",
			Help: "Leaderboard triggers processed, by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)
	persistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leaderboard_snapshot_persist_failures_total",
			Help: "Snapshot writes that failed after all retries",
		},
	)
	remoteSnapshotsIgnored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaderboard_remote_snapshots_ignored_total",
			Help: "Remote snapshots that did not replace the local ranking, by reason",
		},
		[]string{"reason"},
	)
	subscriptionRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leaderboard_subscription_restarts_total",
			Help: "Live subscriptions re-established after a failure",
		},
		[]string{"stream"},
	)
	assessmentUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_upserts_total",
			Help: "Rating writes, by result",
		},
		[]string{"result"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "leaderboard_active_sessions",
			Help: "Leaderboard sessions currently running",
		},
	)
)

// RegisterMetrics registers the engine metrics. Call this from main.go
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(recomputesTotal)
	reg.MustRegister(persistFailures)
	reg.MustRegister(remoteSnapshotsIgnored)
	reg.MustRegister(subscriptionRestarts)
	reg.MustRegister(assessmentUpserts)
	reg.MustRegister(activeSessions)
}
