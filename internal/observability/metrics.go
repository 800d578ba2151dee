package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentguard_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// CommentsSynced counts comments written by the diff engine by outcome (created, updated, visibility).
	CommentsSynced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentguard_comments_synced_total",
		Help: "Comments created or updated during sync",
	}, []string{"outcome"})

	// SyncRuns counts account runs by mode and result.
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentguard_sync_runs_total",
		Help: "Account sync runs by mode and result",
	}, []string{"mode", "result"})

	// SyncDuration records how long one account run takes.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commentguard_sync_duration_seconds",
		Help:    "Duration of one account sync run",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"mode"})

	// AccountSkips counts accounts skipped because a previous run still holds the lock.
	AccountSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentguard_account_skips_total",
		Help: "Accounts skipped because they were already in flight",
	}, []string{"job"})

	// InFlightAccounts is the number of account runs currently holding a lock.
	InFlightAccounts = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "commentguard_in_flight_accounts",
		Help: "Account runs currently holding a lock",
	}, []string{"job"})

	// Decisions counts moderation decisions by category, action and source.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentguard_decisions_total",
		Help: "Moderation decisions by category, action and source",
	}, []string{"category", "action", "source"})

	// ClassificationRetries counts classifier retries by reason.
	ClassificationRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentguard_classification_retries_total",
		Help: "Classifier retries by reason",
	}, []string{"reason"})

	// DegradedDecisions counts classifications that fell back to the safe default.
	DegradedDecisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commentguard_degraded_decisions_total",
		Help: "Classifications that fell back to the degraded default",
	})

	// InjectionSuspected counts classifications downgraded by the injection guard.
	InjectionSuspected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentguard_injection_suspected_total",
		Help: "Prompt injection detections by stage",
	}, []string{"stage"})

	// PrecedentHits counts comments decided by a stored precedent.
	PrecedentHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentguard_precedent_hits_total",
		Help: "Comments short-circuited by a precedent",
	}, []string{"action"})

	// PlatformCallLatency records remote platform call latency by operation.
	PlatformCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commentguard_platform_call_latency_seconds",
		Help:    "Remote platform call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})

	// ActionFailures counts enforcement calls the platform rejected.
	ActionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentguard_action_failures_total",
		Help: "Enforcement calls rejected by the platform",
	}, []string{"action"})

	// ReviewActions counts human review verdicts.
	ReviewActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentguard_review_actions_total",
		Help: "Human review actions by type",
	}, []string{"action"})

	// WebSocketConnectionsTotal is the gauge of connected review feed clients.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "commentguard_websocket_connections_total",
		Help: "Total number of active review feed connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commentguard_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// ObservePlatformCall records the latency of a platform call started at start.
func ObservePlatformCall(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PlatformCallLatency.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}

// TrackSync returns a function that records the run duration and result when called (e.g. defer).
func TrackSync(mode string) func(err error) {
	start := time.Now()
	return func(err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		SyncDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
		SyncRuns.WithLabelValues(mode, result).Inc()
	}
}
