package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MigrationsStartedTotal tracks the total number of migration runs started.
var MigrationsStartedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shardmover_migrations_started_total",
		Help: "Total migration runs started",
	},
	[]string{"table"},
)

// MigrationsCompletedTotal tracks the total number of migrations that reached cutover_complete.
var MigrationsCompletedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shardmover_migrations_completed_total",
		Help: "Total migrations completed",
	},
	[]string{"table"},
)

// MigrationsFailedTotal tracks the total number of migrations that ended in permanent_failure.
var MigrationsFailedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shardmover_migrations_failed_total",
		Help: "Total migrations failed permanently",
	},
	[]string{"table"},
)

// ReplicationAttemptsTotal tracks strategy starts.
var ReplicationAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shardmover_replication_attempts_total",
		Help: "Total replication strategy starts",
	},
	[]string{"table", "strategy"},
)

// StrategyFallbacksTotal tracks fallbacks from native replication to snapshot copy.
var StrategyFallbacksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shardmover_strategy_fallbacks_total",
		Help: "Total strategy fallbacks",
	},
	[]string{"table"},
)

// VerificationsTotal tracks consistency checks by result (consistent or mismatch).
var VerificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shardmover_verifications_total",
		Help: "Total consistency checks",
	},
	[]string{"table", "result"},
)

// RoutingPublishesTotal tracks routing document writes by result (ok or error).
var RoutingPublishesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shardmover_routing_publishes_total",
		Help: "Total routing document publishes",
	},
	[]string{"path", "result"},
)

// RoutingPublishRetriesTotal tracks retried routing document writes.
var RoutingPublishRetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shardmover_routing_publish_retries_total",
		Help: "Total routing document publish retries",
	},
	[]string{"path"},
)

// RouterRequestsTotal tracks router requests by status code.
var RouterRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shardmover_router_requests_total",
		Help: "Total router requests",
	},
	[]string{"route", "code"},
)

// MigrationState tracks the job state (value 1 for current state, 0 otherwise).
var MigrationState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "shardmover_migration_state",
		Help: "Migration state (1 for current state, 0 otherwise)",
	},
	[]string{"table", "state"},
)

// ReplicationLagSeconds tracks the last observed replica lag.
var ReplicationLagSeconds = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "shardmover_replication_lag_seconds",
		Help: "Last observed replication lag",
	},
	[]string{"table"},
)

// PhaseDuration tracks time spent in each migration phase.
var PhaseDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "shardmover_phase_duration_seconds",
		Help:    "Time spent in each migration phase",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"table", "phase"},
)
