package metrics

// Collector wraps metrics and provides helper methods with a pre-filled table label.
type Collector struct {
	table string
}

// NewCollector creates a new Collector for the given table.
func NewCollector(table string) *Collector {
	return &Collector{table: table}
}

// IncMigrationsStarted increments the migrations started counter.
func (c *Collector) IncMigrationsStarted() {
	MigrationsStartedTotal.WithLabelValues(c.table).Inc()
}

// IncMigrationsCompleted increments the migrations completed counter.
func (c *Collector) IncMigrationsCompleted() {
	MigrationsCompletedTotal.WithLabelValues(c.table).Inc()
}

// IncMigrationsFailed increments the migrations failed counter.
func (c *Collector) IncMigrationsFailed() {
	MigrationsFailedTotal.WithLabelValues(c.table).Inc()
}

// IncReplicationAttempts increments the replication attempts counter for a strategy.
func (c *Collector) IncReplicationAttempts(strategy string) {
	ReplicationAttemptsTotal.WithLabelValues(c.table, strategy).Inc()
}

// IncStrategyFallbacks increments the strategy fallbacks counter.
func (c *Collector) IncStrategyFallbacks() {
	StrategyFallbacksTotal.WithLabelValues(c.table).Inc()
}

// IncVerifications increments the verifications counter.
func (c *Collector) IncVerifications(consistent bool) {
	result := "mismatch"
	if consistent {
		result = "consistent"
	}
	VerificationsTotal.WithLabelValues(c.table, result).Inc()
}

// SetState sets the state gauge. Sets value to 1 for the given state, 0 for others.
func (c *Collector) SetState(states []string, state string) {
	for _, s := range states {
		if s == state {
			MigrationState.WithLabelValues(c.table, s).Set(1)
		} else {
			MigrationState.WithLabelValues(c.table, s).Set(0)
		}
	}
}

// SetReplicationLag sets the replication lag gauge.
func (c *Collector) SetReplicationLag(seconds float64) {
	ReplicationLagSeconds.WithLabelValues(c.table).Set(seconds)
}

// ObservePhaseDuration records how long a phase took.
func (c *Collector) ObservePhaseDuration(phase string, seconds float64) {
	PhaseDuration.WithLabelValues(c.table, phase).Observe(seconds)
}

// ObservePublish records a routing document publish on path.
func ObservePublish(path string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	RoutingPublishesTotal.WithLabelValues(path, result).Inc()
}

// IncPublishRetries increments the publish retries counter for path.
func IncPublishRetries(path string) {
	RoutingPublishRetriesTotal.WithLabelValues(path).Inc()
}
