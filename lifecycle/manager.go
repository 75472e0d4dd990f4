// Package lifecycle owns the migration state machine: it validates every
// state change, persists the job and reports it.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/metrics"
	"github.com/getpup/shardmover/store"
)

// transitions lists the allowed moves out of every non-terminal state.
// PermanentFailure is reachable from any non-terminal state and is not listed.
var transitions = map[shardmover.MigrationState][]shardmover.MigrationState{
	// Unconfigured → CutoverInProgress resumes a cutover found half done on restart.
	shardmover.StateUnconfigured:       {shardmover.StateInitialized, shardmover.StateCutoverInProgress},
	shardmover.StateInitialized:        {shardmover.StateReplicationPending},
	shardmover.StateReplicationPending: {shardmover.StateReplicationActive, shardmover.StateReplicationFailed},
	shardmover.StateReplicationActive:  {shardmover.StateVerifying, shardmover.StateReplicationFailed},
	shardmover.StateVerifying:          {shardmover.StateVerified, shardmover.StateReplicationActive, shardmover.StateVerificationFailed},
	shardmover.StateVerified:           {shardmover.StateCutoverInProgress},
	shardmover.StateCutoverInProgress:  {shardmover.StateCutoverComplete},
	shardmover.StateReplicationFailed:  {shardmover.StateReplicationPending},
	shardmover.StateVerificationFailed: {},
}

// CanTransition reports whether the state machine allows moving from one state to another.
func CanTransition(from, to shardmover.MigrationState) bool {
	if from.Terminal() {
		return false
	}
	if to == shardmover.StatePermanentFailure {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Config holds configuration for the lifecycle Manager.
type Config struct {
	// Store is the job journal (required).
	Store store.JobStore

	// Logger is for observability (optional).
	Logger es.Logger

	// MetricsEnabled records state gauges and outcome counters when true.
	MetricsEnabled bool
}

// Manager drives one job through the state machine.
type Manager struct {
	config Config
}

// New creates a new lifecycle Manager with the given configuration.
func New(cfg Config) *Manager {
	return &Manager{
		config: cfg,
	}
}

// Begin records a new job for table in the Unconfigured state.
func (m *Manager) Begin(ctx context.Context, table string, source, destination shardmover.ShardRef) (shardmover.MigrationJob, error) {
	job, err := m.config.Store.CreateJob(ctx, shardmover.MigrationJob{
		Table:       table,
		Source:      source,
		Destination: destination,
		State:       shardmover.StateUnconfigured,
	})
	if err != nil {
		return shardmover.MigrationJob{}, fmt.Errorf("failed to create job: %w", err)
	}

	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "migration job created",
			"jobID", job.ID, "table", table, "source", source.String(), "destination", destination.String())
	}

	if c := m.collector(job); c != nil {
		c.IncMigrationsStarted()
		c.SetState(stateNames(), string(job.State))
	}

	return job, nil
}

// Previous returns the latest journaled job for table, if any.
func (m *Manager) Previous(ctx context.Context, table string) (shardmover.MigrationJob, bool, error) {
	job, err := m.config.Store.GetLatestJob(ctx, table)
	if err == store.ErrJobNotFound {
		return shardmover.MigrationJob{}, false, nil
	}
	if err != nil {
		return shardmover.MigrationJob{}, false, fmt.Errorf("failed to read previous job: %w", err)
	}
	return job, true, nil
}

// Transition moves job to state to and persists it.
// Returns an error wrapping shardmover.ErrInvalidTransition if the move is not allowed;
// the job is left unchanged in that case.
func (m *Manager) Transition(ctx context.Context, job *shardmover.MigrationJob, to shardmover.MigrationState) error {
	from := job.State
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", shardmover.ErrInvalidTransition, from, to)
	}

	job.State = to
	if err := m.Save(ctx, job); err != nil {
		job.State = from
		return err
	}

	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "migration state changed",
			"jobID", job.ID, "table", job.Table, "from", string(from), "to", string(to))
	}

	if c := m.collector(*job); c != nil {
		c.SetState(stateNames(), string(to))
		switch to {
		case shardmover.StateCutoverComplete:
			c.IncMigrationsCompleted()
		case shardmover.StatePermanentFailure:
			c.IncMigrationsFailed()
		}
	}

	return nil
}

// Fail records cause on job and moves it to PermanentFailure.
// A job already in a terminal state is left as is.
func (m *Manager) Fail(ctx context.Context, job *shardmover.MigrationJob, cause error) error {
	if job.State.Terminal() {
		return nil
	}

	if cause != nil {
		job.LastError = cause.Error()
	}

	if m.config.Logger != nil {
		m.config.Logger.Error(ctx, "migration failed",
			"jobID", job.ID, "table", job.Table, "state", string(job.State), "error", cause)
	}

	return m.Transition(ctx, job, shardmover.StatePermanentFailure)
}

// Save persists job without changing its state.
func (m *Manager) Save(ctx context.Context, job *shardmover.MigrationJob) error {
	job.UpdatedAt = time.Now()
	if err := m.config.Store.SaveJob(ctx, *job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (m *Manager) collector(job shardmover.MigrationJob) *metrics.Collector {
	if !m.config.MetricsEnabled {
		return nil
	}
	return metrics.NewCollector(job.Table)
}

func stateNames() []string {
	names := make([]string, len(shardmover.AllStates))
	for i, s := range shardmover.AllStates {
		names[i] = string(s)
	}
	return names
}
