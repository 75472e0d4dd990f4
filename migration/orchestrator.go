// Package migration moves ownership of one table from a source shard to a
// destination shard.
//
// The Orchestrator inspects both shards and the routing document, creates
// schemas, replicates, verifies and finally cuts the routing over. Every state
// change goes through lifecycle.Manager so that the job journal reflects
// exactly where a run stopped.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/backend"
	"github.com/getpup/shardmover/internal/backoff"
	"github.com/getpup/shardmover/lifecycle"
	"github.com/getpup/shardmover/metrics"
	"github.com/getpup/shardmover/replication"
	"github.com/getpup/shardmover/routing"
	"github.com/getpup/shardmover/store"
	"github.com/getpup/shardmover/store/memory"
	"github.com/getpup/shardmover/verify"
)

// CutoverOrder decides whether the source table is dropped before or after
// the routing document moves to the destination.
type CutoverOrder string

const (
	// DropThenPublish drops the source table first. Requests routed to the
	// source between the two steps fail.
	DropThenPublish CutoverOrder = "drop-then-publish"

	// PublishThenDrop moves routing first and retries the drop on its own.
	PublishThenDrop CutoverOrder = "publish-then-drop"
)

// Valid reports whether o is a known order.
func (o CutoverOrder) Valid() bool {
	return o == DropThenPublish || o == PublishThenDrop
}

// Config holds configuration for the migration Orchestrator.
type Config struct {
	// Source is the shard that owns the table before cutover (required).
	Source backend.Backend

	// Destination is the shard that owns the table after cutover (required).
	Destination backend.Backend

	// Table is the migrated table (required).
	Table shardmover.TableSpec

	// Tables are created on the source and routed to it on bootstrap
	// alongside Table (optional).
	Tables []shardmover.TableSpec

	// Publisher writes the routing document (required).
	Publisher *routing.Publisher

	// JobStore journals migration jobs.
	// If nil, an in-memory store is used and nothing survives a restart.
	JobStore store.JobStore

	// Replication probes capability and builds strategies.
	// If nil, a replication.Engine is created from the fields below.
	Replication replication.Provider

	// Verifier compares the table on both shards.
	// If nil, a verify.Verifier is created.
	Verifier verify.Checker

	// MaxRetries bounds retries of recoverable failures (default: 5).
	// A negative value disables retries.
	MaxRetries int

	// RetryInterval is the initial backoff delay (default: 2s).
	RetryInterval time.Duration

	// SyncTimeout bounds the catch-up wait of the native strategy (default: 30s).
	SyncTimeout time.Duration

	// MaxAllowedLag is the largest replication lag accepted as caught up (default: 1s).
	MaxAllowedLag time.Duration

	// ReplicationUser is the replication account created on the source (default: "repl").
	ReplicationUser string

	// ReplicationPassword is the password of ReplicationUser.
	ReplicationPassword string

	// SourceHost is the source address as seen from the destination server
	// (default: the source ref host).
	SourceHost string

	// VerificationRetries is how many times a mismatch sends the job back to
	// replication before it fails (default: 3). A negative value fails the job
	// on the first mismatch.
	VerificationRetries int

	// CutoverOrder orders the drop and the publish (default: DropThenPublish).
	CutoverOrder CutoverOrder

	// Logger is for observability (optional).
	Logger es.Logger

	// MetricsEnabled enables Prometheus metrics collection (default: true).
	// Set to false explicitly to disable metrics.
	MetricsEnabled *bool
}

// Orchestrator runs a single table migration.
type Orchestrator struct {
	config    Config
	lifecycle *lifecycle.Manager
	collector *metrics.Collector
}

var _ shardmover.Orchestrator = (*Orchestrator)(nil)

// New creates a new Orchestrator with the given configuration.
// Applies default values for all duration/int fields if zero.
func New(cfg Config) *Orchestrator {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	if cfg.VerificationRetries == 0 {
		cfg.VerificationRetries = 3
	}
	if cfg.CutoverOrder == "" {
		cfg.CutoverOrder = DropThenPublish
	}
	if cfg.JobStore == nil {
		cfg.JobStore = memory.New()
	}

	var collector *metrics.Collector
	metricsEnabled := true
	if cfg.MetricsEnabled != nil {
		metricsEnabled = *cfg.MetricsEnabled
	}
	if metricsEnabled {
		collector = metrics.NewCollector(cfg.Table.Name)
	}

	if cfg.Replication == nil {
		cfg.Replication = replication.New(replication.Config{
			Source:              cfg.Source,
			Destination:         cfg.Destination,
			Table:               cfg.Table,
			MaxRetries:          cfg.MaxRetries,
			RetryInterval:       cfg.RetryInterval,
			SyncTimeout:         cfg.SyncTimeout,
			MaxAllowedLag:       cfg.MaxAllowedLag,
			ReplicationUser:     cfg.ReplicationUser,
			ReplicationPassword: cfg.ReplicationPassword,
			SourceHost:          cfg.SourceHost,
			Logger:              cfg.Logger,
			MetricsEnabled:      metricsEnabled,
		})
	}
	if cfg.Verifier == nil {
		cfg.Verifier = verify.New(verify.Config{Logger: cfg.Logger})
	}

	return &Orchestrator{
		config: cfg,
		lifecycle: lifecycle.New(lifecycle.Config{
			Store:          cfg.JobStore,
			Logger:         cfg.Logger,
			MetricsEnabled: metricsEnabled,
		}),
		collector: collector,
	}
}

// plan is what inspection decided to do with the table.
type plan int

const (
	planPipeline plan = iota
	planFinishPublish
	planFinishDrop
	planLost
)

// Run executes the migration and blocks until it completes or fails.
// The returned job is the final journaled job; err wraps shardmover.ErrPermanentFailure
// whenever the job did not reach CutoverComplete.
func (o *Orchestrator) Run(ctx context.Context) (shardmover.MigrationJob, error) {
	if err := o.validate(); err != nil {
		return shardmover.MigrationJob{}, fmt.Errorf("%w: %w", shardmover.ErrPermanentFailure, err)
	}

	table := o.config.Table.Name
	previous, found, err := o.lifecycle.Previous(ctx, table)
	if err != nil {
		return shardmover.MigrationJob{}, fmt.Errorf("%w: %w", shardmover.ErrPermanentFailure, err)
	}

	job, err := o.lifecycle.Begin(ctx, table, o.config.Source.Ref(), o.config.Destination.Ref())
	if err != nil {
		return job, fmt.Errorf("%w: %w", shardmover.ErrPermanentFailure, err)
	}

	if found && !previous.State.Terminal() {
		cause := fmt.Errorf("interrupted in state %s, superseded by job %s", previous.State, job.ID)
		if err := o.lifecycle.Fail(ctx, &previous, cause); err != nil {
			return o.fail(ctx, &job, err)
		}
	}

	if err := o.ensureDatabases(ctx); err != nil {
		return o.fail(ctx, &job, err)
	}

	p, err := o.inspect(ctx, previous, found)
	if err != nil {
		return o.fail(ctx, &job, err)
	}

	switch p {
	case planFinishPublish:
		return o.finishPublish(ctx, &job)
	case planFinishDrop:
		if found {
			job.LastReport = previous.LastReport
		}
		return o.finishDrop(ctx, &job)
	case planLost:
		return o.fail(ctx, &job, fmt.Errorf("table %s exists on neither shard after a previous cutover", table))
	}

	if err := o.bootstrap(ctx, &job); err != nil {
		return o.fail(ctx, &job, err)
	}

	strategy, err := o.replicate(ctx, &job)
	if err != nil {
		return o.fail(ctx, &job, err)
	}

	if err := o.cutover(ctx, &job, strategy); err != nil {
		return o.fail(ctx, &job, err)
	}

	return job, nil
}

func (o *Orchestrator) validate() error {
	if o.config.Source == nil || o.config.Destination == nil {
		return errors.New("source and destination backends are required")
	}
	if o.config.Publisher == nil {
		return errors.New("routing publisher is required")
	}
	if o.config.Source.Ref() == o.config.Destination.Ref() {
		return fmt.Errorf("source and destination are the same shard %s", o.config.Source.Ref())
	}
	if !o.config.CutoverOrder.Valid() {
		return fmt.Errorf("unknown cutover order %q", o.config.CutoverOrder)
	}
	return backend.ValidateTableSpec(o.config.Table)
}

// inspect decides how to proceed from what the shards, the routing document
// and the previous job say about the table.
func (o *Orchestrator) inspect(ctx context.Context, previous shardmover.MigrationJob, found bool) (plan, error) {
	table := o.config.Table.Name

	onSource, err := o.tableExists(ctx, o.config.Source, table)
	if err != nil {
		return planPipeline, err
	}
	onDestination, err := o.tableExists(ctx, o.config.Destination, table)
	if err != nil {
		return planPipeline, err
	}

	doc, err := o.config.Publisher.Current(ctx)
	if errors.Is(err, shardmover.ErrNotFound) {
		doc, err = shardmover.NewRoutingDocument(), nil
	}
	if err != nil {
		return planPipeline, fmt.Errorf("failed to read routing document: %w", err)
	}
	ref, routed := doc.Resolve(table)
	routedToDestination := routed && ref == o.config.Destination.Ref()

	if o.config.Logger != nil {
		o.config.Logger.Debug(ctx, "inspected shards",
			"table", table, "onSource", onSource, "onDestination", onDestination,
			"routedToDestination", routedToDestination, "previousJob", found)
	}

	switch {
	case !onSource && onDestination:
		return planFinishPublish, nil
	case !onSource && !onDestination:
		if routedToDestination || (found && previous.SourceDropped) {
			return planLost, nil
		}
	case onSource && onDestination && routedToDestination:
		return planFinishDrop, nil
	}
	return planPipeline, nil
}

// finishPublish completes a cutover that dropped the source table but never
// published the new routing.
func (o *Orchestrator) finishPublish(ctx context.Context, job *shardmover.MigrationJob) (shardmover.MigrationJob, error) {
	if o.config.Logger != nil {
		o.config.Logger.Info(ctx, "resuming cutover: source table already dropped", "table", job.Table)
	}

	if err := o.lifecycle.Transition(ctx, job, shardmover.StateCutoverInProgress); err != nil {
		return o.fail(ctx, job, err)
	}
	job.SourceDropped = true
	if err := o.publishDestination(ctx, job); err != nil {
		return o.fail(ctx, job, err)
	}
	if err := o.lifecycle.Transition(ctx, job, shardmover.StateCutoverComplete); err != nil {
		return o.fail(ctx, job, err)
	}
	return *job, nil
}

// finishDrop completes a cutover that published the new routing but left the
// source table behind.
func (o *Orchestrator) finishDrop(ctx context.Context, job *shardmover.MigrationJob) (shardmover.MigrationJob, error) {
	if o.config.Logger != nil {
		o.config.Logger.Info(ctx, "resuming cutover: routing already points at destination", "table", job.Table)
	}

	if err := o.lifecycle.Transition(ctx, job, shardmover.StateCutoverInProgress); err != nil {
		return o.fail(ctx, job, err)
	}
	job.Published = true
	if err := o.dropSource(ctx, job); err != nil {
		return o.fail(ctx, job, err)
	}
	if err := o.lifecycle.Transition(ctx, job, shardmover.StateCutoverComplete); err != nil {
		return o.fail(ctx, job, err)
	}
	return *job, nil
}

// ensureDatabases creates the shard databases when missing. It must run
// before inspection: a MySQL or PostgreSQL pool cannot reach a missing database.
func (o *Orchestrator) ensureDatabases(ctx context.Context) error {
	for _, b := range []backend.Backend{o.config.Source, o.config.Destination} {
		if err := o.retry(ctx, "ensure database", b.EnsureDatabase); err != nil {
			return fmt.Errorf("failed to create database on %s: %w", b.Ref(), err)
		}
	}
	return nil
}

// bootstrap creates tables on both shards and publishes the initial routing
// with every configured table on the source.
func (o *Orchestrator) bootstrap(ctx context.Context, job *shardmover.MigrationJob) error {
	defer o.observe("bootstrap", time.Now())

	src, dst := o.config.Source, o.config.Destination
	tables := o.sourceTables()
	for _, spec := range tables {
		err := o.retry(ctx, "create table", func(ctx context.Context) error {
			return src.CreateTable(ctx, spec)
		})
		if err != nil {
			return fmt.Errorf("failed to create table %s on source: %w", spec.Name, err)
		}
	}
	err := o.retry(ctx, "create table", func(ctx context.Context) error {
		return dst.CreateTable(ctx, o.config.Table)
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s on destination: %w", o.config.Table.Name, err)
	}

	_, err = o.config.Publisher.Update(ctx, func(current shardmover.RoutingDocument) shardmover.RoutingDocument {
		for _, spec := range tables {
			current.Tables[spec.Name] = src.Ref()
		}
		current.LastUpdated = time.Now().UTC()
		return current
	})
	if err != nil {
		return err
	}

	return o.lifecycle.Transition(ctx, job, shardmover.StateInitialized)
}

// replicate runs strategies until one produces a verified copy. A failed
// native run falls back to the snapshot copy once.
func (o *Orchestrator) replicate(ctx context.Context, job *shardmover.MigrationJob) (replication.Strategy, error) {
	if err := o.lifecycle.Transition(ctx, job, shardmover.StateReplicationPending); err != nil {
		return nil, err
	}

	kind := o.selectStrategy(ctx, job)
	for {
		strategy, err := o.config.Replication.New(kind)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s strategy: %w", kind, err)
		}

		err = o.converge(ctx, job, strategy)
		if err == nil {
			return strategy, nil
		}

		o.stop(ctx, strategy)
		if ctx.Err() != nil || !errors.Is(err, shardmover.ErrReplicationFailed) {
			return nil, err
		}

		if terr := o.lifecycle.Transition(ctx, job, shardmover.StateReplicationFailed); terr != nil {
			return nil, terr
		}
		if kind == shardmover.StrategySnapshot || job.Fallbacks > 0 {
			return nil, err
		}

		if o.config.Logger != nil {
			o.config.Logger.Error(ctx, "native replication failed, falling back to snapshot copy",
				"table", job.Table, "error", err)
		}
		job.Fallbacks++
		if o.collector != nil {
			o.collector.IncStrategyFallbacks()
		}
		kind = shardmover.StrategySnapshot

		if err := o.lifecycle.Transition(ctx, job, shardmover.StateReplicationPending); err != nil {
			return nil, err
		}
	}
}

// selectStrategy probes once per job. A probe that errors counts as not capable.
func (o *Orchestrator) selectStrategy(ctx context.Context, job *shardmover.MigrationJob) shardmover.StrategyKind {
	capable, err := o.config.Replication.Probe(ctx)
	if err != nil && o.config.Logger != nil {
		o.config.Logger.Error(ctx, "replication probe failed", "table", job.Table, "error", err)
	}
	if err == nil && capable {
		return shardmover.StrategyNative
	}

	if o.config.Logger != nil {
		o.config.Logger.Info(ctx, "native replication unavailable, using snapshot copy", "table", job.Table)
	}
	return shardmover.StrategySnapshot
}

// converge starts strategy and loops through catch-up and verification until
// a report is consistent or the verification budget is spent.
func (o *Orchestrator) converge(ctx context.Context, job *shardmover.MigrationJob, strategy replication.Strategy) error {
	job.Strategy = strategy.Kind()
	job.ReplicationAttempts++
	job.LowConfidence = false

	start := time.Now()
	if err := strategy.Start(ctx); err != nil {
		return replicationFailed(err)
	}
	if err := o.lifecycle.Transition(ctx, job, shardmover.StateReplicationActive); err != nil {
		return err
	}

	for mismatches := 0; ; mismatches++ {
		// Start already copied; later rounds refresh right before verifying.
		if mismatches > 0 {
			if err := strategy.Refresh(ctx); err != nil {
				return replicationFailed(err)
			}
		}

		caughtUp, err := strategy.IsCaughtUp(ctx)
		if err != nil {
			return replicationFailed(err)
		}
		if !caughtUp {
			return fmt.Errorf("%w: %s strategy did not catch up", shardmover.ErrReplicationFailed, strategy.Kind())
		}
		o.observe("replication", start)

		if err := o.lifecycle.Transition(ctx, job, shardmover.StateVerifying); err != nil {
			return err
		}
		report, err := o.verify(ctx, job)
		if err != nil {
			return err
		}

		if report.Consistent {
			job.LowConfidence = strategy.Kind() == shardmover.StrategySnapshot
			return o.lifecycle.Transition(ctx, job, shardmover.StateVerified)
		}

		if mismatches >= o.config.VerificationRetries {
			if err := o.lifecycle.Transition(ctx, job, shardmover.StateVerificationFailed); err != nil {
				return err
			}
			return fmt.Errorf("%w: source has %d rows (%s), destination has %d rows (%s) after %d attempts",
				shardmover.ErrVerificationFailed, report.SourceCount, report.SourceChecksum,
				report.DestCount, report.DestChecksum, mismatches+1)
		}

		if o.config.Logger != nil {
			o.config.Logger.Info(ctx, "verification mismatch, waiting for replication",
				"table", job.Table, "sourceCount", report.SourceCount, "destCount", report.DestCount,
				"attempt", mismatches+1)
		}
		if err := o.lifecycle.Transition(ctx, job, shardmover.StateReplicationActive); err != nil {
			return err
		}
		start = time.Now()
	}
}

func (o *Orchestrator) verify(ctx context.Context, job *shardmover.MigrationJob) (shardmover.ConsistencyReport, error) {
	defer o.observe("verification", time.Now())

	var report shardmover.ConsistencyReport
	err := o.retry(ctx, "verify consistency", func(ctx context.Context) error {
		var err error
		report, err = o.config.Verifier.Verify(ctx, o.config.Source, o.config.Destination, o.config.Table)
		return err
	})
	job.VerificationAttempts++
	if err != nil {
		job.LastReport = nil
		return report, fmt.Errorf("failed to verify table %s: %w", job.Table, err)
	}
	job.LastReport = &report

	if o.collector != nil {
		o.collector.IncVerifications(report.Consistent)
	}
	if o.config.Logger != nil {
		o.config.Logger.Info(ctx, "verification finished",
			"table", job.Table, "consistent", report.Consistent, "method", string(report.Method),
			"sourceCount", report.SourceCount, "destCount", report.DestCount)
	}
	return report, nil
}

// cutover stops replication, drops the source table and publishes the
// destination, in the configured order.
func (o *Orchestrator) cutover(ctx context.Context, job *shardmover.MigrationJob, strategy replication.Strategy) error {
	if !consistent(job) {
		return shardmover.ErrUnsafeCutover
	}
	defer o.observe("cutover", time.Now())

	if err := o.lifecycle.Transition(ctx, job, shardmover.StateCutoverInProgress); err != nil {
		return err
	}
	if err := strategy.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop replication: %w", err)
	}

	switch o.config.CutoverOrder {
	case PublishThenDrop:
		if err := o.publishDestination(ctx, job); err != nil {
			return err
		}
		if err := o.dropSource(ctx, job); err != nil {
			// Routing already moved; the next run finishes the drop.
			job.LastError = err.Error()
			if o.config.Logger != nil {
				o.config.Logger.Error(ctx, "source table left behind after cutover", "table", job.Table, "error", err)
			}
		}
	default:
		if err := o.dropSource(ctx, job); err != nil {
			return err
		}
		if err := o.publishDestination(ctx, job); err != nil {
			return err
		}
	}

	return o.lifecycle.Transition(ctx, job, shardmover.StateCutoverComplete)
}

// dropSource refuses to drop unless the job's last report was consistent.
func (o *Orchestrator) dropSource(ctx context.Context, job *shardmover.MigrationJob) error {
	if !consistent(job) {
		return shardmover.ErrUnsafeCutover
	}

	err := o.retry(ctx, "drop source table", func(ctx context.Context) error {
		return o.config.Source.DropTable(ctx, job.Table)
	})
	if err != nil {
		return fmt.Errorf("failed to drop table %s on source: %w", job.Table, err)
	}

	job.SourceDropped = true
	if o.config.Logger != nil {
		o.config.Logger.Info(ctx, "source table dropped", "table", job.Table, "source", job.Source.String())
	}
	return o.lifecycle.Save(ctx, job)
}

func (o *Orchestrator) publishDestination(ctx context.Context, job *shardmover.MigrationJob) error {
	destination := o.config.Destination.Ref()
	_, err := o.config.Publisher.Update(ctx, func(current shardmover.RoutingDocument) shardmover.RoutingDocument {
		return current.With(job.Table, destination)
	})
	if err != nil {
		return err
	}

	job.Published = true
	return o.lifecycle.Save(ctx, job)
}

// fail records cause on the job and ends it in PermanentFailure.
// The journal is written even when ctx is already cancelled.
func (o *Orchestrator) fail(ctx context.Context, job *shardmover.MigrationJob, cause error) (shardmover.MigrationJob, error) {
	if err := o.lifecycle.Fail(context.WithoutCancel(ctx), job, cause); err != nil && o.config.Logger != nil {
		o.config.Logger.Error(ctx, "failed to record migration failure", "table", job.Table, "error", err)
	}
	return *job, fmt.Errorf("%w: %w", shardmover.ErrPermanentFailure, cause)
}

// stop tears a failed strategy down on a best-effort basis.
func (o *Orchestrator) stop(ctx context.Context, strategy replication.Strategy) {
	if err := strategy.Stop(context.WithoutCancel(ctx)); err != nil && o.config.Logger != nil {
		o.config.Logger.Error(ctx, "failed to stop replication", "strategy", string(strategy.Kind()), "error", err)
	}
}

func (o *Orchestrator) tableExists(ctx context.Context, b backend.Backend, table string) (bool, error) {
	var exists bool
	err := o.retry(ctx, "check table", func(ctx context.Context) error {
		var err error
		exists, err = b.TableExists(ctx, table)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to check table %s on %s: %w", table, b.Ref(), err)
	}
	return exists, nil
}

// sourceTables returns Tables with Table appended when it is not listed.
func (o *Orchestrator) sourceTables() []shardmover.TableSpec {
	tables := make([]shardmover.TableSpec, 0, len(o.config.Tables)+1)
	listed := false
	for _, spec := range o.config.Tables {
		if spec.Name == o.config.Table.Name {
			listed = true
		}
		tables = append(tables, spec)
	}
	if !listed {
		tables = append(tables, o.config.Table)
	}
	return tables
}

func (o *Orchestrator) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return backoff.Retry(ctx, backoff.Policy{
		MaxRetries: o.config.MaxRetries,
		Interval:   o.config.RetryInterval,
		Logger:     o.config.Logger,
	}, op, fn)
}

func (o *Orchestrator) observe(phase string, start time.Time) {
	if o.collector != nil {
		o.collector.ObservePhaseDuration(phase, time.Since(start).Seconds())
	}
}

func consistent(job *shardmover.MigrationJob) bool {
	return job.LastReport != nil && job.LastReport.Consistent
}

func replicationFailed(err error) error {
	if errors.Is(err, shardmover.ErrReplicationFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", shardmover.ErrReplicationFailed, err)
}
