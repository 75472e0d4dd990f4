// Package replication brings a destination table in line with its source and
// keeps it converging until cutover.
//
// Two strategies share the Strategy contract: NativeStrategy streams the
// source's binary log from a captured position, SnapshotCopyStrategy copies
// every row by primary key. Engine probes the source once and builds either.
package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/backend"
	"github.com/getpup/shardmover/internal/backoff"
	"github.com/getpup/shardmover/metrics"
)

// Strategy replicates one table from a source shard to a destination shard.
type Strategy interface {
	// Kind names the strategy.
	Kind() shardmover.StrategyKind

	// Start prepares replication and seeds the destination.
	Start(ctx context.Context) error

	// IsCaughtUp reports whether the destination is within the allowed lag.
	IsCaughtUp(ctx context.Context) (bool, error)

	// Refresh brings the destination up to date right before verification.
	Refresh(ctx context.Context) error

	// Stop tears replication down. It is safe to call more than once.
	Stop(ctx context.Context) error

	// Handle returns a snapshot of the strategy's progress.
	Handle() Handle
}

// LogPosition is a binary log coordinate on the source.
type LogPosition struct {
	File     string
	Position int64
}

// Handle describes a running strategy. Only the engine writes it.
type Handle struct {
	Strategy    shardmover.StrategyKind
	LogPosition *LogPosition

	// LastLagSeconds is the lag reported by the last status poll, nil before the first.
	LastLagSeconds *int64
}

// Config holds configuration shared by both strategies.
type Config struct {
	// Source is the shard that currently owns the table (required).
	Source backend.Backend

	// Destination is the shard that receives the table (required).
	Destination backend.Backend

	// Table describes the replicated table (required).
	Table shardmover.TableSpec

	// MaxRetries bounds retries of every step and the number of lag polls (default: 5).
	// A negative value allows a single attempt and a single poll.
	MaxRetries int

	// RetryInterval is the initial backoff delay (default: 2s).
	RetryInterval time.Duration

	// SyncTimeout bounds the whole catch-up wait (default: 30s).
	SyncTimeout time.Duration

	// MaxAllowedLag is the largest lag accepted as caught up (default: 1s).
	MaxAllowedLag time.Duration

	// ReplicationUser is the replication-only account created on the source (default: "repl").
	ReplicationUser string

	// ReplicationPassword is the password of ReplicationUser.
	ReplicationPassword string

	// SourceHost is the source address as seen from the destination server
	// (default: the source ref host).
	SourceHost string

	// Logger is for observability (optional).
	Logger es.Logger

	// MetricsEnabled records attempts and lag when true.
	MetricsEnabled bool
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 2 * time.Second
	}
	if c.SyncTimeout == 0 {
		c.SyncTimeout = 30 * time.Second
	}
	if c.MaxAllowedLag == 0 {
		c.MaxAllowedLag = time.Second
	}
	if c.ReplicationUser == "" {
		c.ReplicationUser = "repl"
	}
	if c.SourceHost == "" && c.Source != nil {
		c.SourceHost = c.Source.Ref().Host
	}
	return c
}

func (c Config) policy() backoff.Policy {
	return backoff.Policy{
		MaxRetries: c.MaxRetries,
		Interval:   c.RetryInterval,
		Logger:     c.Logger,
	}
}

// step runs fn with the configured backoff. Whatever error is left once the
// budget is spent is reported as ErrReplicationFailed.
func (c Config) step(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := backoff.Retry(ctx, c.policy(), op, fn); err != nil {
		return fmt.Errorf("%w: failed to %s: %w", shardmover.ErrReplicationFailed, op, err)
	}
	return nil
}

// Provider probes replication capability and builds strategies.
type Provider interface {
	Probe(ctx context.Context) (bool, error)
	New(kind shardmover.StrategyKind) (Strategy, error)
}

// Engine is the Provider backed by the configured shards.
type Engine struct {
	config    Config
	collector *metrics.Collector
}

var _ Provider = (*Engine)(nil)

// New creates an Engine. Applies default values for zero fields.
func New(cfg Config) *Engine {
	cfg = cfg.withDefaults()

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector(cfg.Table.Name)
	}

	return &Engine{
		config:    cfg,
		collector: collector,
	}
}

// Probe reports whether the source can feed native replication: both shards
// must speak a binlog-capable dialect, binary logging must be on and the
// current log position must be readable. Missing privileges or variables
// count as "not capable"; other errors are returned.
func (e *Engine) Probe(ctx context.Context) (bool, error) {
	src, dst := e.config.Source, e.config.Destination
	if !src.Dialect().SupportsBinlog() || !dst.Dialect().SupportsBinlog() {
		e.logInfo(ctx, "native replication unsupported by dialect",
			"source", src.Dialect().Name(), "destination", dst.Dialect().Name())
		return false, nil
	}

	var logBin, status []backend.Row
	err := backoff.Retry(ctx, e.config.policy(), "probe binary log", func(ctx context.Context) error {
		var err error
		if logBin, err = src.Query(ctx, "SELECT @@GLOBAL.log_bin AS log_bin"); err != nil {
			return err
		}
		status, err = binaryLogStatus(ctx, src)
		return err
	})
	if err != nil {
		if shardmover.IsBackendKind(err, shardmover.BackendPermission) ||
			shardmover.IsBackendKind(err, shardmover.BackendNotFound) ||
			shardmover.IsBackendKind(err, shardmover.BackendSyntax) {
			e.logInfo(ctx, "native replication probe denied", "error", err)
			return false, nil
		}
		return false, fmt.Errorf("failed to probe replication capability: %w", err)
	}

	if len(logBin) == 0 || !enabled(logBin[0].String("log_bin")) {
		e.logInfo(ctx, "binary logging disabled on source", "source", src.Ref().String())
		return false, nil
	}
	if len(status) == 0 || status[0].String("File") == "" {
		e.logInfo(ctx, "source reports no binary log position", "source", src.Ref().String())
		return false, nil
	}
	return true, nil
}

// New builds the strategy of the given kind.
func (e *Engine) New(kind shardmover.StrategyKind) (Strategy, error) {
	switch kind {
	case shardmover.StrategyNative:
		return &NativeStrategy{config: e.config, collector: e.collector}, nil
	case shardmover.StrategySnapshot:
		return &SnapshotCopyStrategy{config: e.config, collector: e.collector}, nil
	default:
		return nil, fmt.Errorf("unknown replication strategy %q", kind)
	}
}

func (e *Engine) logInfo(ctx context.Context, msg string, args ...interface{}) {
	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, msg, args...)
	}
}

func enabled(v string) bool {
	switch v {
	case "1", "ON", "on", "On":
		return true
	default:
		return false
	}
}
