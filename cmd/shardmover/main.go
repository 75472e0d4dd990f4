// Command shardmover moves one table from the source shard to the destination
// shard and republishes the routing document.
//
// The process exits 0 only when the job reaches cutover_complete.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/backend"
	"github.com/getpup/shardmover/config"
	"github.com/getpup/shardmover/internal/log"
	"github.com/getpup/shardmover/metrics"
	"github.com/getpup/shardmover/migration"
	"github.com/getpup/shardmover/routing"
	"github.com/getpup/shardmover/routing/memory"
	"github.com/getpup/shardmover/routing/zookeeper"
	"github.com/getpup/shardmover/store"
	storememory "github.com/getpup/shardmover/store/memory"
	"github.com/getpup/shardmover/store/postgres"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var flagConfig = flag.String("config", "", "path to the TOML configuration file")

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadFile(*flagConfig)
	if err != nil {
		logrus.WithError(err).Error("load config")
		return 1
	}
	if err := log.Configure([]*logrus.Logger{logrus.StandardLogger()}, cfg.Logging.Format, cfg.Logging.Level); err != nil {
		logrus.WithError(err).Error("configure logging")
		return 1
	}
	logger := log.Default("shardmover")

	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Error("invalid config")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info(ctx, "received shutdown signal, stopping migration", "signal", sig.String())
		cancel()
	}()

	logger.Info(ctx, "starting shardmover", "version", version, "table", cfg.Migration.Table,
		"source", cfg.Source.Ref().String(), "destination", cfg.Destination.Ref().String())

	if cfg.PrometheusListenAddr != "" {
		srv := metrics.NewServer(cfg.PrometheusListenAddr)
		srv.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	job, err := migrate(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "migration failed", "job_id", job.ID, "state", job.State, "error", err)
		return 1
	}
	if job.State != shardmover.StateCutoverComplete {
		logger.Error(ctx, "migration did not complete", "job_id", job.ID, "state", job.State)
		return 1
	}

	logger.Info(ctx, "migration complete", "job_id", job.ID, "strategy", job.Strategy,
		"low_confidence", job.LowConfidence, "fallbacks", job.Fallbacks)
	return 0
}

func migrate(ctx context.Context, cfg config.Cfg, logger *log.Logger) (shardmover.MigrationJob, error) {
	source, err := backend.Open(cfg.Source)
	if err != nil {
		return shardmover.MigrationJob{}, fmt.Errorf("open source: %w", err)
	}
	defer source.Close()

	destination, err := backend.Open(cfg.Destination)
	if err != nil {
		return shardmover.MigrationJob{}, fmt.Errorf("open destination: %w", err)
	}
	defer destination.Close()

	coord, closeCoord, err := openCoordination(cfg)
	if err != nil {
		return shardmover.MigrationJob{}, err
	}
	defer closeCoord()

	jobs, closeJobs, err := openJournal(ctx, cfg)
	if err != nil {
		return shardmover.MigrationJob{}, err
	}
	defer closeJobs()

	table, _ := cfg.Table(cfg.Migration.Table)

	publisher := routing.NewPublisher(routing.PublisherConfig{
		Store:          coord,
		Path:           cfg.Coordination.ConfigPath,
		CompareAndSwap: cfg.Coordination.CompareAndSwap,
		MaxRetries:     cfg.Replication.MaxRetries,
		RetryInterval:  cfg.Replication.RetryInterval.Duration(),
		Logger:         log.Default("publisher"),
		MetricsEnabled: true,
	})

	orch := migration.New(migration.Config{
		Source:              source,
		Destination:         destination,
		Table:               table,
		Tables:              cfg.Tables,
		Publisher:           publisher,
		JobStore:            jobs,
		MaxRetries:          cfg.Replication.MaxRetries,
		RetryInterval:       cfg.Replication.RetryInterval.Duration(),
		SyncTimeout:         cfg.Replication.SyncTimeout.Duration(),
		MaxAllowedLag:       cfg.Replication.MaxAllowedLag.Duration(),
		ReplicationUser:     cfg.Replication.User,
		ReplicationPassword: cfg.Replication.Password,
		SourceHost:          cfg.Replication.SourceHost,
		VerificationRetries: cfg.Migration.VerificationRetries,
		CutoverOrder:        migration.CutoverOrder(cfg.Migration.CutoverOrder),
		Logger:              logger,
	})

	return orch.Run(ctx)
}

func openCoordination(cfg config.Cfg) (routing.Store, func(), error) {
	if cfg.Coordination.Driver == config.CoordinationMemory {
		return memory.New(), func() {}, nil
	}

	zkStore, err := zookeeper.Dial(
		cfg.Coordination.ConnectionString,
		cfg.Coordination.SessionTimeout.Duration(),
		logrus.WithField("component", "zookeeper"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to zookeeper: %w", err)
	}
	return zkStore, zkStore.Close, nil
}

func openJournal(ctx context.Context, cfg config.Cfg) (store.JobStore, func(), error) {
	if cfg.Journal.DSN == "" {
		return storememory.New(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.Journal.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping journal: %w", err)
	}

	tables := postgres.DefaultTableConfig()
	if cfg.Journal.Table != "" {
		tables.JobsTable = cfg.Journal.Table
	}
	return postgres.NewWithConfig(db, tables), func() { db.Close() }, nil
}
