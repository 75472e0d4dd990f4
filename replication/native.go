package replication

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/backend"
	"github.com/getpup/shardmover/internal/backoff"
	"github.com/getpup/shardmover/metrics"
)

// NativeStrategy replicates through MySQL binary log streaming.
// The destination server becomes a replica of the source, filtered to the
// one table and rewritten into the destination database.
type NativeStrategy struct {
	config    Config
	collector *metrics.Collector

	mu     sync.Mutex
	handle Handle
}

var _ Strategy = (*NativeStrategy)(nil)

// Kind implements Strategy.
func (s *NativeStrategy) Kind() shardmover.StrategyKind {
	return shardmover.StrategyNative
}

// Handle implements Strategy.
func (s *NativeStrategy) Handle() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.handle
	h.Strategy = shardmover.StrategyNative
	return h
}

// Start grants the replication account, captures a log position together
// with a consistent snapshot, seeds the destination and starts the replica.
func (s *NativeStrategy) Start(ctx context.Context) error {
	if s.collector != nil {
		s.collector.IncReplicationAttempts(string(shardmover.StrategyNative))
	}

	if err := s.config.step(ctx, "grant replication user", s.grant); err != nil {
		return err
	}

	var (
		pos  LogPosition
		rows []backend.Row
	)
	err := s.config.step(ctx, "capture snapshot", func(ctx context.Context) error {
		var err error
		pos, rows, err = s.capture(ctx)
		return err
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.handle.LogPosition = &pos
	s.mu.Unlock()

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "captured source position",
			"table", s.config.Table.Name, "file", pos.File, "position", pos.Position, "rows", len(rows))
	}

	if err := s.config.step(ctx, "seed destination", func(ctx context.Context) error {
		dst := s.config.Destination
		return dst.Tx(ctx, func(tx backend.Executor) error {
			return upsertRows(ctx, tx, dst.Dialect(), s.config.Table, rows)
		})
	}); err != nil {
		return err
	}

	return s.config.step(ctx, "start replica", func(ctx context.Context) error {
		return s.startReplica(ctx, pos)
	})
}

func (s *NativeStrategy) grant(ctx context.Context) error {
	user := quoteLiteral(s.config.ReplicationUser) + "@'%'"
	stmts := []string{
		fmt.Sprintf("CREATE USER IF NOT EXISTS %s IDENTIFIED BY %s", user, quoteLiteral(s.config.ReplicationPassword)),
		fmt.Sprintf("GRANT REPLICATION SLAVE ON *.* TO %s", user),
	}
	for _, stmt := range stmts {
		if _, err := s.config.Source.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// capture holds the global read lock only while reading the log position and
// opening the snapshot transaction. The rows are read after UNLOCK TABLES.
func (s *NativeStrategy) capture(ctx context.Context) (LogPosition, []backend.Row, error) {
	src := s.config.Source

	lock, err := src.Session(ctx)
	if err != nil {
		return LogPosition{}, nil, err
	}
	defer lock.Close()

	snap, err := src.Session(ctx)
	if err != nil {
		return LogPosition{}, nil, err
	}
	defer snap.Close()

	if _, err := snap.Exec(ctx, "SET SESSION TRANSACTION ISOLATION LEVEL REPEATABLE READ"); err != nil {
		return LogPosition{}, nil, err
	}

	if _, err := lock.Exec(ctx, "FLUSH TABLES WITH READ LOCK"); err != nil {
		return LogPosition{}, nil, err
	}
	pos, err := readPosition(ctx, lock)
	if err == nil {
		_, err = snap.Exec(ctx, "START TRANSACTION WITH CONSISTENT SNAPSHOT")
	}
	if _, unlockErr := lock.Exec(ctx, "UNLOCK TABLES"); err == nil {
		err = unlockErr
	}
	if err != nil {
		return LogPosition{}, nil, err
	}

	rows, err := snap.Query(ctx, backend.SelectAllSQL(src.Dialect(), s.config.Table))
	if err != nil {
		return LogPosition{}, nil, err
	}
	if _, err := snap.Exec(ctx, "COMMIT"); err != nil {
		return LogPosition{}, nil, err
	}
	return pos, rows, nil
}

// Statements reporting the current binary log position. MySQL 8.4 removed
// SHOW MASTER STATUS; servers before 8.2 do not know SHOW BINARY LOG STATUS.
const (
	showBinaryLogStatus = "SHOW BINARY LOG STATUS"
	showMasterStatus    = "SHOW MASTER STATUS"
)

// binaryLogStatus reads the binary log position, falling back to the older
// statement when the server rejects the newer one as a syntax error.
func binaryLogStatus(ctx context.Context, ex backend.Executor) ([]backend.Row, error) {
	rows, err := ex.Query(ctx, showBinaryLogStatus)
	if shardmover.IsBackendKind(err, shardmover.BackendSyntax) {
		return ex.Query(ctx, showMasterStatus)
	}
	return rows, err
}

func readPosition(ctx context.Context, ex backend.Executor) (LogPosition, error) {
	rows, err := binaryLogStatus(ctx, ex)
	if err != nil {
		return LogPosition{}, err
	}
	if len(rows) == 0 || rows[0].String("File") == "" {
		return LogPosition{}, errors.New("binary logging is not enabled on the source")
	}
	position, ok := rows[0].Int64("Position")
	if !ok {
		return LogPosition{}, errors.New("source reported no binary log offset")
	}
	return LogPosition{File: rows[0].String("File"), Position: position}, nil
}

func (s *NativeStrategy) startReplica(ctx context.Context, pos LogPosition) error {
	src := s.config.Source.Ref()
	dst := s.config.Destination.Ref()
	d := s.config.Destination.Dialect()

	stmts := []string{
		"STOP REPLICA",
		fmt.Sprintf("CHANGE REPLICATION SOURCE TO SOURCE_HOST = %s, SOURCE_PORT = %d, SOURCE_USER = %s, SOURCE_PASSWORD = %s, SOURCE_LOG_FILE = %s, SOURCE_LOG_POS = %d",
			quoteLiteral(s.config.SourceHost), src.Port,
			quoteLiteral(s.config.ReplicationUser), quoteLiteral(s.config.ReplicationPassword),
			quoteLiteral(pos.File), pos.Position),
		fmt.Sprintf("CHANGE REPLICATION FILTER REPLICATE_REWRITE_DB = ((%s, %s)), REPLICATE_DO_TABLE = (%s.%s)",
			d.Quote(src.Database), d.Quote(dst.Database), d.Quote(dst.Database), d.Quote(s.config.Table.Name)),
		"START REPLICA",
	}
	for _, stmt := range stmts {
		if _, err := s.config.Destination.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// IsCaughtUp polls the replica status until both threads run and the lag is
// within MaxAllowedLag. Polls are bounded by MaxRetries and SyncTimeout;
// running out reports ErrReplicationFailed. A NULL lag never counts as caught up.
func (s *NativeStrategy) IsCaughtUp(ctx context.Context) (bool, error) {
	p := s.config.policy()
	p.Timeout = s.config.SyncTimeout

	err := backoff.Poll(ctx, p, "wait for replica", s.pollStatus)
	if errors.Is(err, backoff.ErrExhausted) {
		h := s.Handle()
		lag := "unknown"
		if h.LastLagSeconds != nil {
			lag = fmt.Sprintf("%ds", *h.LastLagSeconds)
		}
		return false, fmt.Errorf("%w: replica did not catch up within budget (last lag %s)",
			shardmover.ErrReplicationFailed, lag)
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to read replica status: %w", shardmover.ErrReplicationFailed, err)
	}
	return true, nil
}

func (s *NativeStrategy) pollStatus(ctx context.Context) (bool, error) {
	rows, err := s.config.Destination.Query(ctx, "SHOW REPLICA STATUS")
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}

	status := rows[0]
	lag, known := status.Int64("Seconds_Behind_Source")

	s.mu.Lock()
	if known {
		s.handle.LastLagSeconds = &lag
	} else {
		s.handle.LastLagSeconds = nil
	}
	s.mu.Unlock()

	if known && s.collector != nil {
		s.collector.SetReplicationLag(float64(lag))
	}

	running := status.String("Replica_IO_Running") == "Yes" && status.String("Replica_SQL_Running") == "Yes"
	if !running || !known {
		if s.config.Logger != nil {
			s.config.Logger.Debug(ctx, "replica not ready",
				"io", status.String("Replica_IO_Running"), "sql", status.String("Replica_SQL_Running"),
				"lag", status.String("Seconds_Behind_Source"), "last_error", status.String("Last_Error"))
		}
		return false, nil
	}
	return float64(lag) <= s.config.MaxAllowedLag.Seconds(), nil
}

// Refresh is a no-op: the replica converges continuously.
func (s *NativeStrategy) Refresh(ctx context.Context) error {
	return nil
}

// Stop halts the replica and removes its source configuration and filters.
func (s *NativeStrategy) Stop(ctx context.Context) error {
	stmts := []string{
		"STOP REPLICA",
		"CHANGE REPLICATION FILTER REPLICATE_REWRITE_DB = (), REPLICATE_DO_TABLE = ()",
		"RESET REPLICA ALL",
	}
	return s.config.step(ctx, "stop replica", func(ctx context.Context) error {
		for _, stmt := range stmts {
			if _, err := s.config.Destination.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// quoteLiteral renders v as a MySQL string literal.
func quoteLiteral(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
