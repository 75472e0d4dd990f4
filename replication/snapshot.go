package replication

import (
	"context"
	"sync"

	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/backend"
	"github.com/getpup/shardmover/metrics"
)

// SnapshotCopyStrategy copies every source row into the destination by
// primary key and removes destination rows the source no longer has.
// Writes landing on the source after a copy are not carried over until the
// next Refresh.
type SnapshotCopyStrategy struct {
	config    Config
	collector *metrics.Collector

	mu     sync.Mutex
	copied bool
}

var _ Strategy = (*SnapshotCopyStrategy)(nil)

// Kind implements Strategy.
func (s *SnapshotCopyStrategy) Kind() shardmover.StrategyKind {
	return shardmover.StrategySnapshot
}

// Handle implements Strategy.
func (s *SnapshotCopyStrategy) Handle() Handle {
	return Handle{Strategy: shardmover.StrategySnapshot}
}

// Start performs the first copy.
func (s *SnapshotCopyStrategy) Start(ctx context.Context) error {
	if s.collector != nil {
		s.collector.IncReplicationAttempts(string(shardmover.StrategySnapshot))
	}
	return s.Refresh(ctx)
}

// IsCaughtUp reports true once a copy has completed.
func (s *SnapshotCopyStrategy) IsCaughtUp(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copied, nil
}

// Refresh re-runs the full copy. Running it twice without source writes
// leaves the destination unchanged.
func (s *SnapshotCopyStrategy) Refresh(ctx context.Context) error {
	err := s.config.step(ctx, "copy snapshot", s.copy)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.copied = true
	s.mu.Unlock()
	return nil
}

// Stop implements Strategy. There is nothing running between copies.
func (s *SnapshotCopyStrategy) Stop(ctx context.Context) error {
	return nil
}

func (s *SnapshotCopyStrategy) copy(ctx context.Context) error {
	src, dst, spec := s.config.Source, s.config.Destination, s.config.Table

	rows, err := src.Query(ctx, backend.SelectAllSQL(src.Dialect(), spec))
	if err != nil {
		return err
	}

	keyIdx := keyIndexes(spec)
	present := make(map[string]bool, len(rows))
	for _, row := range rows {
		present[rowKey(row.Values, keyIdx)] = true
	}

	pruned := 0
	err = dst.Tx(ctx, func(tx backend.Executor) error {
		if err := upsertRows(ctx, tx, dst.Dialect(), spec, rows); err != nil {
			return err
		}

		keys, err := tx.Query(ctx, backend.SelectKeysSQL(dst.Dialect(), spec))
		if err != nil {
			return err
		}
		del := backend.DeleteByKeySQL(dst.Dialect(), spec)
		all := make([]int, len(spec.PrimaryKey))
		for i := range all {
			all[i] = i
		}
		for _, k := range keys {
			if present[rowKey(k.Values, all)] {
				continue
			}
			if _, err := tx.Exec(ctx, del, k.Values...); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.config.Logger != nil {
		s.config.Logger.Info(ctx, "snapshot copied",
			"table", spec.Name, "rows", len(rows), "pruned", pruned,
			"source", src.Ref().String(), "destination", dst.Ref().String())
	}
	return nil
}

// upsertRows writes rows, each holding values in column order, with the
// keyed upsert of dialect d.
func upsertRows(ctx context.Context, ex backend.Executor, d backend.Dialect, spec shardmover.TableSpec, rows []backend.Row) error {
	stmt := d.UpsertSQL(spec)
	for _, row := range rows {
		if _, err := ex.Exec(ctx, stmt, row.Values...); err != nil {
			return err
		}
	}
	return nil
}

func keyIndexes(spec shardmover.TableSpec) []int {
	idx := make([]int, 0, len(spec.PrimaryKey))
	for _, k := range spec.PrimaryKey {
		for i, c := range spec.Columns {
			if c.Name == k {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

// rowKey encodes the key columns of values so that the same key read through
// different drivers compares equal.
func rowKey(values []interface{}, idx []int) string {
	key := make([]interface{}, len(idx))
	for i, j := range idx {
		key[i] = values[j]
	}
	return string(backend.Canonical(key))
}
