// Package verify compares a table on two shards by row count and checksum.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/getpup/pupsourcing/es"
	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/backend"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for the Verifier.
type Config struct {
	// ForceRowHash disables the engine checksum even when both shards offer it.
	ForceRowHash bool

	// Logger is for observability (optional).
	Logger es.Logger
}

// Verifier produces ConsistencyReports. A mismatch is a result, not an error.
type Verifier struct {
	config Config
}

// New creates a Verifier.
func New(cfg Config) *Verifier {
	return &Verifier{config: cfg}
}

// Checker is implemented by Verifier.
type Checker interface {
	Verify(ctx context.Context, source, dest backend.Backend, spec shardmover.TableSpec) (shardmover.ConsistencyReport, error)
}

var _ Checker = (*Verifier)(nil)

type measurement struct {
	count    int64
	checksum string
}

// Verify reads both shards concurrently. Both sides always use the same checksum method.
func (v *Verifier) Verify(ctx context.Context, source, dest backend.Backend, spec shardmover.TableSpec) (shardmover.ConsistencyReport, error) {
	if err := backend.ValidateTableSpec(spec); err != nil {
		return shardmover.ConsistencyReport{}, err
	}
	method := v.method(source, dest)

	var src, dst measurement
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		src, err = measure(gctx, source, spec, method)
		return err
	})
	g.Go(func() error {
		var err error
		dst, err = measure(gctx, dest, spec, method)
		return err
	})
	if err := g.Wait(); err != nil {
		return shardmover.ConsistencyReport{}, fmt.Errorf("failed to verify %s: %w", spec.Name, err)
	}

	report := shardmover.ConsistencyReport{
		SourceCount:    src.count,
		DestCount:      dst.count,
		SourceChecksum: src.checksum,
		DestChecksum:   dst.checksum,
		Method:         method,
		Consistent:     src.count == dst.count && src.checksum == dst.checksum,
		CheckedAt:      time.Now().UTC(),
	}

	if v.config.Logger != nil {
		v.config.Logger.Info(ctx, "consistency check finished",
			"table", spec.Name,
			"method", method,
			"consistent", report.Consistent,
			"sourceCount", report.SourceCount,
			"destCount", report.DestCount,
			"sourceChecksum", report.SourceChecksum,
			"destChecksum", report.DestChecksum)
	}

	return report, nil
}

func (v *Verifier) method(source, dest backend.Backend) shardmover.ChecksumMethod {
	if v.config.ForceRowHash {
		return shardmover.ChecksumRowHash
	}
	if source.Dialect().ChecksumSQL("t") != "" && dest.Dialect().ChecksumSQL("t") != "" {
		return shardmover.ChecksumNative
	}
	return shardmover.ChecksumRowHash
}

func measure(ctx context.Context, b backend.Backend, spec shardmover.TableSpec, method shardmover.ChecksumMethod) (measurement, error) {
	rows, err := b.Query(ctx, backend.CountSQL(b.Dialect(), spec.Name))
	if err != nil {
		return measurement{}, err
	}
	var m measurement
	if len(rows) > 0 {
		m.count, _ = rows[0].Int64("n")
	}

	if method == shardmover.ChecksumNative {
		rows, err := b.Query(ctx, b.Dialect().ChecksumSQL(spec.Name))
		if err != nil {
			return measurement{}, err
		}
		if len(rows) == 0 || rows[0].String("Checksum") == "" {
			return measurement{}, fmt.Errorf("no checksum reported for %s on %s", spec.Name, b.Ref())
		}
		m.checksum = rows[0].String("Checksum")
		return m, nil
	}

	rows, err = b.Query(ctx, backend.SelectAllSQL(b.Dialect(), spec))
	if err != nil {
		return measurement{}, err
	}
	m.checksum = RowHash(rows)
	return m, nil
}

// RowHash folds the rows into an order-independent checksum: the xxhash64 of each
// row's canonical encoding, summed modulo 2^64, rendered as 16 hex digits.
// Duplicate rows change the result.
func RowHash(rows []backend.Row) string {
	var sum uint64
	for _, r := range rows {
		sum += xxhash.Sum64(backend.Canonical(r.Values))
	}
	return fmt.Sprintf("%016x", sum)
}
