// Package backend executes SQL against one relational shard.
//
// Every failure is returned as a *shardmover.BackendError classified from the
// driver error. Nothing in this package retries; callers decide.
package backend

import (
	"context"
	"fmt"
	"strconv"

	"github.com/getpup/shardmover"
)

// Row is one result row. Columns and Values share an index.
// Byte slices returned by drivers are converted to strings.
type Row struct {
	Columns []string
	Values  []interface{}
}

// Get returns the raw value of col.
func (r Row) Get(col string) (interface{}, bool) {
	for i, c := range r.Columns {
		if c == col {
			return r.Values[i], true
		}
	}
	return nil, false
}

// String returns col formatted as a string, or "" when it is missing or NULL.
func (r Row) String(col string) string {
	v, ok := r.Get(col)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int64 returns col as an integer. It reports false when the column is missing,
// NULL or not numeric.
func (r Row) Int64(col string) (int64, bool) {
	v, ok := r.Get(col)
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// Executor runs statements. Exec returns the number of affected rows.
// Query returns every row, in order; the slice is empty but never nil when nothing matched.
type Executor interface {
	Exec(ctx context.Context, query string, args ...interface{}) (int64, error)
	Query(ctx context.Context, query string, args ...interface{}) ([]Row, error)
}

// Session is an Executor pinned to one connection.
// Locks and transactions opened with plain statements stay on it until Close.
type Session interface {
	Executor
	Close() error
}

// Backend is a connection to one shard.
type Backend interface {
	Executor

	// Ref identifies the shard.
	Ref() shardmover.ShardRef

	// Dialect returns the SQL dialect of the shard.
	Dialect() Dialect

	// Tx runs fn inside a transaction, committing when fn returns nil.
	Tx(ctx context.Context, fn func(tx Executor) error) error

	// Session pins a single connection.
	Session(ctx context.Context) (Session, error)

	// EnsureDatabase creates the shard's database if it does not exist.
	EnsureDatabase(ctx context.Context) error

	// CreateTable creates the table if it does not exist.
	CreateTable(ctx context.Context, spec shardmover.TableSpec) error

	// TableExists reports whether the table exists in the shard's database.
	TableExists(ctx context.Context, table string) (bool, error)

	// DropTable drops the table if it exists.
	DropTable(ctx context.Context, table string) error

	// Close releases all connections.
	Close() error
}
