// Package testshard opens throwaway SQLite shards for tests.
package testshard

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/backend"
	"github.com/stretchr/testify/require"
)

var counter int64

// New opens an empty in-memory SQLite shard whose ref uses host and a unique database name.
// The shard is closed when the test ends.
func New(t testing.TB, host string) *backend.SQLBackend {
	t.Helper()

	n := atomic.AddInt64(&counter, 1)
	b, err := backend.Open(backend.Config{
		Driver:   backend.DriverSQLite,
		Host:     host,
		Port:     int(n),
		Database: fmt.Sprintf("shard%d", n),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// Orders returns the table used across tests.
func Orders() shardmover.TableSpec {
	return shardmover.TableSpec{
		Name: "orders",
		Columns: []shardmover.ColumnSpec{
			{Name: "id", Type: "INTEGER"},
			{Name: "user_id", Type: "INTEGER"},
			{Name: "product_name", Type: "VARCHAR(100)"},
			{Name: "quantity", Type: "INTEGER"},
			{Name: "total", Type: "DECIMAL(10,2)"},
		},
		PrimaryKey: []string{"id"},
	}
}

// Users returns a second table that stays on the source shard.
func Users() shardmover.TableSpec {
	return shardmover.TableSpec{
		Name: "users",
		Columns: []shardmover.ColumnSpec{
			{Name: "id", Type: "INTEGER"},
			{Name: "name", Type: "VARCHAR(100)"},
			{Name: "email", Type: "VARCHAR(100)"},
		},
		PrimaryKey: []string{"id"},
	}
}

// Seed creates spec on b and upserts rows, each holding values in column order.
func Seed(t testing.TB, b backend.Backend, spec shardmover.TableSpec, rows ...[]interface{}) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, b.CreateTable(ctx, spec))
	upsert := b.Dialect().UpsertSQL(spec)
	for _, row := range rows {
		_, err := b.Exec(ctx, upsert, row...)
		require.NoError(t, err)
	}
}

// SeedOrders creates the orders table with three rows.
func SeedOrders(t testing.TB, b backend.Backend) {
	t.Helper()

	Seed(t, b, Orders(),
		[]interface{}{1, 1, "Laptop", 1, 1200.00},
		[]interface{}{2, 2, "Phone", 2, 1600.00},
		[]interface{}{3, 1, "Headphones", 1, 150.50},
	)
}

// Count returns the number of rows in table.
func Count(t testing.TB, b backend.Backend, table string) int64 {
	t.Helper()

	rows, err := b.Query(context.Background(), backend.CountSQL(b.Dialect(), table))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	n, _ := rows[0].Int64("n")
	return n
}
