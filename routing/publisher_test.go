package routing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/routing"
	"github.com/getpup/shardmover/routing/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	db1 = shardmover.ShardRef{Host: "localhost", Port: 3306, Database: "db1"}
	db2 = shardmover.ShardRef{Host: "localhost", Port: 3307, Database: "db2"}
)

func transientErr() error {
	return &shardmover.CoordinationError{Op: "set", Path: routing.DefaultPath, Err: errors.New("connection lost"), Transient: true}
}

func newPublisher(store routing.Store, cas bool) *routing.Publisher {
	return routing.NewPublisher(routing.PublisherConfig{
		Store:          store,
		CompareAndSwap: cas,
		MaxRetries:     3,
		RetryInterval:  time.Millisecond,
	})
}

func docWith(tables map[string]shardmover.ShardRef) shardmover.RoutingDocument {
	doc := shardmover.NewRoutingDocument()
	for name, ref := range tables {
		doc.Tables[name] = ref
	}
	return doc
}

func TestNewPublisher_AppliesDefaultValues(t *testing.T) {
	p := routing.NewPublisher(routing.PublisherConfig{Store: memory.New()})

	assert.Equal(t, "/sharding/config", p.Path())
}

func TestPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	p := newPublisher(mem, false)

	doc := docWith(map[string]shardmover.ShardRef{"users": db1, "orders": db1})
	require.NoError(t, p.Publish(ctx, doc))

	exists, err := mem.PathExists(ctx, "/sharding")
	require.NoError(t, err)
	assert.True(t, exists, "parents are created")

	stored, err := mem.ReadDocument(ctx, routing.DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, doc.Tables, stored.Tables)
}

func TestPublisher_Publish_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mock := routing.NewMockStore(mem)

	failures := 2
	mock.WriteDocumentFunc = func(ctx context.Context, path string, doc shardmover.RoutingDocument) error {
		if failures > 0 {
			failures--
			return transientErr()
		}
		return mem.WriteDocument(ctx, path, doc)
	}

	doc := docWith(map[string]shardmover.ShardRef{"orders": db2})
	require.NoError(t, newPublisher(mock, false).Publish(ctx, doc))

	assert.Len(t, mock.WriteDocumentCalls, 3)
	stored, err := mem.ReadDocument(ctx, routing.DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, db2, stored.Tables["orders"])
}

func TestPublisher_Publish_GivesUpAfterBudget(t *testing.T) {
	mock := routing.NewMockStore(memory.New())
	mock.WriteDocumentFunc = func(ctx context.Context, path string, doc shardmover.RoutingDocument) error {
		return transientErr()
	}

	err := newPublisher(mock, false).Publish(context.Background(), shardmover.NewRoutingDocument())

	require.Error(t, err)
	assert.True(t, shardmover.IsRecoverable(err))
	assert.Len(t, mock.WriteDocumentCalls, 4)
}

func TestPublisher_Publish_DoesNotRetryPermanentFailures(t *testing.T) {
	mock := routing.NewMockStore(memory.New())
	denied := &shardmover.CoordinationError{Op: "set", Path: routing.DefaultPath, Err: errors.New("not authorized")}
	mock.WriteDocumentFunc = func(ctx context.Context, path string, doc shardmover.RoutingDocument) error {
		return denied
	}

	err := newPublisher(mock, false).Publish(context.Background(), shardmover.NewRoutingDocument())

	assert.ErrorIs(t, err, denied)
	assert.Len(t, mock.WriteDocumentCalls, 1)
}

func TestPublisher_Current(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	p := newPublisher(mem, false)

	_, err := p.Current(ctx)
	assert.ErrorIs(t, err, shardmover.ErrNotFound)

	require.NoError(t, p.Publish(ctx, docWith(map[string]shardmover.ShardRef{"users": db1})))

	doc, err := p.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, db1, doc.Tables["users"])
}

func TestPublisher_Update_KeepsOtherTables(t *testing.T) {
	for _, cas := range []bool{false, true} {
		name := "last write wins"
		if cas {
			name = "compare and swap"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := memory.New()
			p := newPublisher(mem, cas)
			require.NoError(t, p.Publish(ctx, docWith(map[string]shardmover.ShardRef{"users": db1, "orders": db1})))

			next, err := p.Update(ctx, func(current shardmover.RoutingDocument) shardmover.RoutingDocument {
				return current.With("orders", db2)
			})
			require.NoError(t, err)

			stored, err := mem.ReadDocument(ctx, routing.DefaultPath)
			require.NoError(t, err)
			assert.Equal(t, next.Tables, stored.Tables)
			assert.Equal(t, db1, stored.Tables["users"])
			assert.Equal(t, db2, stored.Tables["orders"])
		})
	}
}

func TestPublisher_Update_StartsFromEmptyDocument(t *testing.T) {
	for _, cas := range []bool{false, true} {
		ctx := context.Background()
		mem := memory.New()

		_, err := newPublisher(mem, cas).Update(ctx, func(current shardmover.RoutingDocument) shardmover.RoutingDocument {
			assert.Empty(t, current.Tables)
			return current.With("orders", db1)
		})
		require.NoError(t, err)

		stored, err := mem.ReadDocument(ctx, routing.DefaultPath)
		require.NoError(t, err)
		assert.Equal(t, db1, stored.Tables["orders"])
	}
}

func TestPublisher_Update_RecomputesOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	p := newPublisher(mem, true)
	require.NoError(t, p.Publish(ctx, docWith(map[string]shardmover.ShardRef{"orders": db1})))

	mock := routing.NewMockStore(mem)
	reads := 0
	mock.ReadVersionFunc = func(ctx context.Context, path string) (shardmover.RoutingDocument, int64, error) {
		reads++
		doc, version, err := mem.ReadVersion(ctx, path)
		if reads == 1 {
			// A concurrent writer lands between our read and our swap.
			require.NoError(t, mem.WriteDocument(ctx, path, doc.With("users", db1)))
		}
		return doc, version, err
	}

	_, err := newPublisher(mock, true).Update(ctx, func(current shardmover.RoutingDocument) shardmover.RoutingDocument {
		return current.With("orders", db2)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, reads)
	assert.Len(t, mock.CompareAndSwapCalls, 2)

	stored, err := mem.ReadDocument(ctx, routing.DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, db2, stored.Tables["orders"], "our change lands")
	assert.Equal(t, db1, stored.Tables["users"], "the concurrent change is kept")
}

func TestPublisher_Update_ConflictBudgetExhausted(t *testing.T) {
	mock := routing.NewMockStore(memory.New())
	mock.CompareAndSwapFunc = func(ctx context.Context, path string, doc shardmover.RoutingDocument, version int64) error {
		return &shardmover.CoordinationError{Op: "set", Path: path, Err: shardmover.ErrVersionConflict}
	}

	_, err := newPublisher(mock, true).Update(context.Background(), func(current shardmover.RoutingDocument) shardmover.RoutingDocument {
		return current
	})

	assert.ErrorIs(t, err, shardmover.ErrVersionConflict)
	assert.Len(t, mock.CompareAndSwapCalls, 4)
}

func TestParents(t *testing.T) {
	prefixes, err := routing.Parents("/sharding/config")
	require.NoError(t, err)
	assert.Equal(t, []string{"/sharding", "/sharding/config"}, prefixes)

	for _, bad := range []string{"", "/", "sharding", "/sharding/", "/a//b"} {
		_, err := routing.Parents(bad)
		assert.Error(t, err, bad)
	}
}

func TestEncodeDecode(t *testing.T) {
	doc := docWith(map[string]shardmover.ShardRef{"orders": db2})

	data, err := routing.Encode(doc)
	require.NoError(t, err)

	decoded, err := routing.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, doc.Tables, decoded.Tables)

	_, err = routing.Decode(nil)
	assert.ErrorIs(t, err, shardmover.ErrNotFound)

	_, err = routing.Decode([]byte("{not json"))
	assert.Error(t, err)
}
