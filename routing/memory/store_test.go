package memory

import (
	"context"
	"testing"

	"github.com/getpup/shardmover"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const path = "/sharding/config"

func TestStore_CreatePath(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.CreatePath(ctx, path))
	require.NoError(t, s.CreatePath(ctx, path), "CreatePath is idempotent")

	for _, p := range []string{"/sharding", path} {
		ok, err := s.PathExists(ctx, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}

	assert.Error(t, s.CreatePath(ctx, "relative/path"))
}

func TestStore_ReadDocument_NotFound(t *testing.T) {
	ctx := context.Background()
	s := New()

	t.Run("missing path", func(t *testing.T) {
		_, err := s.ReadDocument(ctx, path)
		assert.ErrorIs(t, err, shardmover.ErrNotFound)
	})

	t.Run("empty node", func(t *testing.T) {
		require.NoError(t, s.CreatePath(ctx, path))
		_, err := s.ReadDocument(ctx, path)
		assert.ErrorIs(t, err, shardmover.ErrNotFound)
	})
}

func TestStore_WriteDocument(t *testing.T) {
	ctx := context.Background()
	s := New()
	doc := shardmover.NewRoutingDocument().With("orders", shardmover.ShardRef{Host: "h", Port: 1, Database: "db"})

	t.Run("missing path", func(t *testing.T) {
		err := s.WriteDocument(ctx, path, doc)
		assert.ErrorIs(t, err, shardmover.ErrNotFound)
	})

	t.Run("bumps version", func(t *testing.T) {
		require.NoError(t, s.CreatePath(ctx, path))
		assert.Equal(t, int64(0), s.Version(path))

		require.NoError(t, s.WriteDocument(ctx, path, doc))
		require.NoError(t, s.WriteDocument(ctx, path, doc))
		assert.Equal(t, int64(2), s.Version(path))

		stored, err := s.ReadDocument(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, doc.Tables, stored.Tables)
	})
}

func TestStore_ReadVersion(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, _, err := s.ReadVersion(ctx, path)
	assert.ErrorIs(t, err, shardmover.ErrNotFound)

	require.NoError(t, s.CreatePath(ctx, path))
	doc, version, err := s.ReadVersion(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, doc.Tables)
	assert.NotNil(t, doc.Tables)
	assert.Equal(t, int64(0), version)
}

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreatePath(ctx, path))
	doc := shardmover.NewRoutingDocument().With("orders", shardmover.ShardRef{Host: "h"})

	require.NoError(t, s.CompareAndSwap(ctx, path, doc, 0))
	assert.Equal(t, int64(1), s.Version(path))

	err := s.CompareAndSwap(ctx, path, doc, 0)
	assert.ErrorIs(t, err, shardmover.ErrVersionConflict)
	assert.False(t, shardmover.IsRecoverable(err))

	assert.ErrorIs(t, s.CompareAndSwap(ctx, "/other", doc, 0), shardmover.ErrNotFound)
	assert.Equal(t, int64(-1), s.Version("/other"))
}
