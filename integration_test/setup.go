//go:build integration

package integration_test

import (
	"context"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/getpup/shardmover/backend"
	"github.com/getpup/shardmover/routing/zookeeper"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// shardConfig reads a MySQL address such as "127.0.0.1:3307" from env and
// skips the test if it is not set. Each call gets a fresh database name.
func shardConfig(t *testing.T, env string) backend.Config {
	t.Helper()

	addr := os.Getenv(env)
	if addr == "" {
		t.Skipf("%s not set, skipping integration test", env)
	}

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	password := os.Getenv("MYSQL_ROOT_PASSWORD")
	if password == "" {
		password = "password"
	}

	return backend.Config{
		Driver:   backend.DriverMySQL,
		Host:     host,
		Port:     port,
		User:     "root",
		Password: password,
		Database: "it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
	}
}

// openShard opens cfg without creating its database and drops the database
// when the test ends.
func openShard(t *testing.T, cfg backend.Config) *backend.SQLBackend {
	t.Helper()

	b, err := backend.Open(cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		if _, err := b.Exec(context.Background(), "DROP DATABASE IF EXISTS "+b.Dialect().Quote(cfg.Database)); err != nil {
			t.Logf("warning: failed to drop database %s: %v", cfg.Database, err)
		}
		_ = b.Close()
	})
	return b
}

// zookeeperStore connects to ZOOKEEPER_ADDR and returns a unique document path.
func zookeeperStore(t *testing.T) (*zookeeper.Store, string) {
	t.Helper()

	addr := os.Getenv("ZOOKEEPER_ADDR")
	if addr == "" {
		t.Skip("ZOOKEEPER_ADDR not set, skipping integration test")
	}

	s, err := zookeeper.Dial(addr, 10*time.Second, testLogger{t})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	return s, "/shardmover-it/" + uuid.NewString() + "/config"
}

type testLogger struct {
	t *testing.T
}

func (l testLogger) Printf(format string, args ...interface{}) {
	l.t.Logf(format, args...)
}
