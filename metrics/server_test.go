package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_CreatesServerWithAddress(t *testing.T) {
	server := NewServer(":9899")

	assert.NotNil(t, server)
	assert.Equal(t, ":9899", server.server.Addr)
}

func TestHandler_ServesMetricsAndHealth(t *testing.T) {
	ts := httptest.NewServer(Handler())
	defer ts.Close()

	t.Run("metrics", func(t *testing.T) {
		MigrationsStartedTotal.WithLabelValues("test-handler").Inc()

		resp, err := http.Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
		assert.Contains(t, string(body), "shardmover_migrations_started_total")
	})

	t.Run("healthz", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestServer_StartAndShutdown(t *testing.T) {
	server := NewServer(":9898")

	server.Start()

	// Give the server a moment to start
	time.Sleep(100 * time.Millisecond)
	assert.NoError(t, server.Err())

	resp, err := http.Get("http://localhost:9898/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	time.Sleep(100 * time.Millisecond)
	_, err = http.Get("http://localhost:9898/metrics")
	assert.Error(t, err)
}

func TestServer_ErrReturnsStartupErrors(t *testing.T) {
	server1 := NewServer(":9897")
	server1.Start()

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server1.Shutdown(ctx)
	}()

	// Give it time to bind
	time.Sleep(100 * time.Millisecond)

	server2 := NewServer(":9897")
	server2.Start()

	time.Sleep(100 * time.Millisecond)

	assert.Error(t, server2.Err())
}
