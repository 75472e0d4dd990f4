package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/backend"
	"github.com/getpup/shardmover/internal/testshard"
	"github.com/getpup/shardmover/metrics"
	"github.com/getpup/shardmover/routing"
	"github.com/getpup/shardmover/routing/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	router   *Router
	store    *memory.Store
	registry *backend.Registry
	source   *backend.SQLBackend
	dest     *backend.SQLBackend
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	src := testshard.New(t, "source")
	dst := testshard.New(t, "destination")
	testshard.SeedOrders(t, src)
	testshard.Seed(t, src, testshard.Users(), []interface{}{1, "Alice", "alice@example.com"})

	registry := backend.NewRegistry()
	registry.Add(src)
	registry.Add(dst)

	store := memory.New()
	publish(t, store, map[string]shardmover.ShardRef{"orders": src.Ref(), "users": src.Ref()})

	return &fixture{
		router:   New(Config{Store: store, Registry: registry, MetricsEnabled: true}),
		store:    store,
		registry: registry,
		source:   src,
		dest:     dst,
	}
}

func publish(t *testing.T, store routing.Store, tables map[string]shardmover.ShardRef) {
	t.Helper()

	doc := shardmover.NewRoutingDocument()
	for name, ref := range tables {
		doc.Tables[name] = ref
	}
	ctx := context.Background()
	require.NoError(t, store.CreatePath(ctx, routing.DefaultPath))
	require.NoError(t, store.WriteDocument(ctx, routing.DefaultPath, doc))
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestHandleTable_ReadsFromRoutedShard(t *testing.T) {
	f := newFixture(t)

	rec := get(t, f.router, "/tables/orders")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body TableResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, f.source.Ref().String(), body.Source)
	require.Len(t, body.Data, 3)
	assert.Equal(t, "Laptop", body.Data[0]["product_name"])
}

func TestHandleTable_FollowsCutoverWithoutRestart(t *testing.T) {
	f := newFixture(t)
	testshard.SeedOrders(t, f.dest)

	before := get(t, f.router, "/tables/orders")
	require.Equal(t, http.StatusOK, before.Code)

	publish(t, f.store, map[string]shardmover.ShardRef{"orders": f.dest.Ref(), "users": f.source.Ref()})
	require.NoError(t, f.source.DropTable(context.Background(), "orders"))

	after := get(t, f.router, "/tables/orders")
	require.Equal(t, http.StatusOK, after.Code)

	var body TableResponse
	require.NoError(t, json.NewDecoder(after.Body).Decode(&body))
	assert.Equal(t, f.dest.Ref().String(), body.Source)
	assert.Len(t, body.Data, 3)
}

func TestHandleTable_EmptyTableReturnsEmptyArray(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.dest.CreateTable(context.Background(), testshard.Orders()))
	publish(t, f.store, map[string]shardmover.ShardRef{"orders": f.dest.Ref()})

	rec := get(t, f.router, "/tables/orders")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"source":"`+f.dest.Ref().String()+`","data":[]}`, rec.Body.String())
}

func TestHandleTable_Errors(t *testing.T) {
	testCases := []struct {
		desc    string
		path    string
		prepare func(t *testing.T, f *fixture)
		code    int
		message string
	}{
		{
			desc:    "table not routed",
			path:    "/tables/invoices",
			code:    http.StatusNotFound,
			message: "table invoices is not routed",
		},
		{
			desc:    "invalid table name",
			path:    "/tables/1orders",
			code:    http.StatusBadRequest,
			message: "table name must start with a letter",
		},
		{
			desc: "document missing",
			path: "/tables/orders",
			prepare: func(t *testing.T, f *fixture) {
				f.router = New(Config{Store: memory.New(), Registry: f.registry})
			},
			code:    http.StatusInternalServerError,
			message: "failed to get configuration",
		},
		{
			desc: "unknown shard",
			path: "/tables/orders",
			prepare: func(t *testing.T, f *fixture) {
				publish(t, f.store, map[string]shardmover.ShardRef{"orders": {Host: "nowhere", Port: 1, Database: "x"}})
			},
			code:    http.StatusInternalServerError,
			message: "failed to connect to nowhere:1/x",
		},
		{
			desc: "table dropped on routed shard",
			path: "/tables/orders",
			prepare: func(t *testing.T, f *fixture) {
				require.NoError(t, f.source.DropTable(context.Background(), "orders"))
			},
			code:    http.StatusInternalServerError,
			message: "failed to query orders",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			f := newFixture(t)
			if tc.prepare != nil {
				tc.prepare(t, f)
			}

			rec := get(t, f.router, tc.path)

			assert.Equal(t, tc.code, rec.Code)
			assert.Contains(t, decodeError(t, rec), tc.message)
		})
	}
}

func TestHandleTable_StoreFailure(t *testing.T) {
	f := newFixture(t)
	mockStore := routing.NewMockStore(nil)
	mockStore.ReadDocumentFunc = func(ctx context.Context, path string) (shardmover.RoutingDocument, error) {
		return shardmover.RoutingDocument{}, &shardmover.CoordinationError{Op: "get", Path: path, Err: errors.New("connection loss"), Transient: true}
	}
	r := New(Config{Store: mockStore, Registry: f.registry})

	rec := get(t, r, "/tables/orders")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{routing.DefaultPath}, mockStore.ReadDocumentCalls)
}

func TestHandleConfig(t *testing.T) {
	f := newFixture(t)

	rec := get(t, f.router, "/config")

	require.Equal(t, http.StatusOK, rec.Code)
	var doc shardmover.RoutingDocument
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	assert.Equal(t, f.source.Ref(), doc.Tables["orders"])
	assert.Equal(t, f.source.Ref(), doc.Tables["users"])
	assert.False(t, doc.LastUpdated.IsZero())
}

func TestHandleConfig_NotPublished(t *testing.T) {
	r := New(Config{Store: memory.New(), Registry: backend.NewRegistry()})

	rec := get(t, r, "/config")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "routing document not published", decodeError(t, rec))
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tables/orders", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_Health(t *testing.T) {
	r := New(Config{Store: memory.New(), Registry: backend.NewRegistry()})

	assert.Equal(t, http.StatusOK, get(t, r, "/health").Code)
}

func TestRouter_CountsRequests(t *testing.T) {
	f := newFixture(t)
	okBefore := testutil.ToFloat64(metrics.RouterRequestsTotal.WithLabelValues("table", "200"))
	notFoundBefore := testutil.ToFloat64(metrics.RouterRequestsTotal.WithLabelValues("table", "404"))

	get(t, f.router, "/tables/orders")
	get(t, f.router, "/tables/invoices")

	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.RouterRequestsTotal.WithLabelValues("table", "200")))
	assert.Equal(t, notFoundBefore+1, testutil.ToFloat64(metrics.RouterRequestsTotal.WithLabelValues("table", "404")))
}
