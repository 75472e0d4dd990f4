package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/metrics"
	"github.com/getpup/shardmover/store"
	"github.com/getpup/shardmover/store/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger captures log calls for testing
type mockLogger struct {
	mu    sync.Mutex
	calls []logCall
}

type logCall struct {
	level   string
	message string
	args    []interface{}
}

func newMockLogger() *mockLogger {
	return &mockLogger{
		calls: make([]logCall, 0),
	}
}

func (m *mockLogger) Debug(ctx context.Context, msg string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, logCall{level: "debug", message: msg, args: args})
}

func (m *mockLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, logCall{level: "info", message: msg, args: args})
}

func (m *mockLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, logCall{level: "error", message: msg, args: args})
}

var (
	db1 = shardmover.ShardRef{Host: "localhost", Port: 3306, Database: "db1"}
	db2 = shardmover.ShardRef{Host: "localhost", Port: 3307, Database: "db2"}
)

func TestCanTransition_HappyPath(t *testing.T) {
	path := []shardmover.MigrationState{
		shardmover.StateUnconfigured,
		shardmover.StateInitialized,
		shardmover.StateReplicationPending,
		shardmover.StateReplicationActive,
		shardmover.StateVerifying,
		shardmover.StateVerified,
		shardmover.StateCutoverInProgress,
		shardmover.StateCutoverComplete,
	}

	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestCanTransition_SideStates(t *testing.T) {
	cases := []struct {
		from, to shardmover.MigrationState
		allowed  bool
	}{
		{shardmover.StateVerifying, shardmover.StateReplicationActive, true},
		{shardmover.StateVerifying, shardmover.StateVerificationFailed, true},
		{shardmover.StateReplicationPending, shardmover.StateReplicationFailed, true},
		{shardmover.StateReplicationActive, shardmover.StateReplicationFailed, true},
		{shardmover.StateReplicationFailed, shardmover.StateReplicationPending, true},
		{shardmover.StateVerificationFailed, shardmover.StatePermanentFailure, true},
		{shardmover.StateVerificationFailed, shardmover.StateReplicationActive, false},
		{shardmover.StateUnconfigured, shardmover.StateCutoverInProgress, true},
		{shardmover.StateInitialized, shardmover.StateVerified, false},
		{shardmover.StateReplicationActive, shardmover.StateCutoverInProgress, false},
		{shardmover.StateVerifying, shardmover.StateCutoverInProgress, false},
		{shardmover.StateVerified, shardmover.StateReplicationActive, false},
	}

	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to))
		})
	}
}

func TestCanTransition_TerminalStates(t *testing.T) {
	for _, to := range shardmover.AllStates {
		assert.False(t, CanTransition(shardmover.StateCutoverComplete, to))
		assert.False(t, CanTransition(shardmover.StatePermanentFailure, to))
	}
}

func TestCanTransition_PermanentFailureFromAnyActiveState(t *testing.T) {
	for _, from := range shardmover.AllStates {
		if from.Terminal() {
			continue
		}
		assert.True(t, CanTransition(from, shardmover.StatePermanentFailure), string(from))
	}
}

func TestBegin_CreatesUnconfiguredJob(t *testing.T) {
	mockStore := store.NewMockJobStore()
	mockStore.CreateJobFunc = func(ctx context.Context, job shardmover.MigrationJob) (shardmover.MigrationJob, error) {
		job.ID = "job-123"
		return job, nil
	}

	manager := New(Config{Store: mockStore})

	job, err := manager.Begin(context.Background(), "orders", db1, db2)

	require.NoError(t, err)
	assert.Equal(t, "job-123", job.ID)
	assert.Equal(t, shardmover.StateUnconfigured, job.State)
	require.Len(t, mockStore.CreateJobCalls, 1)
	assert.Equal(t, "orders", mockStore.CreateJobCalls[0].Table)
	assert.Equal(t, db1, mockStore.CreateJobCalls[0].Source)
	assert.Equal(t, db2, mockStore.CreateJobCalls[0].Destination)
}

func TestBegin_StoreError(t *testing.T) {
	mockStore := store.NewMockJobStore()
	mockStore.CreateJobFunc = func(ctx context.Context, job shardmover.MigrationJob) (shardmover.MigrationJob, error) {
		return shardmover.MigrationJob{}, errors.New("disk full")
	}

	_, err := New(Config{Store: mockStore}).Begin(context.Background(), "orders", db1, db2)

	assert.ErrorContains(t, err, "disk full")
}

func TestTransition_PersistsAndLogs(t *testing.T) {
	s := memory.New()
	logger := newMockLogger()
	manager := New(Config{Store: s, Logger: logger})
	ctx := context.Background()

	job, err := manager.Begin(ctx, "orders", db1, db2)
	require.NoError(t, err)

	require.NoError(t, manager.Transition(ctx, &job, shardmover.StateInitialized))

	stored, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, shardmover.StateInitialized, stored.State)
	assert.False(t, stored.UpdatedAt.Before(stored.CreatedAt))

	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Len(t, logger.calls, 2)
	assert.Equal(t, "migration state changed", logger.calls[1].message)
	assert.Contains(t, logger.calls[1].args, "initialized")
}

func TestTransition_RejectsIllegalMove(t *testing.T) {
	mockStore := store.NewMockJobStore()
	manager := New(Config{Store: mockStore})
	job := shardmover.MigrationJob{ID: "job-1", Table: "orders", State: shardmover.StateReplicationActive}

	err := manager.Transition(context.Background(), &job, shardmover.StateCutoverInProgress)

	assert.ErrorIs(t, err, shardmover.ErrInvalidTransition)
	assert.Equal(t, shardmover.StateReplicationActive, job.State)
	assert.Empty(t, mockStore.SaveJobCalls)
}

func TestTransition_SaveFailureKeepsState(t *testing.T) {
	mockStore := store.NewMockJobStore()
	mockStore.SaveJobFunc = func(ctx context.Context, job shardmover.MigrationJob) error {
		return errors.New("connection reset")
	}
	manager := New(Config{Store: mockStore})
	job := shardmover.MigrationJob{ID: "job-1", Table: "orders", State: shardmover.StateVerified}

	err := manager.Transition(context.Background(), &job, shardmover.StateCutoverInProgress)

	assert.ErrorContains(t, err, "connection reset")
	assert.Equal(t, shardmover.StateVerified, job.State)
}

func TestFail_RecordsCause(t *testing.T) {
	mockStore := store.NewMockJobStore()
	logger := newMockLogger()
	manager := New(Config{Store: mockStore, Logger: logger})
	job := shardmover.MigrationJob{ID: "job-1", Table: "orders", State: shardmover.StateVerificationFailed}

	err := manager.Fail(context.Background(), &job, shardmover.ErrVerificationFailed)

	require.NoError(t, err)
	assert.Equal(t, shardmover.StatePermanentFailure, job.State)
	assert.Equal(t, "verification failed", job.LastError)
	assert.Equal(t, []shardmover.MigrationState{shardmover.StatePermanentFailure}, mockStore.SavedStates())
	assert.Equal(t, "error", logger.calls[0].level)
}

func TestFail_TerminalJobIsLeftAlone(t *testing.T) {
	mockStore := store.NewMockJobStore()
	manager := New(Config{Store: mockStore})
	job := shardmover.MigrationJob{ID: "job-1", State: shardmover.StateCutoverComplete}

	require.NoError(t, manager.Fail(context.Background(), &job, errors.New("late")))

	assert.Equal(t, shardmover.StateCutoverComplete, job.State)
	assert.Empty(t, job.LastError)
	assert.Empty(t, mockStore.SaveJobCalls)
}

func TestPrevious(t *testing.T) {
	s := memory.New()
	manager := New(Config{Store: s})
	ctx := context.Background()

	_, found, err := manager.Previous(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, found)

	job, err := manager.Begin(ctx, "orders", db1, db2)
	require.NoError(t, err)

	previous, found, err := manager.Previous(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, job.ID, previous.ID)
}

func TestPrevious_StoreError(t *testing.T) {
	mockStore := store.NewMockJobStore()
	mockStore.GetLatestJobFunc = func(ctx context.Context, table string) (shardmover.MigrationJob, error) {
		return shardmover.MigrationJob{}, errors.New("timeout")
	}

	_, found, err := New(Config{Store: mockStore}).Previous(context.Background(), "orders")

	assert.Error(t, err)
	assert.False(t, found)
}

func TestTransition_RecordsMetrics(t *testing.T) {
	manager := New(Config{Store: memory.New(), MetricsEnabled: true})
	ctx := context.Background()
	table := "lifecycle_metrics_orders"

	startedBefore := testutil.ToFloat64(metrics.MigrationsStartedTotal.WithLabelValues(table))
	completedBefore := testutil.ToFloat64(metrics.MigrationsCompletedTotal.WithLabelValues(table))

	job, err := manager.Begin(ctx, table, db1, db2)
	require.NoError(t, err)
	job.State = shardmover.StateCutoverInProgress
	require.NoError(t, manager.Transition(ctx, &job, shardmover.StateCutoverComplete))

	assert.Equal(t, startedBefore+1, testutil.ToFloat64(metrics.MigrationsStartedTotal.WithLabelValues(table)))
	assert.Equal(t, completedBefore+1, testutil.ToFloat64(metrics.MigrationsCompletedTotal.WithLabelValues(table)))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.MigrationState.WithLabelValues(table, "cutover_complete")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.MigrationState.WithLabelValues(table, "unconfigured")))
}

func TestNilLogger_DoesntPanic(t *testing.T) {
	manager := New(Config{Store: memory.New(), Logger: nil})
	ctx := context.Background()

	job, err := manager.Begin(ctx, "orders", db1, db2)
	require.NoError(t, err)

	require.NoError(t, manager.Transition(ctx, &job, shardmover.StateInitialized))
	require.NoError(t, manager.Fail(ctx, &job, errors.New("boom")))
}
