package store

import (
	"context"
	"sync"

	"github.com/getpup/shardmover"
)

// MockJobStore is a configurable mock implementation of JobStore
// for use in tests. It allows setting up expected return values, tracking method
// calls, and injecting errors for testing error paths.
type MockJobStore struct {
	mu sync.RWMutex

	// CreateJobFunc is called by CreateJob if set.
	CreateJobFunc func(ctx context.Context, job shardmover.MigrationJob) (shardmover.MigrationJob, error)

	// SaveJobFunc is called by SaveJob if set.
	SaveJobFunc func(ctx context.Context, job shardmover.MigrationJob) error

	// GetJobFunc is called by GetJob if set.
	GetJobFunc func(ctx context.Context, id string) (shardmover.MigrationJob, error)

	// GetLatestJobFunc is called by GetLatestJob if set.
	GetLatestJobFunc func(ctx context.Context, table string) (shardmover.MigrationJob, error)

	// Call tracking
	CreateJobCalls    []shardmover.MigrationJob
	SaveJobCalls      []shardmover.MigrationJob
	GetJobCalls       []string
	GetLatestJobCalls []string
}

var _ JobStore = (*MockJobStore)(nil)

// NewMockJobStore creates a new mock job store.
func NewMockJobStore() *MockJobStore {
	return &MockJobStore{}
}

// CreateJob implements JobStore. Without a hook the job is returned as given.
func (m *MockJobStore) CreateJob(ctx context.Context, job shardmover.MigrationJob) (shardmover.MigrationJob, error) {
	m.mu.Lock()
	m.CreateJobCalls = append(m.CreateJobCalls, job)
	m.mu.Unlock()

	if m.CreateJobFunc != nil {
		return m.CreateJobFunc(ctx, job)
	}

	return job, nil
}

// SaveJob implements JobStore.
func (m *MockJobStore) SaveJob(ctx context.Context, job shardmover.MigrationJob) error {
	m.mu.Lock()
	m.SaveJobCalls = append(m.SaveJobCalls, job)
	m.mu.Unlock()

	if m.SaveJobFunc != nil {
		return m.SaveJobFunc(ctx, job)
	}

	return nil
}

// GetJob implements JobStore.
func (m *MockJobStore) GetJob(ctx context.Context, id string) (shardmover.MigrationJob, error) {
	m.mu.Lock()
	m.GetJobCalls = append(m.GetJobCalls, id)
	m.mu.Unlock()

	if m.GetJobFunc != nil {
		return m.GetJobFunc(ctx, id)
	}

	return shardmover.MigrationJob{}, ErrJobNotFound
}

// GetLatestJob implements JobStore.
func (m *MockJobStore) GetLatestJob(ctx context.Context, table string) (shardmover.MigrationJob, error) {
	m.mu.Lock()
	m.GetLatestJobCalls = append(m.GetLatestJobCalls, table)
	m.mu.Unlock()

	if m.GetLatestJobFunc != nil {
		return m.GetLatestJobFunc(ctx, table)
	}

	return shardmover.MigrationJob{}, ErrJobNotFound
}

// SavedStates returns the state of every saved job in call order.
func (m *MockJobStore) SavedStates() []shardmover.MigrationState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]shardmover.MigrationState, len(m.SaveJobCalls))
	for i, job := range m.SaveJobCalls {
		states[i] = job.State
	}
	return states
}

// Reset clears all call tracking.
func (m *MockJobStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateJobCalls = nil
	m.SaveJobCalls = nil
	m.GetJobCalls = nil
	m.GetLatestJobCalls = nil
}
