package memory

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/store"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of JobStore for tests and single-process runs.
// It provides thread-safe access to job data using a sync.RWMutex.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]shardmover.MigrationJob // jobID -> job
	latest map[string]string                  // table -> most recent jobID
}

var _ store.JobStore = (*Store)(nil)

// New creates a new in-memory store with initialized maps.
func New() *Store {
	return &Store{
		jobs:   make(map[string]shardmover.MigrationJob),
		latest: make(map[string]string),
	}
}

// CreateJob stores a new job and makes it the latest job of its table.
func (s *Store) CreateJob(ctx context.Context, job shardmover.MigrationJob) (shardmover.MigrationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now

	s.jobs[job.ID] = clone(job)
	s.latest[job.Table] = job.ID

	return job, nil
}

// SaveJob overwrites an existing job.
// Returns store.ErrJobNotFound if the job does not exist.
func (s *Store) SaveJob(ctx context.Context, job shardmover.MigrationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return store.ErrJobNotFound
	}

	s.jobs[job.ID] = clone(job)

	return nil
}

// GetJob returns a job by ID.
// Returns store.ErrJobNotFound if the job does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (shardmover.MigrationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return shardmover.MigrationJob{}, store.ErrJobNotFound
	}

	return clone(job), nil
}

// GetLatestJob returns the most recently created job for a table.
// Returns store.ErrJobNotFound if the table has no jobs.
func (s *Store) GetLatestJob(ctx context.Context, table string) (shardmover.MigrationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.latest[table]
	if !ok {
		return shardmover.MigrationJob{}, store.ErrJobNotFound
	}

	return clone(s.jobs[id]), nil
}

// clone copies the report so callers never share it with the store.
func clone(job shardmover.MigrationJob) shardmover.MigrationJob {
	if job.LastReport != nil {
		report := *job.LastReport
		job.LastReport = &report
	}
	return job
}
