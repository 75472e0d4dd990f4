// Package store persists migration jobs so that a restarted orchestrator can
// see what the previous run of a table migration got through.
package store

import (
	"context"

	"github.com/getpup/shardmover"
)

// JobStore provides persistence for migration jobs.
// Implementations must be safe for concurrent access.
type JobStore interface {
	// CreateJob stores a new job. An empty ID is replaced with a fresh UUID and
	// CreatedAt/UpdatedAt are stamped.
	// Returns the stored job.
	CreateJob(ctx context.Context, job shardmover.MigrationJob) (shardmover.MigrationJob, error)

	// SaveJob overwrites an existing job.
	// Returns ErrJobNotFound if the job does not exist.
	SaveJob(ctx context.Context, job shardmover.MigrationJob) error

	// GetJob returns a job by ID.
	// Returns ErrJobNotFound if the job does not exist.
	GetJob(ctx context.Context, id string) (shardmover.MigrationJob, error)

	// GetLatestJob returns the most recently created job for a table.
	// Returns ErrJobNotFound if the table has no jobs.
	GetLatestJob(ctx context.Context, table string) (shardmover.MigrationJob, error)
}
