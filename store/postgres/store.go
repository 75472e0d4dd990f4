package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/getpup/shardmover"
	"github.com/getpup/shardmover/store"
	"github.com/google/uuid"
)

// Store is a PostgreSQL implementation of JobStore.
// It provides persistent storage for migration jobs across restarts.
type Store struct {
	db        *sql.DB
	jobsTable string
}

var _ store.JobStore = (*Store)(nil)

// New creates a new PostgreSQL store with default table names.
func New(db *sql.DB) *Store {
	config := DefaultTableConfig()
	return NewWithConfig(db, config)
}

// NewWithConfig creates a new PostgreSQL store with custom table names.
func NewWithConfig(db *sql.DB, config TableConfig) *Store {
	return &Store{
		db:        db,
		jobsTable: config.JobsTable,
	}
}

const jobColumns = `id, table_name, source, destination, state, strategy,
		replication_attempts, verification_attempts, fallbacks,
		low_confidence, source_dropped, published, last_report, last_error,
		created_at, updated_at`

// CreateJob stores a new job.
// An empty ID is replaced with a fresh UUID.
func (s *Store) CreateJob(ctx context.Context, job shardmover.MigrationJob) (shardmover.MigrationJob, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	cols, err := encodeJob(job)
	if err != nil {
		return shardmover.MigrationJob{}, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, table_name, source, destination, state, strategy,
			replication_attempts, verification_attempts, fallbacks,
			low_confidence, source_dropped, published, last_report, last_error,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		RETURNING created_at, updated_at
	`, s.jobsTable)

	err = s.db.QueryRowContext(ctx, query, cols...).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return shardmover.MigrationJob{}, fmt.Errorf("failed to create job: %w", err)
	}

	return job, nil
}

// SaveJob overwrites an existing job.
// Returns store.ErrJobNotFound if the job does not exist.
func (s *Store) SaveJob(ctx context.Context, job shardmover.MigrationJob) error {
	cols, err := encodeJob(job)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET table_name = $2, source = $3, destination = $4, state = $5, strategy = $6,
			replication_attempts = $7, verification_attempts = $8, fallbacks = $9,
			low_confidence = $10, source_dropped = $11, published = $12,
			last_report = $13, last_error = $14, updated_at = NOW()
		WHERE id = $1
	`, s.jobsTable)

	result, err := s.db.ExecContext(ctx, query, cols...)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrJobNotFound
	}

	return nil
}

// GetJob returns a job by ID.
// Returns store.ErrJobNotFound if the job does not exist.
func (s *Store) GetJob(ctx context.Context, id string) (shardmover.MigrationJob, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1
	`, jobColumns, s.jobsTable)

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return shardmover.MigrationJob{}, store.ErrJobNotFound
	}
	if err != nil {
		return shardmover.MigrationJob{}, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// GetLatestJob returns the most recently created job for a table.
// Returns store.ErrJobNotFound if the table has no jobs.
func (s *Store) GetLatestJob(ctx context.Context, table string) (shardmover.MigrationJob, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE table_name = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, jobColumns, s.jobsTable)

	job, err := scanJob(s.db.QueryRowContext(ctx, query, table))
	if err == sql.ErrNoRows {
		return shardmover.MigrationJob{}, store.ErrJobNotFound
	}
	if err != nil {
		return shardmover.MigrationJob{}, fmt.Errorf("failed to get latest job: %w", err)
	}

	return job, nil
}

// encodeJob returns the fourteen column values bound as $1..$14.
func encodeJob(job shardmover.MigrationJob) ([]interface{}, error) {
	source, err := json.Marshal(job.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to encode source: %w", err)
	}
	dest, err := json.Marshal(job.Destination)
	if err != nil {
		return nil, fmt.Errorf("failed to encode destination: %w", err)
	}

	var report interface{}
	if job.LastReport != nil {
		data, err := json.Marshal(job.LastReport)
		if err != nil {
			return nil, fmt.Errorf("failed to encode report: %w", err)
		}
		report = string(data)
	}

	return []interface{}{
		job.ID,
		job.Table,
		string(source),
		string(dest),
		string(job.State),
		string(job.Strategy),
		job.ReplicationAttempts,
		job.VerificationAttempts,
		job.Fallbacks,
		job.LowConfidence,
		job.SourceDropped,
		job.Published,
		report,
		job.LastError,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (shardmover.MigrationJob, error) {
	var (
		job                 shardmover.MigrationJob
		source, dest, state string
		strategy            string
		report              sql.NullString
	)

	err := row.Scan(
		&job.ID,
		&job.Table,
		&source,
		&dest,
		&state,
		&strategy,
		&job.ReplicationAttempts,
		&job.VerificationAttempts,
		&job.Fallbacks,
		&job.LowConfidence,
		&job.SourceDropped,
		&job.Published,
		&report,
		&job.LastError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return shardmover.MigrationJob{}, err
	}

	job.State = shardmover.MigrationState(state)
	job.Strategy = shardmover.StrategyKind(strategy)

	if err := json.Unmarshal([]byte(source), &job.Source); err != nil {
		return shardmover.MigrationJob{}, fmt.Errorf("failed to decode source: %w", err)
	}
	if err := json.Unmarshal([]byte(dest), &job.Destination); err != nil {
		return shardmover.MigrationJob{}, fmt.Errorf("failed to decode destination: %w", err)
	}
	if report.Valid {
		var r shardmover.ConsistencyReport
		if err := json.Unmarshal([]byte(report.String), &r); err != nil {
			return shardmover.MigrationJob{}, fmt.Errorf("failed to decode report: %w", err)
		}
		job.LastReport = &r
	}

	return job, nil
}
