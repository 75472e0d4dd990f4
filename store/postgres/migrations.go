package postgres

import "fmt"

// TableConfig configures the table names used by the job store.
type TableConfig struct {
	// JobsTable is the name of the table storing migration jobs.
	JobsTable string
}

// DefaultTableConfig returns the default table configuration.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		JobsTable: "shardmover_jobs",
	}
}

// MigrationUp returns the SQL to create the jobs table.
// It creates an index on table_name and created_at for latest-job lookups.
func MigrationUp(config TableConfig) string {
	return fmt.Sprintf(`-- Create shardmover_jobs table
CREATE TABLE %s (
    id UUID PRIMARY KEY,
    table_name TEXT NOT NULL,
    source JSONB NOT NULL,
    destination JSONB NOT NULL,
    state TEXT NOT NULL DEFAULT 'unconfigured',
    strategy TEXT NOT NULL DEFAULT '',
    replication_attempts INTEGER NOT NULL DEFAULT 0,
    verification_attempts INTEGER NOT NULL DEFAULT 0,
    fallbacks INTEGER NOT NULL DEFAULT 0,
    low_confidence BOOLEAN NOT NULL DEFAULT FALSE,
    source_dropped BOOLEAN NOT NULL DEFAULT FALSE,
    published BOOLEAN NOT NULL DEFAULT FALSE,
    last_report JSONB,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Index for finding the most recent job for a table
CREATE INDEX idx_jobs_table_name ON %s(table_name, created_at DESC);
`, config.JobsTable, config.JobsTable)
}

// MigrationDown returns the SQL to drop the jobs table.
func MigrationDown(config TableConfig) string {
	return fmt.Sprintf(`-- Drop shardmover_jobs table
DROP TABLE IF EXISTS %s;
`, config.JobsTable)
}
