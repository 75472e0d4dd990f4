package postgres

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/getpup/shardmover/backend"
)

// GenerateConfig configures migration file generation for the job journal.
type GenerateConfig struct {
	// OutputFolder is the directory where the migration files are written.
	OutputFolder string

	// OutputFilename is the base name of the migration files.
	// Generate appends .up.sql and .down.sql.
	OutputFilename string

	// Tables names the journal tables.
	Tables TableConfig
}

// DefaultGenerateConfig returns the default generation configuration.
func DefaultGenerateConfig() GenerateConfig {
	timestamp := time.Now().Format("20060102150405")
	return GenerateConfig{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_shardmover_journal", timestamp),
		Tables:         DefaultTableConfig(),
	}
}

// Generate writes the up and down migrations and returns their paths.
func Generate(config GenerateConfig) (up string, down string, err error) {
	if err := backend.ValidateIdentifier(config.Tables.JobsTable, "JobsTable"); err != nil {
		return "", "", fmt.Errorf("invalid configuration: %w", err)
	}
	if config.OutputFilename == "" {
		return "", "", fmt.Errorf("invalid configuration: OutputFilename cannot be empty")
	}

	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create output folder: %w", err)
	}

	up = filepath.Join(config.OutputFolder, config.OutputFilename+".up.sql")
	if err := os.WriteFile(up, []byte(MigrationUp(config.Tables)), 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write migration file: %w", err)
	}

	down = filepath.Join(config.OutputFolder, config.OutputFilename+".down.sql")
	if err := os.WriteFile(down, []byte(MigrationDown(config.Tables)), 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write migration file: %w", err)
	}

	return up, down, nil
}
