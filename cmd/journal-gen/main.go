// Command journal-gen writes the SQL migrations for the PostgreSQL job journal.
//
// Usage:
//
//	go run github.com/getpup/shardmover/cmd/journal-gen -output migrations
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/shardmover/cmd/journal-gen -output migrations
//
// Customize the table name:
//
//	go run github.com/getpup/shardmover/cmd/journal-gen -jobs-table migration_jobs
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/shardmover/store/postgres"
)

func main() {
	var (
		outputFolder   = flag.String("output", "migrations", "Output folder for migration files")
		outputFilename = flag.String("filename", "", "Output base filename (default: timestamp-based)")
		jobsTable      = flag.String("jobs-table", "shardmover_jobs", "Name of the jobs table")
	)

	flag.Parse()

	config := postgres.DefaultGenerateConfig()
	config.OutputFolder = *outputFolder
	config.Tables.JobsTable = *jobsTable

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	up, down, err := postgres.Generate(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated journal migrations: %s, %s\n", up, down)
}
