package shardmover

import "context"

// Orchestrator moves ownership of one table from a source shard to a destination shard.
// It sets up replication, waits for convergence, verifies consistency and
// publishes the new routing document.
type Orchestrator interface {
	// Run executes the migration and blocks until it completes or fails.
	//
	// The orchestrator will:
	// 1. Inspect both shards and the routing document to recover an interrupted cutover
	// 2. Create schemas and tables on both shards and publish the initial routing
	// 3. Probe replication capability and start the selected strategy
	// 4. Wait for the destination to catch up and verify consistency
	// 5. Stop replication, drop the source table and publish the new routing
	//
	// Run returns the final job together with an error wrapping ErrPermanentFailure
	// if the migration could not complete. No cutover is attempted in that case.
	Run(ctx context.Context) (MigrationJob, error)
}
