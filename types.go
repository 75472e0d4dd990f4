package shardmover

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ShardRef identifies one relational backend and the database on it that owns a table.
type ShardRef struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
}

// String renders the shard as host:port/database.
func (r ShardRef) String() string {
	return fmt.Sprintf("%s:%d/%s", r.Host, r.Port, r.Database)
}

// IsZero reports whether the reference is unset.
func (r ShardRef) IsZero() bool {
	return r == ShardRef{}
}

// LastUpdatedKey is the wire key carrying the document timestamp.
// No table may be named after it.
const LastUpdatedKey = "lastUpdated"

// RoutingDocument maps table names to the shard that owns them.
// It is always published as a whole; partial updates are never written.
type RoutingDocument struct {
	// Tables maps a table name to its owning shard.
	Tables map[string]ShardRef

	// LastUpdated is when the document was computed.
	LastUpdated time.Time
}

// NewRoutingDocument returns an empty document stamped with the current time.
func NewRoutingDocument() RoutingDocument {
	return RoutingDocument{
		Tables:      make(map[string]ShardRef),
		LastUpdated: time.Now().UTC(),
	}
}

// Resolve returns the shard owning table.
func (d RoutingDocument) Resolve(table string) (ShardRef, bool) {
	ref, ok := d.Tables[table]
	return ref, ok
}

// Clone returns a deep copy of the document.
func (d RoutingDocument) Clone() RoutingDocument {
	tables := make(map[string]ShardRef, len(d.Tables))
	for name, ref := range d.Tables {
		tables[name] = ref
	}
	return RoutingDocument{Tables: tables, LastUpdated: d.LastUpdated}
}

// With returns a copy of the document with table routed to ref and a fresh timestamp.
func (d RoutingDocument) With(table string, ref ShardRef) RoutingDocument {
	next := d.Clone()
	next.Tables[table] = ref
	next.LastUpdated = time.Now().UTC()
	return next
}

// TableNames returns the routed table names in sorted order.
func (d RoutingDocument) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON encodes the document in its flat wire form:
// one key per table plus "lastUpdated".
func (d RoutingDocument) MarshalJSON() ([]byte, error) {
	if _, ok := d.Tables[LastUpdatedKey]; ok {
		return nil, fmt.Errorf("table name %s is reserved", LastUpdatedKey)
	}
	flat := make(map[string]interface{}, len(d.Tables)+1)
	for name, ref := range d.Tables {
		flat[name] = ref
	}
	flat[LastUpdatedKey] = d.LastUpdated.UTC().Format(time.RFC3339Nano)
	return json.Marshal(flat)
}

// UnmarshalJSON decodes the flat wire form.
func (d *RoutingDocument) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	doc := RoutingDocument{Tables: make(map[string]ShardRef, len(flat))}
	for key, raw := range flat {
		if key == LastUpdatedKey {
			var ts string
			if err := json.Unmarshal(raw, &ts); err != nil {
				return fmt.Errorf("invalid %s: %w", LastUpdatedKey, err)
			}
			parsed, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", LastUpdatedKey, err)
			}
			doc.LastUpdated = parsed
			continue
		}

		var ref ShardRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return fmt.Errorf("invalid shard for table %q: %w", key, err)
		}
		doc.Tables[key] = ref
	}

	*d = doc
	return nil
}

// ColumnSpec describes one column of a migrated table.
type ColumnSpec struct {
	// Name is the column name.
	Name string `toml:"name"`

	// Type is the column type as written in DDL, e.g. "VARCHAR(100)".
	Type string `toml:"type"`
}

// TableSpec describes a table the orchestrator creates and copies.
// Schema evolution is not supported: source and destination share one spec.
type TableSpec struct {
	// Name is the table name.
	Name string `toml:"name"`

	// Columns lists the columns in declaration order.
	Columns []ColumnSpec `toml:"columns"`

	// PrimaryKey lists the key columns used for upserts.
	PrimaryKey []string `toml:"primary_key"`
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// MigrationState is a state of the migration state machine.
type MigrationState string

const (
	// StateUnconfigured is the state of a freshly created job.
	StateUnconfigured MigrationState = "unconfigured"

	// StateInitialized indicates schemas exist on both shards and the initial routing is published.
	StateInitialized MigrationState = "initialized"

	// StateReplicationPending indicates a strategy has been selected and is being set up.
	StateReplicationPending MigrationState = "replication_pending"

	// StateReplicationActive indicates the destination is converging on the source.
	StateReplicationActive MigrationState = "replication_active"

	// StateVerifying indicates a consistency check is running.
	StateVerifying MigrationState = "verifying"

	// StateVerified indicates the last consistency report was consistent.
	StateVerified MigrationState = "verified"

	// StateCutoverInProgress indicates replication is stopping and ownership is moving.
	StateCutoverInProgress MigrationState = "cutover_in_progress"

	// StateCutoverComplete indicates the routing document points the table at the destination.
	StateCutoverComplete MigrationState = "cutover_complete"

	// StateReplicationFailed indicates the current strategy could not converge.
	StateReplicationFailed MigrationState = "replication_failed"

	// StateVerificationFailed indicates the verification budget was exhausted.
	StateVerificationFailed MigrationState = "verification_failed"

	// StatePermanentFailure is terminal: nothing more is attempted and no cutover happens.
	StatePermanentFailure MigrationState = "permanent_failure"
)

// AllStates lists every state, in pipeline order followed by the side states.
var AllStates = []MigrationState{
	StateUnconfigured,
	StateInitialized,
	StateReplicationPending,
	StateReplicationActive,
	StateVerifying,
	StateVerified,
	StateCutoverInProgress,
	StateCutoverComplete,
	StateReplicationFailed,
	StateVerificationFailed,
	StatePermanentFailure,
}

// Terminal reports whether no further transition is possible from s.
func (s MigrationState) Terminal() bool {
	return s == StateCutoverComplete || s == StatePermanentFailure
}

// StrategyKind names a replication strategy.
type StrategyKind string

const (
	// StrategyNative streams the engine's change log from a captured position.
	StrategyNative StrategyKind = "native"

	// StrategySnapshot copies all rows and offers no ongoing convergence.
	StrategySnapshot StrategyKind = "snapshot"
)

// ChecksumMethod records how a ConsistencyReport computed its checksums.
type ChecksumMethod string

const (
	// ChecksumNative uses the engine's table checksum primitive.
	ChecksumNative ChecksumMethod = "native"

	// ChecksumRowHash folds per-row hashes in an order-independent way.
	ChecksumRowHash ChecksumMethod = "row_hash"
)

// ConsistencyReport is the result of one verification attempt. It is never mutated.
type ConsistencyReport struct {
	SourceCount    int64          `json:"sourceCount"`
	DestCount      int64          `json:"destCount"`
	SourceChecksum string         `json:"sourceChecksum"`
	DestChecksum   string         `json:"destChecksum"`
	Method         ChecksumMethod `json:"method"`
	Consistent     bool           `json:"consistent"`
	CheckedAt      time.Time      `json:"checkedAt"`
}

// MigrationJob tracks one table migration from Source to Destination.
// Only the orchestrator mutates a job.
type MigrationJob struct {
	// ID is the unique identifier of the job (UUID).
	ID string

	// Table is the migrated table.
	Table string

	// Source is the shard that owns the table before cutover.
	Source ShardRef

	// Destination is the shard that owns the table after cutover.
	Destination ShardRef

	// State is the current state machine state.
	State MigrationState

	// Strategy is the replication strategy in use, empty before selection.
	Strategy StrategyKind

	// ReplicationAttempts counts strategy starts.
	ReplicationAttempts int

	// VerificationAttempts counts verify calls.
	VerificationAttempts int

	// Fallbacks counts strategy fallbacks (at most one).
	Fallbacks int

	// LowConfidence is set when the snapshot strategy produced the verified copy.
	LowConfidence bool

	// SourceDropped is set once the table has been dropped from the source.
	SourceDropped bool

	// Published is set once the routing document points the table at Destination.
	Published bool

	// LastReport is the most recent consistency report, if any.
	LastReport *ConsistencyReport

	// LastError is the message of the error that ended the job, if any.
	LastError string

	// CreatedAt is when the job was created.
	CreatedAt time.Time

	// UpdatedAt is when the job was last saved.
	UpdatedAt time.Time
}
