package shardmover

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a coordination path or routing document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a compare-and-swap write lost against a concurrent writer.
	ErrVersionConflict = errors.New("version conflict")

	// ErrReplicationFailed indicates a strategy could not start or its lag never converged.
	ErrReplicationFailed = errors.New("replication failed")

	// ErrVerificationFailed indicates counts or checksums still differ after the retry budget.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrPermanentFailure is the umbrella for anything left unresolved after fallback.
	// A job that ends with it never reaches cutover.
	ErrPermanentFailure = errors.New("permanent failure")

	// ErrUnsafeCutover indicates a cutover was requested without a consistent preceding report.
	ErrUnsafeCutover = errors.New("cutover requires a consistent verification report")

	// ErrInvalidTransition indicates a state change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// BackendErrorKind classifies backend failures.
type BackendErrorKind string

const (
	// BackendConnection covers connection loss and refused connections.
	BackendConnection BackendErrorKind = "connection"

	// BackendSyntax covers malformed SQL.
	BackendSyntax BackendErrorKind = "syntax"

	// BackendPermission covers authentication and grant failures.
	BackendPermission BackendErrorKind = "permission"

	// BackendNotFound covers missing tables or databases.
	BackendNotFound BackendErrorKind = "not_found"

	// BackendLockTimeout covers lock wait timeouts and busy databases.
	BackendLockTimeout BackendErrorKind = "lock_timeout"

	// BackendOther covers everything else.
	BackendOther BackendErrorKind = "other"
)

// BackendError reports a failed SQL execution against one shard.
type BackendError struct {
	Op    string
	Shard ShardRef
	Kind  BackendErrorKind
	Err   error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s (%s): %v", e.Shard, e.Op, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether retrying the call may succeed.
func (e *BackendError) Recoverable() bool {
	return e.Kind == BackendConnection || e.Kind == BackendLockTimeout
}

// CoordinationError reports a failed call against the coordination service.
type CoordinationError struct {
	Op        string
	Path      string
	Err       error
	Transient bool
}

func (e *CoordinationError) Error() string {
	return fmt.Sprintf("coordination %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CoordinationError) Unwrap() error {
	return e.Err
}

// Recoverable reports whether retrying the call may succeed.
func (e *CoordinationError) Recoverable() bool {
	return e.Transient
}

// IsRecoverable reports whether err, or an error it wraps, is worth retrying.
func IsRecoverable(err error) bool {
	var r interface{ Recoverable() bool }
	if errors.As(err, &r) {
		return r.Recoverable()
	}
	return false
}

// IsBackendKind reports whether err is a BackendError of the given kind.
func IsBackendKind(err error, kind BackendErrorKind) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == kind
}
