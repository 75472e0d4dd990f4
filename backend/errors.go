package backend

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/getpup/shardmover"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// ErrUnknownShard indicates a Registry has no configuration for a shard.
var ErrUnknownShard = errors.New("unknown shard")

// MySQL server error numbers.
const (
	mysqlDBAccessDenied    = 1044
	mysqlAccessDenied      = 1045
	mysqlBadDB             = 1049
	mysqlParseError        = 1064
	mysqlNoSuchTable       = 1146
	mysqlTableAccessDenied = 1142
	mysqlSpecificAccess    = 1227
	mysqlLockWaitTimeout   = 1205
	mysqlDeadlock          = 1213
)

// Classify maps a driver error to a BackendErrorKind.
func Classify(err error) shardmover.BackendErrorKind {
	if err == nil {
		return shardmover.BackendOther
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return shardmover.BackendConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return shardmover.BackendConnection
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlNoSuchTable, mysqlBadDB:
			return shardmover.BackendNotFound
		case mysqlAccessDenied, mysqlDBAccessDenied, mysqlTableAccessDenied, mysqlSpecificAccess:
			return shardmover.BackendPermission
		case mysqlParseError:
			return shardmover.BackendSyntax
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return shardmover.BackendLockTimeout
		}
		return shardmover.BackendOther
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42P01", "3D000":
			return shardmover.BackendNotFound
		case "42501":
			return shardmover.BackendPermission
		case "42601":
			return shardmover.BackendSyntax
		case "55P03", "40P01":
			return shardmover.BackendLockTimeout
		}
		switch pqErr.Code.Class() {
		case "08":
			return shardmover.BackendConnection
		case "28":
			return shardmover.BackendPermission
		}
		return shardmover.BackendOther
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return shardmover.BackendLockTimeout
		case sqlite3.ErrPerm, sqlite3.ErrAuth, sqlite3.ErrReadonly:
			return shardmover.BackendPermission
		case sqlite3.ErrCantOpen:
			return shardmover.BackendConnection
		}
		msg := liteErr.Error()
		switch {
		case strings.Contains(msg, "no such table"):
			return shardmover.BackendNotFound
		case strings.Contains(msg, "syntax error"):
			return shardmover.BackendSyntax
		}
		return shardmover.BackendOther
	}

	return shardmover.BackendOther
}

// Wrap returns err as a BackendError for op on shard. A nil err stays nil.
func Wrap(shard shardmover.ShardRef, op string, err error) error {
	if err == nil {
		return nil
	}
	var be *shardmover.BackendError
	if errors.As(err, &be) {
		return err
	}
	return &shardmover.BackendError{Op: op, Shard: shard, Kind: Classify(err), Err: err}
}
