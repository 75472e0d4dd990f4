package backend

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/getpup/shardmover"
	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds the connection settings of one shard.
type Config struct {
	// Driver is one of mysql, postgres or sqlite3 (default: mysql).
	Driver string `toml:"driver"`

	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`

	// SSLMode is passed to PostgreSQL (default: disable).
	SSLMode string `toml:"ssl_mode" split_words:"true"`

	// Path overrides the SQLite DSN. Defaults to a shared in-memory database named after Database.
	Path string `toml:"path"`
}

// Ref returns the shard reference described by the config.
func (c Config) Ref() shardmover.ShardRef {
	return shardmover.ShardRef{Host: c.Host, Port: c.Port, Database: c.Database}
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverMySQL
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	return c
}

// DSN returns the data source name for the shard's database.
func (c Config) DSN() string {
	return c.dsn(c.Database)
}

func (c Config) dsn(database string) string {
	switch c.Driver {
	case DriverPostgres:
		params := []string{
			"host=" + pgQuote(c.Host),
			"port=" + strconv.Itoa(c.Port),
			"user=" + pgQuote(c.User),
			"password=" + pgQuote(c.Password),
			"dbname=" + pgQuote(database),
			"sslmode=" + pgQuote(c.SSLMode),
		}
		return strings.Join(params, " ")
	case DriverSQLite:
		if c.Path != "" {
			return c.Path
		}
		return fmt.Sprintf("file:%s?mode=memory&cache=shared", c.Database)
	default:
		cfg := mysql.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.DBName = database
		cfg.ParseTime = true
		return cfg.FormatDSN()
	}
}

func pgQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// SQLBackend is a Backend over database/sql.
type SQLBackend struct {
	db      *sql.DB
	config  Config
	ref     shardmover.ShardRef
	dialect Dialect
}

var _ Backend = (*SQLBackend)(nil)

// Open creates a Backend for cfg. No connection is made until the first statement.
func Open(cfg Config) (*SQLBackend, error) {
	cfg = cfg.withDefaults()

	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if err := ValidateIdentifier(cfg.Database, "database"); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Ref(), err)
	}
	if cfg.Driver == DriverSQLite {
		// A shared in-memory database lives as long as one connection does.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	return &SQLBackend{db: db, config: cfg, ref: cfg.Ref(), dialect: dialect}, nil
}

// Ref identifies the shard.
func (b *SQLBackend) Ref() shardmover.ShardRef { return b.ref }

// Dialect returns the SQL dialect of the shard.
func (b *SQLBackend) Dialect() Dialect { return b.dialect }

// DB exposes the underlying pool.
func (b *SQLBackend) DB() *sql.DB { return b.db }

// Exec runs a statement and returns the number of affected rows.
func (b *SQLBackend) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return execOn(ctx, b.db, b.ref, query, args...)
}

// Query runs a query and reads every row.
func (b *SQLBackend) Query(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	return queryOn(ctx, b.db, b.ref, query, args...)
}

// Tx runs fn inside a transaction. The transaction is rolled back when fn fails.
func (b *SQLBackend) Tx(ctx context.Context, fn func(tx Executor) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return Wrap(b.ref, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&executor{conn: tx, ref: b.ref}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return Wrap(b.ref, "commit", err)
	}
	return nil
}

// Session pins one connection from the pool.
func (b *SQLBackend) Session(ctx context.Context) (Session, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, Wrap(b.ref, "session", err)
	}
	return &session{executor: executor{conn: conn, ref: b.ref}, conn: conn}, nil
}

// EnsureDatabase creates the shard's database when missing.
// MySQL uses CREATE DATABASE IF NOT EXISTS; PostgreSQL checks pg_database first.
// SQLite databases exist as soon as they are opened.
func (b *SQLBackend) EnsureDatabase(ctx context.Context) error {
	switch b.config.Driver {
	case DriverMySQL:
		return b.withServer(ctx, "", func(db *sql.DB) error {
			_, err := db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+b.dialect.Quote(b.config.Database))
			return err
		})
	case DriverPostgres:
		return b.withServer(ctx, "postgres", func(db *sql.DB) error {
			var one int
			err := db.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", b.config.Database).Scan(&one)
			if err == nil {
				return nil
			}
			if err != sql.ErrNoRows {
				return err
			}
			_, err = db.ExecContext(ctx, "CREATE DATABASE "+b.dialect.Quote(b.config.Database))
			return err
		})
	default:
		return nil
	}
}

func (b *SQLBackend) withServer(ctx context.Context, database string, fn func(db *sql.DB) error) error {
	db, err := sql.Open(b.config.Driver, b.config.dsn(database))
	if err != nil {
		return Wrap(b.ref, "ensure database", err)
	}
	defer db.Close()

	return Wrap(b.ref, "ensure database", fn(db))
}

// CreateTable creates the table if it does not exist.
func (b *SQLBackend) CreateTable(ctx context.Context, spec shardmover.TableSpec) error {
	if err := ValidateTableSpec(spec); err != nil {
		return err
	}
	_, err := b.Exec(ctx, b.dialect.CreateTableSQL(spec))
	return err
}

// TableExists reports whether the table exists in the shard's database.
func (b *SQLBackend) TableExists(ctx context.Context, table string) (bool, error) {
	rows, err := b.Query(ctx, b.dialect.TableExistsSQL(), table)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	n, _ := rows[0].Int64("n")
	return n > 0, nil
}

// DropTable drops the table if it exists.
func (b *SQLBackend) DropTable(ctx context.Context, table string) error {
	if err := ValidateIdentifier(table, "table name"); err != nil {
		return err
	}
	_, err := b.Exec(ctx, "DROP TABLE IF EXISTS "+b.dialect.Quote(table))
	return err
}

// Close closes the pool.
func (b *SQLBackend) Close() error {
	return b.db.Close()
}

// conn is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type executor struct {
	conn conn
	ref  shardmover.ShardRef
}

func (e *executor) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	return execOn(ctx, e.conn, e.ref, query, args...)
}

func (e *executor) Query(ctx context.Context, query string, args ...interface{}) ([]Row, error) {
	return queryOn(ctx, e.conn, e.ref, query, args...)
}

type session struct {
	executor
	conn *sql.Conn
}

func (s *session) Close() error {
	return s.conn.Close()
}

func execOn(ctx context.Context, c conn, ref shardmover.ShardRef, query string, args ...interface{}) (int64, error) {
	result, err := c.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, Wrap(ref, "exec", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		// Some statements (DDL, replication control) report no count.
		return 0, nil
	}
	return n, nil
}

func queryOn(ctx context.Context, c conn, ref shardmover.ShardRef, query string, args ...interface{}) ([]Row, error) {
	rows, err := c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap(ref, "query", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, Wrap(ref, "query", err)
	}

	result := make([]Row, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, Wrap(ref, "scan", err)
		}
		for i, v := range values {
			if raw, ok := v.([]byte); ok {
				values[i] = string(raw)
			}
		}
		result = append(result, Row{Columns: columns, Values: values})
	}
	if err := rows.Err(); err != nil {
		return nil, Wrap(ref, "query", err)
	}

	return result, nil
}
