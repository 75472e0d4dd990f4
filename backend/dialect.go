package backend

import (
	"fmt"
	"strings"

	"github.com/getpup/shardmover"
)

// Dialect renders the SQL that differs between engines.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string

	// Quote quotes an identifier that already passed ValidateIdentifier.
	Quote(ident string) string

	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string

	// CreateTableSQL renders an idempotent CREATE TABLE.
	CreateTableSQL(spec shardmover.TableSpec) string

	// UpsertSQL renders a single-row insert that overwrites an existing row with the same key.
	UpsertSQL(spec shardmover.TableSpec) string

	// TableExistsSQL renders a query returning one row with column n, bound to the table name.
	TableExistsSQL() string

	// ChecksumSQL renders the engine's table checksum query, or "" when there is none.
	ChecksumSQL(table string) string

	// SupportsBinlog reports whether the engine can stream row changes to a replica.
	SupportsBinlog() bool
}

// Driver names accepted by Open.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DialectFor returns the dialect of a driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverMySQL:
		return MySQL{}, nil
	case DriverPostgres:
		return Postgres{}, nil
	case DriverSQLite:
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

// SelectAllSQL renders a SELECT of every declared column ordered by the primary key.
func SelectAllSQL(d Dialect, spec shardmover.TableSpec) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		quoteList(d, spec.ColumnNames()), d.Quote(spec.Name), quoteList(d, spec.PrimaryKey))
}

// SelectKeysSQL renders a SELECT of the primary key columns.
func SelectKeysSQL(d Dialect, spec shardmover.TableSpec) string {
	return fmt.Sprintf("SELECT %s FROM %s", quoteList(d, spec.PrimaryKey), d.Quote(spec.Name))
}

// DeleteByKeySQL renders a DELETE of one row identified by its primary key.
func DeleteByKeySQL(d Dialect, spec shardmover.TableSpec) string {
	conds := make([]string, len(spec.PrimaryKey))
	for i, k := range spec.PrimaryKey {
		conds[i] = fmt.Sprintf("%s = %s", d.Quote(k), d.Placeholder(i+1))
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", d.Quote(spec.Name), strings.Join(conds, " AND "))
}

// CountSQL renders a row count query returning column n.
func CountSQL(d Dialect, table string) string {
	return fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", d.Quote(table))
}

func quoteList(d Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

func placeholders(d Dialect, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = d.Placeholder(i + 1)
	}
	return strings.Join(p, ", ")
}

func createTableSQL(d Dialect, spec shardmover.TableSpec, suffix string) string {
	defs := make([]string, 0, len(spec.Columns)+1)
	for _, c := range spec.Columns {
		defs = append(defs, fmt.Sprintf("%s %s", d.Quote(c.Name), c.Type))
	}
	defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(d, spec.PrimaryKey)))
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)%s", d.Quote(spec.Name), strings.Join(defs, ", "), suffix)
}

func nonKeyColumns(spec shardmover.TableSpec) []string {
	keys := make(map[string]bool, len(spec.PrimaryKey))
	for _, k := range spec.PrimaryKey {
		keys[k] = true
	}
	var cols []string
	for _, c := range spec.Columns {
		if !keys[c.Name] {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// onConflictUpsert is shared by PostgreSQL and SQLite.
func onConflictUpsert(d Dialect, spec shardmover.TableSpec) string {
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		d.Quote(spec.Name), quoteList(d, spec.ColumnNames()), placeholders(d, len(spec.Columns)), quoteList(d, spec.PrimaryKey))

	cols := nonKeyColumns(spec)
	if len(cols) == 0 {
		return insert + " DO NOTHING"
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = excluded.%s", d.Quote(c), d.Quote(c))
	}
	return insert + " DO UPDATE SET " + strings.Join(sets, ", ")
}

// MySQL is the MySQL/MariaDB dialect.
type MySQL struct{}

func (MySQL) Name() string { return DriverMySQL }

func (MySQL) Quote(ident string) string { return "`" + ident + "`" }

func (MySQL) Placeholder(int) string { return "?" }

func (d MySQL) CreateTableSQL(spec shardmover.TableSpec) string {
	return createTableSQL(d, spec, " ENGINE=InnoDB")
}

func (d MySQL) UpsertSQL(spec shardmover.TableSpec) string {
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE ",
		d.Quote(spec.Name), quoteList(d, spec.ColumnNames()), placeholders(d, len(spec.Columns)))

	cols := nonKeyColumns(spec)
	if len(cols) == 0 {
		k := d.Quote(spec.PrimaryKey[0])
		return insert + k + " = " + k
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", d.Quote(c), d.Quote(c))
	}
	return insert + strings.Join(sets, ", ")
}

func (MySQL) TableExistsSQL() string {
	return "SELECT COUNT(*) AS n FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?"
}

func (d MySQL) ChecksumSQL(table string) string {
	return "CHECKSUM TABLE " + d.Quote(table)
}

func (MySQL) SupportsBinlog() bool { return true }

// Postgres is the PostgreSQL dialect.
type Postgres struct{}

func (Postgres) Name() string { return DriverPostgres }

func (Postgres) Quote(ident string) string { return `"` + ident + `"` }

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (d Postgres) CreateTableSQL(spec shardmover.TableSpec) string {
	return createTableSQL(d, spec, "")
}

func (d Postgres) UpsertSQL(spec shardmover.TableSpec) string {
	return onConflictUpsert(d, spec)
}

func (Postgres) TableExistsSQL() string {
	return "SELECT COUNT(*) AS n FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
}

func (Postgres) ChecksumSQL(string) string { return "" }

func (Postgres) SupportsBinlog() bool { return false }

// SQLite is the SQLite dialect. It backs tests and local examples.
type SQLite struct{}

func (SQLite) Name() string { return DriverSQLite }

func (SQLite) Quote(ident string) string { return `"` + ident + `"` }

func (SQLite) Placeholder(int) string { return "?" }

func (d SQLite) CreateTableSQL(spec shardmover.TableSpec) string {
	return createTableSQL(d, spec, "")
}

func (d SQLite) UpsertSQL(spec shardmover.TableSpec) string {
	return onConflictUpsert(d, spec)
}

func (SQLite) TableExistsSQL() string {
	return "SELECT COUNT(*) AS n FROM sqlite_master WHERE type = 'table' AND name = ?"
}

func (SQLite) ChecksumSQL(string) string { return "" }

func (SQLite) SupportsBinlog() bool { return false }
