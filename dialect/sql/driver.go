package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/sensorthings/dialect"
)

// Driver runs statements on a database/sql pool.
type Driver struct {
	Conn
	dialect string
}

// NewDriver returns a Driver running statements on c.
func NewDriver(dialect string, c Conn) *Driver {
	return &Driver{dialect: dialect, Conn: c}
}

// Open opens a database registered under the dialect name.
func Open(dialect, source string) (*Driver, error) {
	return OpenDriver(dialect, dialect, source)
}

// OpenDriver opens a database with a database/sql driver whose name differs
// from the dialect, e.g. "pgx" for PostgreSQL.
func OpenDriver(driverName, dialect, source string) (*Driver, error) {
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return OpenDB(dialect, db), nil
}

// OpenDB returns a Driver on db.
func OpenDB(dialect string, db *sql.DB) *Driver {
	return NewDriver(dialect, Conn{db, dialect})
}

// DB returns the pool of the driver.
func (d Driver) DB() *sql.DB {
	return d.ExecQuerier.(*sql.DB)
}

// Dialect returns the dialect name. Names with a suffix, like
// "postgres-replica", map to their base dialect.
func (d Driver) Dialect() string {
	for _, name := range []string{dialect.MySQL, dialect.SQLite, dialect.Postgres} {
		if strings.HasPrefix(d.dialect, name) {
			return name
		}
	}
	return d.dialect
}

// Tx begins a transaction with the driver defaults.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx begins a transaction with opts.
func (d *Driver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	tx, err := d.DB().BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{Conn: Conn{tx, d.dialect}, Tx: tx}, nil
}

// Close closes the pool.
func (d *Driver) Close() error { return d.DB().Close() }

// Tx is a transaction of a Driver.
type Tx struct {
	Conn
	driver.Tx
}

// TxBeginner is implemented by drivers that start transactions with
// options. Wrapping drivers forward it to the underlying Driver.
type TxBeginner interface {
	BeginTx(context.Context, *TxOptions) (dialect.Tx, error)
}

// ParseIsolation maps a configuration value such as "serializable" or
// "read committed" to an isolation level. An empty value maps to the
// driver default.
func ParseIsolation(s string) (IsolationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", " "))) {
	case "", "default":
		return sql.LevelDefault, nil
	case "read uncommitted":
		return sql.LevelReadUncommitted, nil
	case "read committed":
		return sql.LevelReadCommitted, nil
	case "repeatable read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	default:
		return 0, fmt.Errorf("dialect/sql: unknown isolation level %q", s)
	}
}

// StatementTimeout returns the statement bounding the run time of the
// statements that follow it in the current transaction. PostgreSQL scopes
// it to the transaction; MySQL keeps it for the session and applies it to
// reads only. SQLite has no such setting and ok is false.
func StatementTimeout(name string, d time.Duration) (stmt string, ok bool) {
	if d <= 0 {
		return "", false
	}
	ms := strconv.FormatInt(d.Milliseconds(), 10)
	switch name {
	case dialect.Postgres:
		return "SET LOCAL statement_timeout = " + ms, true
	case dialect.MySQL:
		return "SET SESSION max_execution_time = " + ms, true
	default:
		return "", false
	}
}

// ExecQuerier is the statement surface shared by *sql.DB and *sql.Tx.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn adapts an ExecQuerier to dialect.ExecQuerier.
type Conn struct {
	ExecQuerier
	dialect string
}

// Exec runs a statement. v is nil or a *sql.Result receiving the result.
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, err := argList(args)
	if err != nil {
		return err
	}
	res, ok := v.(*sql.Result)
	if !ok && v != nil {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Result", v)
	}
	r, err := c.ExecContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: exec: %w", err)
	}
	if res != nil {
		*res = r
	}
	return nil
}

// Query runs a statement returning rows into v, which must be a *Rows.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	vr, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Rows", v)
	}
	argv, err := argList(args)
	if err != nil {
		return err
	}
	rows, err := c.QueryContext(ctx, query, argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	*vr = Rows{rows}
	return nil
}

func argList(args any) ([]any, error) {
	switch args := args.(type) {
	case nil:
		return nil, nil
	case []any:
		return args, nil
	default:
		return nil, fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
}

var _ dialect.Driver = (*Driver)(nil)

type (
	// Rows holds the rows of a query.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
	// TxOptions is an alias to sql.TxOptions.
	TxOptions = sql.TxOptions
	// IsolationLevel is an alias to sql.IsolationLevel.
	IsolationLevel = sql.IsolationLevel
)

// ColumnScanner is the subset of *sql.Rows used to scan results.
type ColumnScanner interface {
	Close() error
	ColumnTypes() ([]*sql.ColumnType, error)
	Columns() ([]string, error)
	Err() error
	Next() bool
	NextResultSet() bool
	Scan(dest ...any) error
}
