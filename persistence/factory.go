// Package persistence executes reads and writes of SensorThings entities
// inside one database transaction per request.
//
// A Factory is created once per store and opens a Manager per request:
//
//	f := persistence.NewFactory(drv, g,
//		persistence.WithBus(b),
//		persistence.WithBaseURL("https://example.org/v1.1"),
//	)
//	m, err := f.Open(ctx)
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//	if err := m.Insert(ctx, thing); err != nil {
//		return err
//	}
//	return m.Commit(ctx)
//
// Change messages are queued per mutation and handed to the bus only after
// the transaction committed.
package persistence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	sensorthings "github.com/syssam/sensorthings"
	"github.com/syssam/sensorthings/bus"
	"github.com/syssam/sensorthings/dialect"
	"github.com/syssam/sensorthings/dialect/sql"
	"github.com/syssam/sensorthings/dialect/sql/sqlgraph"
	"github.com/syssam/sensorthings/privacy"
)

// Factory opens persistence managers on one store. It is safe for
// concurrent use.
type Factory struct {
	drv          dialect.Driver
	graph        *sqlgraph.Schema
	logger       *slog.Logger
	policy       privacy.Policy
	bus          bus.Bus
	bulkMessages bool
	txOpts       *sql.TxOptions
	compile      sqlgraph.CompileOptions
	newID        func() string
	resolveBatch int
	stmtTimeout  time.Duration
}

// Option configures a Factory.
type Option func(*Factory)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithPolicy sets the privacy policy evaluated before reads and writes.
func WithPolicy(p privacy.Policy) Option {
	return func(f *Factory) { f.policy = p }
}

// WithBus sets the bus receiving the change messages of committed
// transactions. Default is bus.Discard.
func WithBus(b bus.Bus) Option {
	return func(f *Factory) { f.bus = b }
}

// WithBulkDeleteMessages enables a DELETE message per entity removed by
// DeleteWhere. The entities are read before the delete to build them.
func WithBulkDeleteMessages(enabled bool) Option {
	return func(f *Factory) { f.bulkMessages = enabled }
}

// WithIsolation sets the isolation level of the transactions, when the
// driver supports it.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(f *Factory) { f.txOpts = &sql.TxOptions{Isolation: level} }
}

// WithPaging sets the default and maximum page sizes of queries.
func WithPaging(def, max int) Option {
	return func(f *Factory) {
		f.compile.DefaultTop = def
		f.compile.MaxTop = max
	}
}

// WithBaseURL sets the service root prefixed to next links.
func WithBaseURL(u string) Option {
	return func(f *Factory) { f.compile.BaseURL = u }
}

// WithKeyGenerator sets the generator of string keys. Default generates
// random UUIDs.
func WithKeyGenerator(gen func() string) Option {
	return func(f *Factory) { f.newID = gen }
}

// WithResolveBatch sets the maximum number of keys fetched by one
// statement of Resolve. Default is 100.
func WithResolveBatch(n int) Option {
	return func(f *Factory) { f.resolveBatch = n }
}

// WithStatementTimeout bounds the run time of every statement of a
// transaction on PostgreSQL and MySQL. Zero disables it.
func WithStatementTimeout(d time.Duration) Option {
	return func(f *Factory) { f.stmtTimeout = d }
}

// NewFactory returns a factory of managers on the driver and mapping.
func NewFactory(drv dialect.Driver, g *sqlgraph.Schema, opts ...Option) *Factory {
	f := &Factory{
		drv:          drv,
		graph:        g,
		logger:       slog.Default(),
		bus:          bus.Discard,
		newID:        uuid.NewString,
		resolveBatch: 100,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.compile.Dialect = drv.Dialect()
	return f
}

// Schema returns the mapping of the factory.
func (f *Factory) Schema() *sqlgraph.Schema { return f.graph }

// Open begins a transaction and returns its manager. The caller must
// end it with Commit, Rollback or Close.
func (f *Factory) Open(ctx context.Context) (*Manager, error) {
	var (
		tx  dialect.Tx
		err error
	)
	if b, ok := f.drv.(sql.TxBeginner); ok && f.txOpts != nil {
		tx, err = b.BeginTx(ctx, f.txOpts)
	} else {
		tx, err = f.drv.Tx(ctx)
	}
	if err != nil {
		return nil, sensorthings.NewTransactionError("begin", err)
	}
	if stmt, ok := sql.StatementTimeout(f.compile.Dialect, f.stmtTimeout); ok {
		if err := tx.Exec(ctx, stmt, []any{}, nil); err != nil {
			return nil, sensorthings.NewTransactionError("begin", errors.Join(err, tx.Rollback()))
		}
	}
	f.logger.DebugContext(ctx, "persistence: begin")
	return &Manager{f: f, tx: tx}, nil
}
