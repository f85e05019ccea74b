package sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/syssam/sensorthings/dialect"
)

// StmtKind classifies a statement by its leading keyword.
type StmtKind uint8

// Statement kinds.
const (
	KindOther StmtKind = iota
	KindSelect
	KindInsert
	KindUpdate
	KindDelete
	KindSavepoint
	numKinds
)

var kindNames = [...]string{
	KindOther:     "other",
	KindSelect:    "select",
	KindInsert:    "insert",
	KindUpdate:    "update",
	KindDelete:    "delete",
	KindSavepoint: "savepoint",
}

func (k StmtKind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return kindNames[KindOther]
}

// Kind returns the kind of the statement. SAVEPOINT, RELEASE and ROLLBACK TO
// statements count as savepoints.
func Kind(stmt string) StmtKind {
	stmt = strings.TrimLeft(stmt, " \t\n(")
	word, _, _ := strings.Cut(stmt, " ")
	switch strings.ToUpper(word) {
	case "SELECT", "WITH":
		return KindSelect
	case "INSERT":
		return KindInsert
	case "UPDATE":
		return KindUpdate
	case "DELETE":
		return KindDelete
	case "SAVEPOINT", "RELEASE", "ROLLBACK":
		return KindSavepoint
	default:
		return KindOther
	}
}

// Stats counts the statements and transactions run through a StatsDriver.
// It is safe for concurrent use.
type Stats struct {
	stmts     [numKinds]atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
	errors    atomic.Int64
	slow      atomic.Int64
	duration  atomic.Int64
}

// Snapshot returns the current values.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Statements: make(map[string]int64),
		Commits:    s.commits.Load(),
		Rollbacks:  s.rollbacks.Load(),
		Errors:     s.errors.Load(),
		Slow:       s.slow.Load(),
		Duration:   time.Duration(s.duration.Load()),
	}
	for k := range s.stmts {
		if n := s.stmts[k].Load(); n > 0 {
			snap.Statements[StmtKind(k).String()] = n
		}
	}
	return snap
}

// Reset sets all counters to zero.
func (s *Stats) Reset() {
	for k := range s.stmts {
		s.stmts[k].Store(0)
	}
	for _, c := range []*atomic.Int64{&s.commits, &s.rollbacks, &s.errors, &s.slow, &s.duration} {
		c.Store(0)
	}
}

func (s *Stats) record(stmt string, d time.Duration, err error, slow bool) {
	s.stmts[Kind(stmt)].Add(1)
	s.duration.Add(int64(d))
	if err != nil {
		s.errors.Add(1)
	}
	if slow {
		s.slow.Add(1)
	}
}

// StatsSnapshot is a point-in-time copy of Stats. Statements holds the
// count per statement kind.
type StatsSnapshot struct {
	Statements map[string]int64
	Commits    int64
	Rollbacks  int64
	Errors     int64
	Slow       int64
	Duration   time.Duration
}

// Total returns the number of statements.
func (s StatsSnapshot) Total() int64 {
	var n int64
	for _, c := range s.Statements {
		n += c
	}
	return n
}

// Avg returns the average statement duration.
func (s StatsSnapshot) Avg() time.Duration {
	if n := s.Total(); n > 0 {
		return s.Duration / time.Duration(n)
	}
	return 0
}

// String formats the snapshot as key=value pairs.
func (s StatsSnapshot) String() string {
	var b strings.Builder
	for k := KindSelect; k < numKinds; k++ {
		fmt.Fprintf(&b, "%s=%d ", k, s.Statements[k.String()])
	}
	fmt.Fprintf(&b, "commits=%d rollbacks=%d errors=%d slow=%d avg=%s", s.Commits, s.Rollbacks, s.Errors, s.Slow, s.Avg())
	return b.String()
}

// SlowQueryHook is called with every statement slower than the threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, d time.Duration)

// StatsDriver is a Driver that counts statements and reports slow ones.
type StatsDriver struct {
	*Driver
	stats     *Stats
	threshold atomic.Int64
	hook      SlowQueryHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which statements are slow.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) { s.threshold.Store(int64(d)) }
}

// WithSlowQueryHook sets the function called with slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) { s.hook = hook }
}

// WithSlowQueryLog logs slow statements at warn level, to slog.Default()
// when logger is nil.
func WithSlowQueryLog(logger *slog.Logger) StatsOption {
	if logger == nil {
		logger = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, d time.Duration) {
		logger.WarnContext(ctx, "sql: slow statement", "duration", d, "statement", query, "args", args)
	})
}

// NewStatsDriver wraps drv:
//
//	drv := sql.NewStatsDriver(conn,
//		sql.WithSlowThreshold(200*time.Millisecond),
//		sql.WithSlowQueryLog(logger),
//	)
//	f := persistence.NewFactory(drv, mapping)
//	...
//	fmt.Println(drv.Stats().Snapshot())
func NewStatsDriver(drv *Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{Driver: drv, stats: &Stats{}}
	s.threshold.Store(int64(100 * time.Millisecond))
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the counters of the driver.
func (d *StatsDriver) Stats() *Stats { return d.stats }

// SlowThreshold returns the slow statement threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	return time.Duration(d.threshold.Load())
}

// SetSlowThreshold changes the slow statement threshold. It is safe to call
// while statements run.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.threshold.Store(int64(threshold))
}

// Query implements the dialect.ExecQuerier interface.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	return d.run(ctx, d.Driver.Query, query, args, v)
}

// Exec implements the dialect.ExecQuerier interface.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	return d.run(ctx, d.Driver.Exec, query, args, v)
}

func (d *StatsDriver) run(ctx context.Context, fn func(context.Context, string, any, any) error, query string, args, v any) error {
	start := time.Now()
	err := fn(ctx, query, args, v)
	elapsed := time.Since(start)
	slow := elapsed > d.SlowThreshold()
	d.stats.record(query, elapsed, err, slow)
	if slow && d.hook != nil {
		argv, _ := args.([]any)
		d.hook(ctx, query, argv, elapsed)
	}
	return err
}

// Tx implements the dialect.Driver interface.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction whose statements are counted too.
func (d *StatsDriver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	tx, err := d.Driver.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &StatsTx{Tx: tx, driver: d}, nil
}

// StatsTx is a transaction of a StatsDriver.
type StatsTx struct {
	dialect.Tx
	driver *StatsDriver
}

// Query implements the dialect.ExecQuerier interface.
func (tx *StatsTx) Query(ctx context.Context, query string, args, v any) error {
	return tx.driver.run(ctx, tx.Tx.Query, query, args, v)
}

// Exec implements the dialect.ExecQuerier interface.
func (tx *StatsTx) Exec(ctx context.Context, query string, args, v any) error {
	return tx.driver.run(ctx, tx.Tx.Exec, query, args, v)
}

// Commit commits the transaction and counts it.
func (tx *StatsTx) Commit() error {
	err := tx.Tx.Commit()
	if err == nil {
		tx.driver.stats.commits.Add(1)
	} else {
		tx.driver.stats.errors.Add(1)
	}
	return err
}

// Rollback rolls the transaction back and counts it.
func (tx *StatsTx) Rollback() error {
	tx.driver.stats.rollbacks.Add(1)
	return tx.Tx.Rollback()
}

// DebugDriver is a Driver that logs every statement and transaction at
// debug level.
type DebugDriver struct {
	*Driver
	logger *slog.Logger
}

// NewDebugDriver wraps drv. A nil logger logs to slog.Default().
func NewDebugDriver(drv *Driver, logger *slog.Logger) *DebugDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DebugDriver{Driver: drv, logger: logger}
}

// Query implements the dialect.ExecQuerier interface.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.logger.DebugContext(ctx, "sql: query", "statement", query, "args", args)
	return d.Driver.Query(ctx, query, args, v)
}

// Exec implements the dialect.ExecQuerier interface.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.logger.DebugContext(ctx, "sql: exec", "statement", query, "args", args)
	return d.Driver.Exec(ctx, query, args, v)
}

// Tx implements the dialect.Driver interface.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	return d.BeginTx(ctx, nil)
}

// BeginTx starts a transaction whose statements are logged too. Every
// transaction gets a sequence number that its log records carry.
func (d *DebugDriver) BeginTx(ctx context.Context, opts *TxOptions) (dialect.Tx, error) {
	logger := d.logger.With("tx", txSeq.Add(1))
	if opts != nil {
		logger.DebugContext(ctx, "sql: begin", "isolation", opts.Isolation.String())
	} else {
		logger.DebugContext(ctx, "sql: begin")
	}
	tx, err := d.Driver.BeginTx(ctx, opts)
	if err != nil {
		logger.DebugContext(ctx, "sql: begin failed", "error", err)
		return nil, err
	}
	return &DebugTx{Tx: tx, ctx: ctx, logger: logger}, nil
}

var txSeq atomic.Uint64

// DebugTx is a transaction of a DebugDriver.
type DebugTx struct {
	dialect.Tx
	ctx    context.Context
	logger *slog.Logger
}

// Query implements the dialect.ExecQuerier interface.
func (tx *DebugTx) Query(ctx context.Context, query string, args, v any) error {
	tx.logger.DebugContext(ctx, "sql: query", "statement", query, "args", args)
	return tx.Tx.Query(ctx, query, args, v)
}

// Exec implements the dialect.ExecQuerier interface.
func (tx *DebugTx) Exec(ctx context.Context, query string, args, v any) error {
	tx.logger.DebugContext(ctx, "sql: exec", "statement", query, "args", args)
	return tx.Tx.Exec(ctx, query, args, v)
}

// Commit commits the transaction and logs the outcome.
func (tx *DebugTx) Commit() error {
	err := tx.Tx.Commit()
	tx.logger.DebugContext(tx.ctx, "sql: commit", "error", err)
	return err
}

// Rollback rolls the transaction back and logs the outcome.
func (tx *DebugTx) Rollback() error {
	err := tx.Tx.Rollback()
	tx.logger.DebugContext(tx.ctx, "sql: rollback", "error", err)
	return err
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*StatsTx)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*DebugTx)(nil)
	_ TxBeginner     = (*StatsDriver)(nil)
	_ TxBeginner     = (*DebugDriver)(nil)
)
