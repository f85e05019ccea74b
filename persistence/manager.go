package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sensorthings "github.com/syssam/sensorthings"
	"github.com/syssam/sensorthings/dialect"
	"github.com/syssam/sensorthings/dialect/sql/sqlgraph"
	"github.com/syssam/sensorthings/entity"
)

// Manager reads and writes entities in one transaction. A manager serves
// one request and must not be used by concurrent goroutines, except for
// Rollback and Close which may be called at any time.
type Manager struct {
	f  *Factory
	tx dialect.Tx

	mu       sync.Mutex
	closed   bool
	messages []*entity.ChangedMessage

	savepoints int
}

var _ sqlgraph.Linker = (*Manager)(nil)

// Exec implements dialect.ExecQuerier on the transaction.
func (m *Manager) Exec(ctx context.Context, query string, args, v any) error {
	return m.tx.Exec(ctx, query, args, v)
}

// Query implements dialect.ExecQuerier on the transaction.
func (m *Manager) Query(ctx context.Context, query string, args, v any) error {
	return m.tx.Query(ctx, query, args, v)
}

// Dialect returns the dialect of the store.
func (m *Manager) Dialect() string { return m.f.drv.Dialect() }

// check returns ErrClosed once the transaction ended.
func (m *Manager) check() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return sensorthings.ErrClosed
	}
	return nil
}

func (m *Manager) queue(msg *entity.ChangedMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

// Pending returns the number of queued change messages.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// mutate runs fn inside a savepoint. When fn fails, its statements and
// queued messages are discarded and the transaction stays usable.
func (m *Manager) mutate(ctx context.Context, fn func(context.Context) error) (err error) {
	if err := m.check(); err != nil {
		return err
	}
	m.savepoints++
	name := fmt.Sprintf("sta_sp%d", m.savepoints)
	if err := m.tx.Exec(ctx, "SAVEPOINT "+name, []any{}, nil); err != nil {
		return sensorthings.NewTransactionError("savepoint", err)
	}
	m.mu.Lock()
	mark := len(m.messages)
	m.mu.Unlock()
	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.messages = m.messages[:mark]
		m.mu.Unlock()
		if rerr := m.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name, []any{}, nil); rerr != nil {
			err = errors.Join(err, sensorthings.NewTransactionError("rollback to savepoint", rerr))
		}
		return err
	}
	if err := m.tx.Exec(ctx, "RELEASE SAVEPOINT "+name, []any{}, nil); err != nil {
		return sensorthings.NewTransactionError("release savepoint", err)
	}
	return nil
}

// Commit commits the transaction and then publishes the queued change
// messages. When the commit fails, no message is published.
func (m *Manager) Commit(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return sensorthings.ErrClosed
	}
	m.closed = true
	msgs := m.messages
	m.messages = nil
	m.mu.Unlock()

	if err := m.tx.Commit(); err != nil {
		m.f.logger.WarnContext(ctx, "persistence: commit failed", "discarded", len(msgs), "error", err)
		return sensorthings.NewTransactionError("commit", err)
	}
	m.f.logger.DebugContext(ctx, "persistence: commit", "messages", len(msgs))
	for _, msg := range msgs {
		m.f.bus.Publish(msg)
	}
	return nil
}

// Rollback rolls the transaction back and discards the queued messages.
// It is a no-op on an ended transaction.
func (m *Manager) Rollback() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.messages = nil
	m.mu.Unlock()

	if err := m.tx.Rollback(); err != nil {
		return sensorthings.NewTransactionError("rollback", err)
	}
	m.f.logger.Debug("persistence: rollback")
	return nil
}

// Close rolls back the transaction if it was not committed.
func (m *Manager) Close() error {
	return m.Rollback()
}
