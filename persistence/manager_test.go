package persistence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sensorthings "github.com/syssam/sensorthings"
	"github.com/syssam/sensorthings/bus"
	"github.com/syssam/sensorthings/dialect"
	"github.com/syssam/sensorthings/dialect/sql"
	"github.com/syssam/sensorthings/entity"
	"github.com/syssam/sensorthings/model"
	"github.com/syssam/sensorthings/persistence"
)

func mockFactory(t *testing.T, opts ...persistence.Option) (*persistence.Factory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, g, err := model.New()
	require.NoError(t, err)
	return persistence.NewFactory(sql.OpenDB(dialect.Postgres, db), g, opts...), mock
}

// expectThingInsert expects the statements of inserting one thing in the
// first savepoint of a transaction.
func expectThingInsert(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec(`^SAVEPOINT sta_sp1$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`^INSERT INTO "things"`).
		WithArgs("T1", "roof").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectQuery(`^SELECT .+ FROM "things"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "properties"}).
			AddRow(int64(1), "T1", "roof", nil))
	mock.ExpectExec(`^RELEASE SAVEPOINT sta_sp1$`).WillReturnResult(sqlmock.NewResult(0, 0))
}

func newThing(t *testing.T, f *persistence.Factory) *entity.Entity {
	t.Helper()
	typ, ok := f.Schema().Registry().Type(model.Thing)
	require.True(t, ok)
	return entity.New(typ).Set("name", "T1").Set("description", "roof")
}

func TestManager_CommitPublishes(t *testing.T) {
	mem := bus.NewMemory()
	ch, cancel := mem.Subscribe(10)
	defer cancel()
	f, mock := mockFactory(t, persistence.WithBus(mem))
	expectThingInsert(mock)
	mock.ExpectCommit()

	ctx := context.Background()
	m, err := f.Open(ctx)
	require.NoError(t, err)
	thing := newThing(t, f)
	require.NoError(t, m.Insert(ctx, thing))
	assert.Equal(t, entity.PkValue{int64(1)}, thing.ID())
	assert.Equal(t, 1, m.Pending())
	assert.Empty(t, ch, "nothing is published before the commit")

	require.NoError(t, m.Commit(ctx))
	require.Len(t, ch, 1)
	msg := <-ch
	assert.Equal(t, entity.EventCreate, msg.Event)
	name, _ := msg.Entity.Get("name")
	assert.Equal(t, "T1", name)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, m.Commit(ctx), sensorthings.ErrClosed)
	assert.ErrorIs(t, m.Insert(ctx, newThing(t, f)), sensorthings.ErrClosed)
	assert.NoError(t, m.Close())
}

func TestManager_CommitFailureDiscardsMessages(t *testing.T) {
	mem := bus.NewMemory()
	ch, cancel := mem.Subscribe(10)
	defer cancel()
	f, mock := mockFactory(t, persistence.WithBus(mem))
	expectThingInsert(mock)
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	ctx := context.Background()
	m, err := f.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Insert(ctx, newThing(t, f)))

	err = m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, sensorthings.IsTransactionError(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, ch)
	assert.Zero(t, m.Pending())
	assert.NoError(t, m.Rollback(), "rollback after a failed commit is a no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_FailedMutationRollsBackSavepoint(t *testing.T) {
	f, mock := mockFactory(t)
	reg := f.Schema().Registry()
	thingT, _ := reg.Type(model.Thing)
	sensorT, _ := reg.Type(model.Sensor)
	opT, _ := reg.Type(model.ObservedProperty)
	dsT, _ := reg.Type(model.Datastream)

	mock.ExpectBegin()
	mock.ExpectExec(`^SAVEPOINT sta_sp1$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`^SELECT "id" FROM "things" WHERE "id" = \$1 LIMIT 1$`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`^ROLLBACK TO SAVEPOINT sta_sp1$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ctx := context.Background()
	m, err := f.Open(ctx)
	require.NoError(t, err)
	ds := entity.New(dsT).
		Set("name", "temp").
		Set("description", "air temperature").
		Set("unitOfMeasurement", map[string]any{"symbol": "degC"}).
		Set("observationType", "OM_Measurement").
		SetNav("Thing", entity.Ref(thingT, int64(9))).
		SetNav("Sensor", entity.Ref(sensorT, int64(1))).
		SetNav("ObservedProperty", entity.Ref(opT, int64(1)))
	err = m.Insert(ctx, ds)
	require.Error(t, err)
	assert.True(t, sensorthings.IsNoSuchEntity(err))
	assert.Contains(t, err.Error(), "no such Thing (id=9)")
	assert.Zero(t, m.Pending())
	require.NoError(t, m.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_IncompleteEntity(t *testing.T) {
	f, mock := mockFactory(t)
	mock.ExpectBegin()
	mock.ExpectExec(`^SAVEPOINT sta_sp1$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`^ROLLBACK TO SAVEPOINT sta_sp1$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ctx := context.Background()
	m, err := f.Open(ctx)
	require.NoError(t, err)
	typ, _ := f.Schema().Registry().Type(model.Thing)
	err = m.Insert(ctx, entity.New(typ).Set("name", "T1"))
	require.Error(t, err)
	assert.True(t, sensorthings.IsIncompleteEntity(err))
	assert.Contains(t, err.Error(), `"description"`)
	require.NoError(t, m.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFactory_OpenFailure(t *testing.T) {
	level, err := sql.ParseIsolation("serializable")
	require.NoError(t, err)
	f, mock := mockFactory(t, persistence.WithIsolation(level))
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
	_, err = f.Open(context.Background())
	require.Error(t, err)
	assert.True(t, sensorthings.IsTransactionError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFactory_StatementTimeout(t *testing.T) {
	f, mock := mockFactory(t, persistence.WithStatementTimeout(1500*time.Millisecond))
	mock.ExpectBegin()
	mock.ExpectExec(`^SET LOCAL statement_timeout = 1500$`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	m, err := f.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectBegin()
	mock.ExpectExec(`^SET LOCAL statement_timeout`).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()
	_, err = f.Open(context.Background())
	require.Error(t, err)
	assert.True(t, sensorthings.IsTransactionError(err))
	assert.Contains(t, err.Error(), "permission denied")
	require.NoError(t, mock.ExpectationsWereMet())
}
