package sqlgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sensorthings "github.com/syssam/sensorthings"
	"github.com/syssam/sensorthings/dialect"
	"github.com/syssam/sensorthings/dialect/sql"
	"github.com/syssam/sensorthings/entity"
)

// mockLinker runs statements on a sqlmock database and hands out keys for
// inserted entities.
type mockLinker struct {
	*sql.Driver
	inserted []*entity.Entity
}

func (l *mockLinker) Insert(_ context.Context, e *entity.Entity) error {
	l.inserted = append(l.inserted, e)
	e.SetID(int64(100 + len(l.inserted)))
	return nil
}

func newMockLinker(t *testing.T, d string) (*mockLinker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &mockLinker{Driver: sql.OpenDB(d, db)}, mock
}

func edge(t *testing.T, g *Schema, typ, nav string) *Edge {
	t.Helper()
	n, ok := g.Node(typ)
	require.True(t, ok)
	e, ok := n.Edges[nav]
	require.True(t, ok)
	return e
}

func TestManyToMany_Link(t *testing.T) {
	g := testSchema(t)
	reg := g.Registry()
	user, _ := reg.Type("User")
	group, _ := reg.Type("Group")
	rel := edge(t, g, "User", "Groups").Relation

	t.Run("Existing", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.SQLite)
		mock.ExpectQuery("SELECT `id` FROM `groups` WHERE `id` = ? LIMIT 1").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectExec("INSERT INTO `user_groups` (`user_id`, `group_id`) VALUES (?, ?)").
			WithArgs(1, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		err := rel.Link(context.Background(), l, entity.Ref(user, 1), entity.Ref(group, 2), false)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.SQLite)
		mock.ExpectQuery("SELECT `id` FROM `groups` WHERE `id` = ? LIMIT 1").
			WithArgs(9).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		err := rel.Link(context.Background(), l, entity.Ref(user, 1), entity.Ref(group, 9), false)
		assert.True(t, sensorthings.IsNoSuchEntity(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Insert", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.Postgres)
		mock.ExpectExec(`INSERT INTO "user_groups" ("user_id", "group_id") VALUES ($1, $2)`).
			WithArgs(1, 101).
			WillReturnResult(sqlmock.NewResult(0, 1))
		target := entity.New(group).Set("name", "admins")
		err := rel.Link(context.Background(), l, entity.Ref(user, 1), target, true)
		require.NoError(t, err)
		require.Len(t, l.inserted, 1)
		assert.Same(t, target, l.inserted[0])
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Duplicate", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.SQLite)
		mock.ExpectQuery("SELECT `id` FROM `groups` WHERE `id` = ? LIMIT 1").
			WithArgs(2).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectExec("INSERT INTO `user_groups` (`user_id`, `group_id`) VALUES (?, ?)").
			WithArgs(1, 2).
			WillReturnError(errors.New("UNIQUE constraint failed: user_groups.user_id, user_groups.group_id"))
		err := rel.Link(context.Background(), l, entity.Ref(user, 1), entity.Ref(group, 2), false)
		require.Error(t, err)
		var cerr *ConstraintError
		assert.True(t, errors.As(err, &cerr))
		assert.True(t, IsUniqueConstraintError(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SourceWithoutKey", func(t *testing.T) {
		l, _ := newMockLinker(t, dialect.SQLite)
		err := rel.Link(context.Background(), l, entity.New(user), entity.Ref(group, 2), false)
		assert.True(t, sensorthings.IsNoSuchEntity(err))
	})
}

func TestManyToMany_Unlink(t *testing.T) {
	g := testSchema(t)
	reg := g.Registry()
	user, _ := reg.Type("User")
	group, _ := reg.Type("Group")

	t.Run("SQLite", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.SQLite)
		mock.ExpectExec("DELETE FROM `user_groups` WHERE rowid IN (SELECT rowid FROM `user_groups` WHERE `user_id` = ? AND `group_id` = ? LIMIT 1)").
			WithArgs(1, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		err := edge(t, g, "User", "Groups").Relation.Unlink(context.Background(), l, entity.Ref(user, 1), entity.Ref(group, 2))
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MySQLInverse", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.MySQL)
		mock.ExpectExec("DELETE FROM `user_groups` WHERE `group_id` = ? AND `user_id` = ? LIMIT 1").
			WithArgs(2, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		err := edge(t, g, "Group", "Users").Relation.Unlink(context.Background(), l, entity.Ref(group, 2), entity.Ref(user, 1))
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotLinked", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.Postgres)
		mock.ExpectExec(`DELETE FROM "user_groups" WHERE ctid IN (SELECT ctid FROM "user_groups" WHERE "user_id" = $1 AND "group_id" = $2 LIMIT 1)`).
			WithArgs(1, 2).
			WillReturnResult(sqlmock.NewResult(0, 0))
		err := edge(t, g, "User", "Groups").Relation.Unlink(context.Background(), l, entity.Ref(user, 1), entity.Ref(group, 2))
		assert.True(t, sensorthings.IsNoSuchEntity(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestManyToManyOrdered_Link(t *testing.T) {
	g := testSchema(t)
	reg := g.Registry()
	user, _ := reg.Type("User")
	card, _ := reg.Type("Card")
	rel := edge(t, g, "User", "Cards").Relation

	t.Run("MySQL", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.MySQL)
		mock.ExpectQuery("SELECT `id` FROM `cards` WHERE `id` = ? LIMIT 1").
			WithArgs(5).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
		mock.ExpectQuery("SELECT `id` FROM `users` WHERE `id` = ? FOR UPDATE").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec("INSERT INTO `user_cards` (`user_id`, `card_id`, `position`) SELECT ?, ?, COUNT(*) FROM `user_cards` WHERE `user_id` = ?").
			WithArgs(1, 5, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		err := rel.Link(context.Background(), l, entity.Ref(user, 1), entity.Ref(card, 5), false)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Postgres", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.Postgres)
		mock.ExpectQuery(`SELECT "id" FROM "cards" WHERE "id" = $1 LIMIT 1`).
			WithArgs(5).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
		mock.ExpectQuery(`SELECT "id" FROM "users" WHERE "id" = $1 FOR UPDATE`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec(`INSERT INTO "user_cards" ("user_id", "card_id", "position") VALUES ($1, $2, (SELECT COUNT(*) FROM "user_cards" WHERE "user_id" = $3))`).
			WithArgs(1, 5, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		err := rel.Link(context.Background(), l, entity.Ref(user, 1), entity.Ref(card, 5), false)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("FromTarget", func(t *testing.T) {
		// Linking from a card still groups the order by user.
		l, mock := newMockLinker(t, dialect.SQLite)
		mock.ExpectQuery("SELECT `id` FROM `users` WHERE `id` = ? LIMIT 1").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec("UPDATE `user_cards` SET `position` = `position` WHERE `user_id` = ?").
			WithArgs(1).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO `user_cards` (`card_id`, `user_id`, `position`) VALUES (?, ?, (SELECT COUNT(*) FROM `user_cards` WHERE `user_id` = ?))").
			WithArgs(5, 1, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		err := edge(t, g, "Card", "Holders").Relation.Link(context.Background(), l, entity.Ref(card, 5), entity.Ref(user, 1), false)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

// Two managers linking into the same empty group: each takes the owner row
// lock before it counts the group.
func TestManyToManyOrdered_LockBeforeCount(t *testing.T) {
	g := testSchema(t)
	reg := g.Registry()
	user, _ := reg.Type("User")
	card, _ := reg.Type("Card")
	rel := edge(t, g, "User", "Cards").Relation

	for i, id := range []int{5, 6} {
		l, mock := newMockLinker(t, dialect.Postgres)
		mock.MatchExpectationsInOrder(true)
		mock.ExpectQuery(`SELECT "id" FROM "cards" WHERE "id" = $1 LIMIT 1`).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
		mock.ExpectQuery(`SELECT "id" FROM "users" WHERE "id" = $1 FOR UPDATE`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		mock.ExpectExec(`INSERT INTO "user_cards" ("user_id", "card_id", "position") VALUES ($1, $2, (SELECT COUNT(*) FROM "user_cards" WHERE "user_id" = $3))`).
			WithArgs(1, id, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, rel.Link(context.Background(), l, entity.Ref(user, 1), entity.Ref(card, id), false), "link %d", i)
		require.NoError(t, mock.ExpectationsWereMet())
	}

	t.Run("MissingOwner", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.MySQL)
		mock.ExpectQuery("SELECT `id` FROM `cards` WHERE `id` = ? LIMIT 1").
			WithArgs(5).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
		mock.ExpectQuery("SELECT `id` FROM `users` WHERE `id` = ? FOR UPDATE").
			WithArgs(9).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		err := rel.Link(context.Background(), l, entity.Ref(user, 9), entity.Ref(card, 5), false)
		assert.True(t, sensorthings.IsNoSuchEntity(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestManyToManyOrdered_Unlink(t *testing.T) {
	g := testSchema(t)
	reg := g.Registry()
	user, _ := reg.Type("User")
	card, _ := reg.Type("Card")
	rel := edge(t, g, "Card", "Holders").Relation

	t.Run("ClosesGap", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.SQLite)
		mock.ExpectExec("UPDATE `user_cards` SET `position` = `position` WHERE `user_id` = ?").
			WithArgs(1).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectQuery("SELECT `position` FROM `user_cards` WHERE `card_id` = ? AND `user_id` = ? ORDER BY `position` LIMIT 1").
			WithArgs(5, 1).
			WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(int64(1)))
		mock.ExpectExec("DELETE FROM `user_cards` WHERE `card_id` = ? AND `user_id` = ? AND `position` = ?").
			WithArgs(5, 1, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE `user_cards` SET `position` = `position` + ? WHERE `user_id` = ? AND `position` > ?").
			WithArgs(-1, 1, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		err := rel.Unlink(context.Background(), l, entity.Ref(card, 5), entity.Ref(user, 1))
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotLinked", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.SQLite)
		mock.ExpectExec("UPDATE `user_cards` SET `position` = `position` WHERE `user_id` = ?").
			WithArgs(1).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT `position` FROM `user_cards` WHERE `card_id` = ? AND `user_id` = ? ORDER BY `position` LIMIT 1").
			WithArgs(5, 1).
			WillReturnRows(sqlmock.NewRows([]string{"position"}))
		err := rel.Unlink(context.Background(), l, entity.Ref(card, 5), entity.Ref(user, 1))
		assert.True(t, sensorthings.IsNoSuchEntity(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOneToMany(t *testing.T) {
	g := testSchema(t)
	reg := g.Registry()
	user, _ := reg.Type("User")
	pet, _ := reg.Type("Pet")
	pets := edge(t, g, "User", "Pets").Relation

	t.Run("LinkExisting", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.MySQL)
		mock.ExpectExec("UPDATE `pets` SET `owner_id` = ? WHERE `id` = ?").
			WithArgs(1, 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, pets.Link(context.Background(), l, entity.Ref(user, 1), entity.Ref(pet, 3), false))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("LinkMissing", func(t *testing.T) {
		l, mock := newMockLinker(t, dialect.MySQL)
		mock.ExpectExec("UPDATE `pets` SET `owner_id` = ? WHERE `id` = ?").
			WithArgs(1, 3).
			WillReturnResult(sqlmock.NewResult(0, 0))
		err := pets.Link(context.Background(), l, entity.Ref(user, 1), entity.Ref(pet, 3), false)
		assert.True(t, sensorthings.IsNoSuchEntity(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("LinkNew", func(t *testing.T) {
		l, _ := newMockLinker(t, dialect.MySQL)
		target := entity.New(pet).Set("name", "pedro")
		require.NoError(t, pets.Link(context.Background(), l, entity.Ref(user, 1), target, true))
		require.Len(t, l.inserted, 1)
		owner, ok := target.Nav("Owner")
		require.True(t, ok)
		assert.Equal(t, 1, owner.ID().Single())
	})

	t.Run("Unsupported", func(t *testing.T) {
		l, _ := newMockLinker(t, dialect.MySQL)
		owner := edge(t, g, "Pet", "Owner").Relation
		err := owner.Link(context.Background(), l, entity.Ref(pet, 3), entity.Ref(user, 1), false)
		assert.True(t, sensorthings.IsUnsupportedRelation(err))
		err = pets.Unlink(context.Background(), l, entity.Ref(user, 1), entity.Ref(pet, 3))
		assert.True(t, sensorthings.IsUnsupportedRelation(err))
	})
}
