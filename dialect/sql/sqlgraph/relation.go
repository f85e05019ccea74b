package sqlgraph

import (
	"context"
	"fmt"

	sensorthings "github.com/syssam/sensorthings"
	"github.com/syssam/sensorthings/dialect"
	"github.com/syssam/sensorthings/dialect/sql"
	"github.com/syssam/sensorthings/entity"
)

// Relation is the join and link strategy of one navigation property. It is
// implemented by OneToMany, ManyToMany and ManyToManyOrdered only.
type Relation interface {
	// Join returns the reference to the target side of the relation as seen
	// from src. Joins are materialized lazily by the returned reference.
	Join(qs *QueryState, src *TableRef) (*TableRef, error)
	// Link relates source to target. With forInsert, a target without key
	// is created first through the Linker.
	Link(ctx context.Context, l Linker, source, target *entity.Entity, forInsert bool) error
	// Unlink removes the relation between source and target.
	Unlink(ctx context.Context, l Linker, source, target *entity.Entity) error
	// Distinct reports whether joining the relation may duplicate rows of
	// the source.
	Distinct() bool

	relation()
}

// Linker is the write access relations need: statement execution in the
// current transaction, and insertion of dependent entities.
type Linker interface {
	dialect.ExecQuerier
	Dialect() string
	// Insert inserts a new entity with its links and sets its key.
	Insert(ctx context.Context, e *entity.Entity) error
}

// OneToMany is a relation through a foreign key column. The edge is O2M
// when the foreign key is on the target table, M2O when it is on the
// source table.
type OneToMany struct {
	edge *Edge
}

// Distinct reports whether the join goes toward the set-valued side.
func (r *OneToMany) Distinct() bool { return r.edge.Spec.Rel == O2M }

// Join implements Relation.
func (r *OneToMany) Join(qs *QueryState, src *TableRef) (*TableRef, error) {
	if err := checkSource(r.edge, src); err != nil {
		return nil, err
	}
	e, fk := r.edge, r.edge.Spec.Columns[0]
	t := qs.newRef(e.To, src, e.To.Table)
	t.distinct = r.Distinct()
	if e.Spec.Rel == O2M {
		t.on = func() *sql.Predicate { return sql.ColumnsEQ(t.table.C(fk), src.Key()) }
		t.equals[fk] = colRef{ref: src, column: e.From.ID.Column}
	} else {
		t.on = func() *sql.Predicate { return sql.ColumnsEQ(t.table.C(e.To.ID.Column), src.C(fk)) }
		t.equals[e.To.ID.Column] = colRef{ref: src, column: fk}
	}
	return t, nil
}

// Link points the foreign key of target at source. The target must own the
// foreign key: links from the foreign key side are written with the row.
func (r *OneToMany) Link(ctx context.Context, l Linker, source, target *entity.Entity, forInsert bool) error {
	e := r.edge
	if e.Spec.Rel != O2M {
		return sensorthings.NewUnsupportedRelationError(e.Name, "link", "the foreign key is owned by the source")
	}
	if !source.HasID() {
		return sensorthings.NewNoSuchEntityError(e.From.Type, nil)
	}
	switch {
	case target.HasID() && (target.IsRef() || !forInsert):
		id, err := e.To.ID.Value(target.ID().Single())
		if err != nil {
			return err
		}
		fk, err := e.From.ID.Value(source.ID().Single())
		if err != nil {
			return err
		}
		query, args := sql.Dialect(l.Dialect()).
			Update(e.To.Table).
			Set(e.Spec.Columns[0], fk).
			Where(sql.EQ(e.To.ID.Column, id)).
			Query()
		n, err := execAffected(ctx, l, query, args)
		if err != nil {
			return err
		}
		if n == 0 {
			return sensorthings.NewNoSuchEntityError(e.To.Type, target.ID().Single())
		}
		return nil
	case forInsert:
		inv, ok := e.Inverse()
		if !ok {
			return sensorthings.NewUnsupportedRelationError(e.Name, "link", "no inverse navigation property to set")
		}
		target.SetNav(inv.Name, entity.Ref(source.Type(), source.ID()...))
		return l.Insert(ctx, target)
	default:
		return sensorthings.NewNoSuchEntityError(e.To.Type, nil)
	}
}

// Unlink is not supported: clearing the foreign key would need to know
// whether the target may exist without its source.
func (r *OneToMany) Unlink(context.Context, Linker, *entity.Entity, *entity.Entity) error {
	return sensorthings.NewUnsupportedRelationError(r.edge.Name, "unlink", "one-to-many links are removed by updating or deleting the target")
}

func (*OneToMany) relation() {}

// ManyToMany is a relation through a link table.
type ManyToMany struct {
	edge *Edge
}

// Distinct always reports true.
func (r *ManyToMany) Distinct() bool { return true }

// Join implements Relation. The link table is joined on the source key and
// the target table on the link table.
func (r *ManyToMany) Join(qs *QueryState, src *TableRef) (*TableRef, error) {
	if err := checkSource(r.edge, src); err != nil {
		return nil, err
	}
	e := r.edge
	srcCol, dstCol := e.OwnColumns()
	l := qs.newRef(nil, src, e.Spec.Table)
	l.distinct = true
	l.on = func() *sql.Predicate { return sql.ColumnsEQ(l.table.C(srcCol), src.Key()) }
	l.equals[srcCol] = colRef{ref: src, column: e.From.ID.Column}

	t := qs.newRef(e.To, l, e.To.Table)
	t.on = func() *sql.Predicate { return sql.ColumnsEQ(t.table.C(e.To.ID.Column), l.C(dstCol)) }
	t.equals[e.To.ID.Column] = colRef{ref: l, column: dstCol}
	t.link = l
	return t, nil
}

// Link inserts one link row. A target without key, or any target when
// forInsert is set and it carries more than its key, is created first.
func (r *ManyToMany) Link(ctx context.Context, l Linker, source, target *entity.Entity, forInsert bool) error {
	srcID, dstID, err := r.resolve(ctx, l, source, target, forInsert)
	if err != nil {
		return err
	}
	srcCol, dstCol := r.edge.OwnColumns()
	query, args := sql.Dialect(l.Dialect()).
		Insert(r.edge.Spec.Table).
		Columns(srcCol, dstCol).
		Values(srcID, dstID).
		Query()
	return wrapConstraint(l.Exec(ctx, query, args, nil))
}

// resolve returns the column values of the source and target keys, creating
// the target or checking its existence.
func (r *ManyToMany) resolve(ctx context.Context, l Linker, source, target *entity.Entity, forInsert bool) (any, any, error) {
	e := r.edge
	if !source.HasID() {
		return nil, nil, sensorthings.NewNoSuchEntityError(e.From.Type, nil)
	}
	switch {
	case target.HasID() && (target.IsRef() || !forInsert):
		ok, err := Exists(ctx, l, l.Dialect(), e.To, target.ID().Single())
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, sensorthings.NewNoSuchEntityError(e.To.Type, target.ID().Single())
		}
	case forInsert:
		if err := l.Insert(ctx, target); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, sensorthings.NewNoSuchEntityError(e.To.Type, nil)
	}
	srcID, err := e.From.ID.Value(source.ID().Single())
	if err != nil {
		return nil, nil, err
	}
	dstID, err := e.To.ID.Value(target.ID().Single())
	if err != nil {
		return nil, nil, err
	}
	return srcID, dstID, nil
}

func (r *ManyToMany) keys(source, target *entity.Entity) (any, any, error) {
	if !source.HasID() || !target.HasID() {
		return nil, nil, sensorthings.NewNoSuchEntityError(r.edge.To.Type, nil)
	}
	srcID, err := r.edge.From.ID.Value(source.ID().Single())
	if err != nil {
		return nil, nil, err
	}
	dstID, err := r.edge.To.ID.Value(target.ID().Single())
	if err != nil {
		return nil, nil, err
	}
	return srcID, dstID, nil
}

// Unlink deletes at most one matching link row, even if duplicates exist.
func (r *ManyToMany) Unlink(ctx context.Context, l Linker, source, target *entity.Entity) error {
	srcID, dstID, err := r.keys(source, target)
	if err != nil {
		return err
	}
	srcCol, dstCol := r.edge.OwnColumns()
	query, args := sql.Dialect(l.Dialect()).
		Delete(r.edge.Spec.Table).
		Where(sql.And(sql.EQ(srcCol, srcID), sql.EQ(dstCol, dstID))).
		Limit(1).
		Query()
	n, err := execAffected(ctx, l, query, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return sensorthings.NewNoSuchEntityError(r.edge.To.Type, target.ID().Single())
	}
	return nil
}

func (*ManyToMany) relation() {}

// ManyToManyOrdered is a ManyToMany relation whose link rows carry an order
// value. The order values of one group are always 0..n-1.
type ManyToManyOrdered struct {
	ManyToMany
}

// Join implements Relation. The returned reference exposes the order column.
func (r *ManyToManyOrdered) Join(qs *QueryState, src *TableRef) (*TableRef, error) {
	t, err := r.ManyToMany.Join(qs, src)
	if err != nil {
		return nil, err
	}
	t.order = r.edge.Spec.OrderColumn
	return t, nil
}

// group returns the grouping column and which of the source or target key
// values it holds.
func (r *ManyToManyOrdered) group(srcID, dstID any) (string, any) {
	col := r.edge.groupColumn()
	if r.edge.RankedBySource() {
		return col, srcID
	}
	return col, dstID
}

func (e *Edge) groupColumn() string {
	if e.Spec.GroupByTarget {
		return e.Spec.Columns[1]
	}
	return e.Spec.Columns[0]
}

// RankedBySource reports whether the order values of the link rows rank
// the targets of one source entity. Traversals from the other side see
// the rows of many groups and have no link order.
func (e *Edge) RankedBySource() bool {
	if e.Spec.Rel != M2MOrdered {
		return false
	}
	srcCol, _ := e.OwnColumns()
	return e.groupColumn() == srcCol
}

// lock serializes the writers of one group, empty groups included.
// PostgreSQL and MySQL lock the row of the entity owning the group. SQLite
// runs one writer at a time, and the no-op update takes the write lock of
// the transaction.
func (r *ManyToManyOrdered) lock(ctx context.Context, l Linker, col string, v any) error {
	if l.Dialect() == dialect.SQLite {
		ord := r.edge.Spec.OrderColumn
		query, args := sql.Dialect(l.Dialect()).
			Update(r.edge.Spec.Table).
			Set(ord, sql.Column(ord)).
			Where(sql.EQ(col, v)).
			Query()
		return l.Exec(ctx, query, args, nil)
	}
	owner := r.edge.To
	if r.edge.RankedBySource() {
		owner = r.edge.From
	}
	query, args := sql.Dialect(l.Dialect()).
		Select(owner.ID.Column).
		From(sql.Table(owner.Table)).
		Where(sql.EQ(owner.ID.Column, v)).
		ForUpdate().
		Query()
	var rows sql.Rows
	if err := l.Query(ctx, query, args, &rows); err != nil {
		return err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sensorthings.NewNoSuchEntityError(owner.Type, v)
	}
	return rows.Err()
}

// Link inserts one link row whose order is the number of rows of its group.
// The count and the insert are one statement.
func (r *ManyToManyOrdered) Link(ctx context.Context, l Linker, source, target *entity.Entity, forInsert bool) error {
	srcID, dstID, err := r.resolve(ctx, l, source, target, forInsert)
	if err != nil {
		return err
	}
	col, gv := r.group(srcID, dstID)
	if err := r.lock(ctx, l, col, gv); err != nil {
		return err
	}
	var (
		srcCol, dstCol = r.edge.OwnColumns()
		b              = sql.Dialect(l.Dialect())
		count          = sql.Select().
				AppendSelectExpr(sql.CountAll()).
				From(sql.Table(r.edge.Spec.Table)).
				Where(sql.EQ(col, gv))
		insert = b.Insert(r.edge.Spec.Table).Columns(srcCol, dstCol, r.edge.Spec.OrderColumn)
	)
	if l.Dialect() == dialect.MySQL {
		// MySQL rejects a subquery on the inserted table inside VALUES.
		insert.Select(count.Select().AppendSelectExpr(sql.Arg(srcID), sql.Arg(dstID), sql.CountAll()))
	} else {
		insert.Values(srcID, dstID, count)
	}
	query, args := insert.Query()
	return wrapConstraint(l.Exec(ctx, query, args, nil))
}

// Unlink deletes one matching link row and closes the gap it leaves in the
// order values of its group. It must run in one transaction with the other
// statements on the group.
func (r *ManyToManyOrdered) Unlink(ctx context.Context, l Linker, source, target *entity.Entity) error {
	srcID, dstID, err := r.keys(source, target)
	if err != nil {
		return err
	}
	var (
		e              = r.edge
		ord            = e.Spec.OrderColumn
		srcCol, dstCol = e.OwnColumns()
		col, gv        = r.group(srcID, dstID)
		b              = sql.Dialect(l.Dialect())
		match          = sql.And(sql.EQ(srcCol, srcID), sql.EQ(dstCol, dstID))
	)
	if err := r.lock(ctx, l, col, gv); err != nil {
		return err
	}
	query, args := b.Select(ord).
		From(sql.Table(e.Spec.Table)).
		Where(match).
		OrderBy(ord, false).
		Limit(1).
		Query()
	var rows sql.Rows
	if err := l.Query(ctx, query, args, &rows); err != nil {
		return err
	}
	var (
		pos   int64
		found bool
	)
	for rows.Next() {
		if err := rows.Scan(&pos); err != nil {
			rows.Close()
			return err
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if !found {
		return sensorthings.NewNoSuchEntityError(e.To.Type, target.ID().Single())
	}
	query, args = b.Delete(e.Spec.Table).
		Where(sql.And(sql.EQ(srcCol, srcID), sql.EQ(dstCol, dstID), sql.EQ(ord, pos))).
		Query()
	if err := l.Exec(ctx, query, args, nil); err != nil {
		return err
	}
	query, args = b.Update(e.Spec.Table).
		Add(ord, -1).
		Where(sql.And(sql.EQ(col, gv), sql.GT(ord, pos))).
		Query()
	return l.Exec(ctx, query, args, nil)
}

func checkSource(e *Edge, src *TableRef) error {
	if src.node != e.From {
		return fmt.Errorf("sqlgraph: edge %s.%s joined from %s", e.From.Type, e.Name, src.table.Name())
	}
	return nil
}

var (
	_ Relation = (*OneToMany)(nil)
	_ Relation = (*ManyToMany)(nil)
	_ Relation = (*ManyToManyOrdered)(nil)
)
