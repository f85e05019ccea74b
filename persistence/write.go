package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	sensorthings "github.com/syssam/sensorthings"
	"github.com/syssam/sensorthings/dialect/sql"
	"github.com/syssam/sensorthings/dialect/sql/sqlgraph"
	"github.com/syssam/sensorthings/entity"
	"github.com/syssam/sensorthings/privacy"
	"github.com/syssam/sensorthings/query"
	"github.com/syssam/sensorthings/schema"
	"github.com/syssam/sensorthings/schema/field"
)

// UpdateMode selects how Update treats the properties missing from the
// payload.
type UpdateMode uint8

const (
	// UpdatePatch leaves missing properties unchanged.
	UpdatePatch UpdateMode = iota
	// UpdateReplace clears missing optional properties and to-one
	// navigation properties, and removes the many-to-many links missing
	// from the payload. Missing required properties fail the update.
	UpdateReplace
)

// Insert creates e with the entities it references that do not exist yet,
// and its links. On success e carries its key and a CREATE message is
// queued per created entity.
//
// Insert also implements sqlgraph.Linker: relations call it to create the
// new targets of links.
func (m *Manager) Insert(ctx context.Context, e *entity.Entity) error {
	return m.mutate(ctx, func(ctx context.Context) error {
		return m.insert(ctx, e)
	})
}

func (m *Manager) insert(ctx context.Context, e *entity.Entity) error {
	n, err := m.node(e.Type())
	if err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if name, ok := e.Complete(); !ok {
		return sensorthings.NewIncompleteEntityError(n.Type, name)
	}
	if err := m.evalMutation(ctx, privacy.OpCreate, e); err != nil {
		return err
	}
	for _, fk := range n.ForeignKeys() {
		if target, ok := e.Nav(fk.Name); ok && target != nil {
			if err := m.ensure(ctx, fk, target); err != nil {
				return err
			}
		}
	}
	if !e.HasID() && n.ID.Type == field.TypeUUID {
		e.SetID(m.f.newID())
	}
	cols, vals, err := n.Values(e, true)
	if err != nil {
		return err
	}
	id, err := sqlgraph.CreateNode(ctx, m.tx, m.Dialect(), n, cols, vals)
	if err != nil {
		return constraint(err)
	}
	e.SetID(id)
	for _, np := range e.Type().NavigationProperties() {
		set, ok := e.Links(np.Name())
		if !ok || !np.IsToMany() {
			continue
		}
		edge := n.Edges[np.Name()]
		for _, target := range set.Entities {
			if err := edge.Relation.Link(ctx, m, e, linkable(target), true); err != nil {
				return err
			}
		}
	}
	stored, err := m.fetch(ctx, n, e.ID())
	if err != nil {
		return err
	}
	m.queue(&entity.ChangedMessage{Event: entity.EventCreate, Entity: stored})
	m.f.logger.DebugContext(ctx, "persistence: insert", "type", n.Type, "id", e.ID().Single())
	return nil
}

// ensure makes the target of a to-one navigation property exist: references
// must point at stored entities, the other targets are created.
func (m *Manager) ensure(ctx context.Context, fk *sqlgraph.Edge, target *entity.Entity) error {
	if target.Type() != fk.To.EntityType() {
		return fmt.Errorf("persistence: %s.%s cannot reference a %s", fk.From.Type, fk.Name, target.Type())
	}
	if !target.HasID() || !(target.IsRef() || target.Loaded()) {
		return m.insert(ctx, target)
	}
	ok, err := sqlgraph.Exists(ctx, m.tx, m.Dialect(), fk.To, target.ID().Single())
	if err != nil {
		return err
	}
	if !ok {
		return sensorthings.NewNoSuchEntityError(fk.To.Type, target.ID().Single())
	}
	return nil
}

// Update applies the payload e to the entity addressed by pe. It reports
// whether anything changed; an update that changes nothing queues no
// message.
func (m *Manager) Update(ctx context.Context, pe query.PathElement, e *entity.Entity, mode UpdateMode) (bool, error) {
	var changed bool
	err := m.mutate(ctx, func(ctx context.Context) (err error) {
		changed, err = m.update(ctx, pe, e, mode)
		return err
	})
	return changed, err
}

func (m *Manager) update(ctx context.Context, pe query.PathElement, e *entity.Entity, mode UpdateMode) (bool, error) {
	n, err := m.element(pe)
	if err != nil {
		return false, err
	}
	if e.Type() != n.EntityType() {
		return false, fmt.Errorf("persistence: cannot update %s with a %s", n.Type, e.Type())
	}
	if err := e.Validate(); err != nil {
		return false, err
	}
	current, err := m.fetch(ctx, n, pe.ID)
	if err != nil {
		return false, err
	}
	view := entity.New(n.EntityType()).Merge(current).Merge(e).SetID(current.ID()...)
	if err := m.evalMutation(ctx, privacy.OpUpdate, view); err != nil {
		return false, err
	}
	if mode == UpdateReplace {
		for _, p := range n.EntityType().EntityProperties() {
			if _, ok := e.Get(p.Name()); !ok && p.IsRequired() {
				return false, sensorthings.NewIncompleteEntityError(n.Type, p.Name())
			}
		}
	}
	var (
		cols    []string
		vals    []any
		changed []string
	)
	for _, p := range n.EntityType().EntityProperties() {
		if p.IsKey() {
			continue
		}
		// Missing non-nullable properties are kept, even on replace.
		v, ok := e.Get(p.Name())
		if !ok && (mode != UpdateReplace || !p.IsNullable()) {
			continue
		}
		fs := n.Fields[p.Name()]
		old, _ := current.Get(p.Name())
		if same(fs, old, v) {
			continue
		}
		dv, err := fs.Value(v)
		if err != nil {
			return false, fmt.Errorf("persistence: %s.%s: %w", n.Type, p.Name(), err)
		}
		cols, vals, changed = append(cols, fs.Column), append(vals, dv), append(changed, p.Name())
	}
	for _, fk := range n.ForeignKeys() {
		target, ok := e.Nav(fk.Name)
		if !ok && (mode != UpdateReplace || fk.Nav.IsRequired()) {
			continue
		}
		if target == nil && fk.Nav.IsRequired() {
			err := sensorthings.NewIncompleteEntityError(n.Type, fk.Name)
			err.Reason = "the relation is mandatory"
			return false, err
		}
		old, _ := current.Nav(fk.Name)
		if sameRef(fk.To, old, target) {
			continue
		}
		var v any
		if target != nil {
			if err := m.ensure(ctx, fk, target); err != nil {
				return false, err
			}
			if v, err = fk.To.ID.Value(target.ID().Single()); err != nil {
				return false, err
			}
		}
		cols, vals, changed = append(cols, fk.Spec.Columns[0]), append(vals, v), append(changed, fk.Name)
	}
	if len(cols) > 0 {
		affected, err := sqlgraph.UpdateNode(ctx, m.tx, m.Dialect(), n, current.ID().Single(), cols, vals)
		if err != nil {
			return false, constraint(err)
		}
		if affected == 0 {
			return false, sensorthings.NewNoSuchEntityError(n.Type, current.ID().Single())
		}
	}
	for _, np := range n.EntityType().NavigationProperties() {
		if !np.IsToMany() {
			continue
		}
		touched, err := m.relink(ctx, n.Edges[np.Name()], current, e, mode)
		if err != nil {
			return false, err
		}
		if touched {
			changed = append(changed, np.Name())
		}
	}
	if len(changed) == 0 {
		m.f.logger.DebugContext(ctx, "persistence: update without changes", "type", n.Type, "id", current.ID().Single())
		return false, nil
	}
	stored, err := m.fetch(ctx, n, current.ID())
	if err != nil {
		return false, err
	}
	m.queue(&entity.ChangedMessage{Event: entity.EventUpdate, Entity: stored, Fields: changed})
	m.f.logger.DebugContext(ctx, "persistence: update", "type", n.Type, "id", current.ID().Single(), "fields", changed)
	return true, nil
}

// relink links the targets of a set-valued navigation property of the
// payload that are not linked yet. In replace mode, the many-to-many links
// missing from the payload are removed.
func (m *Manager) relink(ctx context.Context, edge *sqlgraph.Edge, current, e *entity.Entity, mode UpdateMode) (bool, error) {
	var (
		links, present = e.Links(edge.Name)
		m2m            = edge.Spec.Rel == sqlgraph.M2M || edge.Spec.Rel == sqlgraph.M2MOrdered
		replace        = mode == UpdateReplace && m2m
	)
	if !present && !replace {
		return false, nil
	}
	linked, err := m.linked(ctx, edge, current)
	if err != nil {
		return false, err
	}
	var (
		touched bool
		want    = make(map[any]bool)
		have    = make(map[any]bool, len(linked))
	)
	for _, k := range linked {
		have[k] = true
	}
	if links != nil {
		for _, target := range links.Entities {
			target = linkable(target)
			if target.HasID() {
				k, err := edge.To.ID.Value(target.ID().Single())
				if err != nil {
					return false, err
				}
				want[k] = true
				if have[k] {
					continue
				}
			}
			if err := edge.Relation.Link(ctx, m, current, target, true); err != nil {
				return false, err
			}
			if target.HasID() {
				k, _ := edge.To.ID.Value(target.ID().Single())
				want[k], have[k] = true, true
			}
			touched = true
		}
	}
	if !replace {
		return touched, nil
	}
	for _, k := range linked {
		if want[k] {
			continue
		}
		if edge.Nav.Mandatory() {
			err := sensorthings.NewIncompleteEntityError(edge.From.Type, edge.Name)
			err.Reason = "the relation is mandatory"
			return false, err
		}
		if err := edge.Relation.Unlink(ctx, m, current, entity.Ref(edge.To.EntityType(), k)); err != nil {
			return false, err
		}
		touched = true
	}
	return touched, nil
}

// Delete deletes the entity addressed by pe. Entities that require it are
// deleted by the store; no message is queued for them.
func (m *Manager) Delete(ctx context.Context, pe query.PathElement) error {
	return m.mutate(ctx, func(ctx context.Context) error {
		n, err := m.element(pe)
		if err != nil {
			return err
		}
		current, err := m.fetch(ctx, n, pe.ID)
		if err != nil {
			return err
		}
		if err := m.evalMutation(ctx, privacy.OpDelete, current); err != nil {
			return err
		}
		if err := m.remove(ctx, n, current); err != nil {
			return err
		}
		m.queue(&entity.ChangedMessage{Event: entity.EventDelete, Entity: current})
		m.f.logger.DebugContext(ctx, "persistence: delete", "type", n.Type, "id", current.ID().Single())
		return nil
	})
}

// remove deletes the row of e. Its ordered links are removed one by one
// first, so the order values of their groups stay gapless.
func (m *Manager) remove(ctx context.Context, n *sqlgraph.Node, e *entity.Entity) error {
	for _, np := range n.EntityType().NavigationProperties() {
		edge := n.Edges[np.Name()]
		if edge.Spec.Rel != sqlgraph.M2MOrdered {
			continue
		}
		keys, err := m.linked(ctx, edge, e)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := edge.Relation.Unlink(ctx, m, e, entity.Ref(edge.To.EntityType(), k)); err != nil {
				return err
			}
		}
	}
	affected, err := sqlgraph.DeleteNode(ctx, m.tx, m.Dialect(), n, e.ID().Single())
	if err != nil {
		return constraint(err)
	}
	if affected == 0 {
		return sensorthings.NewNoSuchEntityError(n.Type, e.ID().Single())
	}
	return nil
}

// DeleteWhere deletes the entities of the set addressed by the path that
// match the filter of q, ignoring its paging options, and returns their
// number. A DELETE message is queued per entity only when the factory was
// created with WithBulkDeleteMessages.
func (m *Manager) DeleteWhere(ctx context.Context, path query.ResourcePath, q *query.Query) (int64, error) {
	var affected int64
	err := m.mutate(ctx, func(ctx context.Context) error {
		if q == nil {
			q = query.New()
		}
		c, err := sqlgraph.Compile(m.f.graph, path, q, m.f.compile)
		if err != nil {
			return err
		}
		n := c.Node
		if err := m.evalMutation(ctx, privacy.OpDelete, entity.New(n.EntityType())); err != nil {
			return err
		}
		gq, err := m.guard(ctx, n.Type, path, q)
		if err != nil {
			return err
		}
		if m.f.bulkMessages || ordered(n) {
			doomed, err := m.readAll(ctx, path, gq)
			if err != nil {
				return err
			}
			for _, e := range doomed {
				if err := m.remove(ctx, n, e); err != nil {
					return err
				}
				if m.f.bulkMessages {
					m.queue(&entity.ChangedMessage{Event: entity.EventDelete, Entity: e})
				}
			}
			affected = int64(len(doomed))
		} else {
			stmt, args, err := sqlgraph.CompileDelete(m.f.graph, path, gq, m.Dialect())
			if err != nil {
				return err
			}
			var res sql.Result
			if err := m.tx.Exec(ctx, stmt, args, &res); err != nil {
				return constraint(err)
			}
			if affected, err = res.RowsAffected(); err != nil {
				return err
			}
		}
		if affected > 0 && !m.f.bulkMessages {
			m.f.logger.WarnContext(ctx, "persistence: bulk delete without change messages", "type", n.Type, "deleted", affected)
		}
		return nil
	})
	return affected, err
}

// readAll reads every entity of the set addressed by the path that matches
// the filter of q, page by page.
func (m *Manager) readAll(ctx context.Context, path query.ResourcePath, q *query.Query) ([]*entity.Entity, error) {
	page := m.f.compile.MaxTop
	if page <= 0 {
		page = sqlgraph.DefaultTop
	}
	rq := q.Clone()
	rq.Expand, rq.Count, rq.Skip, rq.Top = nil, false, 0, &page
	var all []*entity.Entity
	for {
		set, c, err := m.read(ctx, path, rq, false)
		if err != nil {
			return nil, err
		}
		all = append(all, set.Entities...)
		if c.Single() || set.NextLink == "" {
			return all, nil
		}
		rq.Skip += page
	}
}

// DeleteRelation removes the link between source and target through the
// navigation property nav. Removing a link that a required navigation
// property depends on fails with an IncompleteEntityError.
func (m *Manager) DeleteRelation(ctx context.Context, source *entity.Entity, nav string, target *entity.Entity) error {
	return m.mutate(ctx, func(ctx context.Context) error {
		n, err := m.node(source.Type())
		if err != nil {
			return err
		}
		edge, ok := n.Edges[nav]
		if !ok {
			return fmt.Errorf("persistence: unknown navigation property %s.%s", n.Type, nav)
		}
		if edge.Nav.Mandatory() {
			err := sensorthings.NewIncompleteEntityError(n.Type, nav)
			err.Reason = "the relation is mandatory"
			return err
		}
		if err := m.evalMutation(ctx, privacy.OpUnlink, source); err != nil {
			return err
		}
		if err := edge.Relation.Unlink(ctx, m, source, target); err != nil {
			return err
		}
		stored, err := m.fetch(ctx, n, source.ID())
		if err != nil {
			return err
		}
		m.queue(&entity.ChangedMessage{Event: entity.EventUpdate, Entity: stored, Fields: []string{nav}})
		m.f.logger.DebugContext(ctx, "persistence: unlink", "type", n.Type, "id", source.ID().Single(), "nav", nav, "target", target.ID().Single())
		return nil
	})
}

// linked returns the keys, as column values, of the entities linked to
// source through a set-valued edge, in link order.
func (m *Manager) linked(ctx context.Context, edge *sqlgraph.Edge, source *entity.Entity) ([]any, error) {
	src, err := edge.From.ID.Value(source.ID().Single())
	if err != nil {
		return nil, err
	}
	b := sql.Dialect(m.Dialect())
	var sel *sql.Selector
	switch edge.Spec.Rel {
	case sqlgraph.O2M:
		sel = b.Select(edge.To.ID.Column).
			From(sql.Table(edge.To.Table)).
			Where(sql.EQ(edge.Spec.Columns[0], src)).
			OrderBy(edge.To.ID.Column, false)
	case sqlgraph.M2M, sqlgraph.M2MOrdered:
		srcCol, dstCol := edge.OwnColumns()
		sel = b.Select(dstCol).
			From(sql.Table(edge.Spec.Table)).
			Where(sql.EQ(srcCol, src))
		if edge.Spec.OrderColumn != "" {
			sel.OrderBy(edge.Spec.OrderColumn, false)
		}
	default:
		return nil, sensorthings.NewUnsupportedRelationError(edge.Name, "list", "not a set-valued navigation property")
	}
	stmt, args := sel.Query()
	var rows sql.Rows
	if err := m.tx.Query(ctx, stmt, args, &rows); err != nil {
		return nil, sensorthings.NewTransactionError("query", err)
	}
	defer rows.Close()
	var keys []any
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		k, err := edge.To.ID.Scan(v)
		if err != nil {
			return nil, err
		}
		if k, err = edge.To.ID.Value(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (m *Manager) node(t *schema.EntityType) (*sqlgraph.Node, error) {
	n, ok := m.f.graph.Node(t.Name())
	if !ok {
		return nil, fmt.Errorf("persistence: unmapped entity type %s", t)
	}
	return n, nil
}

// element returns the node of the entity set of pe, which must carry a key.
func (m *Manager) element(pe query.PathElement) (*sqlgraph.Node, error) {
	n, ok := m.f.graph.NodeBySet(pe.Name)
	if !ok {
		return nil, fmt.Errorf("persistence: unknown entity set %s", pe.Name)
	}
	if !pe.HasID() {
		return nil, fmt.Errorf("persistence: %s does not address an entity", pe)
	}
	return n, nil
}

func ordered(n *sqlgraph.Node) bool {
	for _, e := range n.Edges {
		if e.Spec.Rel == sqlgraph.M2MOrdered {
			return true
		}
	}
	return false
}

// linkable returns a reference to target when it was read from the store,
// so relations link it instead of creating it.
func linkable(target *entity.Entity) *entity.Entity {
	if target.HasID() && target.Loaded() {
		return entity.Ref(target.Type(), target.ID()...)
	}
	return target
}

// constraint reports a foreign key violation as a missing referenced
// entity.
func constraint(err error) error {
	if sqlgraph.IsForeignKeyConstraintError(err) {
		return fmt.Errorf("%w: %w", sensorthings.NewNoSuchEntityError("referenced entity", nil), err)
	}
	return err
}

// same reports whether two property values map to the same column value.
func same(fs *sqlgraph.FieldSpec, a, b any) bool {
	av, err := fs.Value(a)
	if err != nil {
		return false
	}
	bv, err := fs.Value(b)
	if err != nil {
		return false
	}
	if at, ok := av.(time.Time); ok {
		bt, ok := bv.(time.Time)
		return ok && at.Equal(bt)
	}
	if as, ok := av.(string); ok && (fs.Type == field.TypeJSON || fs.Type == field.TypeGeometry) {
		bs, ok := bv.(string)
		if !ok {
			return false
		}
		var ad, bd any
		if json.Unmarshal([]byte(as), &ad) != nil || json.Unmarshal([]byte(bs), &bd) != nil {
			return as == bs
		}
		return reflect.DeepEqual(ad, bd)
	}
	return reflect.DeepEqual(av, bv)
}

// sameRef reports whether two to-one navigation values reference the same
// entity.
func sameRef(n *sqlgraph.Node, a, b *entity.Entity) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if !a.HasID() || !b.HasID() {
		return false
	}
	av, err := n.ID.Value(a.ID().Single())
	if err != nil {
		return false
	}
	bv, err := n.ID.Value(b.ID().Single())
	return err == nil && reflect.DeepEqual(av, bv)
}
