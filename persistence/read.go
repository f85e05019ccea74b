package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"

	sensorthings "github.com/syssam/sensorthings"
	"github.com/syssam/sensorthings/contrib/dataloader"
	"github.com/syssam/sensorthings/dialect/sql"
	"github.com/syssam/sensorthings/dialect/sql/sqlgraph"
	"github.com/syssam/sensorthings/entity"
	"github.com/syssam/sensorthings/query"
	"github.com/syssam/sensorthings/querylanguage"
)

// GetEntity returns the entity addressed by the path, e.g. /Things(1) or
// /Datastreams(1)/Thing, with the expansions of q.
func (m *Manager) GetEntity(ctx context.Context, path query.ResourcePath, q *query.Query) (*entity.Entity, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	set, c, err := m.read(ctx, path, q, true)
	if err != nil {
		return nil, err
	}
	if !c.Single() {
		return nil, fmt.Errorf("persistence: %s addresses an entity set", path)
	}
	if len(set.Entities) == 0 {
		return nil, sensorthings.NewNotFoundError(c.Node.Type, path.Last().ID.Single())
	}
	return set.Entities[0], nil
}

// QueryCollection returns one page of the entity set addressed by the
// path. The set carries the count when q requests it, and the next link
// when more entities exist.
func (m *Manager) QueryCollection(ctx context.Context, path query.ResourcePath, q *query.Query) (*entity.EntitySet, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	set, c, err := m.read(ctx, path, q, true)
	if err != nil {
		return nil, err
	}
	if c.Single() {
		return nil, fmt.Errorf("persistence: %s addresses a single entity", path)
	}
	return set, nil
}

// Count returns the number of entities of the set addressed by the path
// that match the filter of q. Paging options are ignored.
func (m *Manager) Count(ctx context.Context, path query.ResourcePath, q *query.Query) (int64, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	if q == nil {
		q = query.New()
	}
	q = q.Clone()
	q.Count, q.Expand = true, nil
	c, err := m.compile(ctx, path, q, true)
	if err != nil {
		return 0, err
	}
	stmt, args, ok := c.CountQuery()
	if !ok {
		return 0, fmt.Errorf("persistence: %s addresses a single entity", path)
	}
	return m.count(ctx, stmt, args)
}

// compile compiles q on the path. When guarded, the filter added by the
// query policy is combined with the filter of q; the next links keep the
// parameters of q.
func (m *Manager) compile(ctx context.Context, path query.ResourcePath, q *query.Query, guarded bool) (*sqlgraph.CompiledQuery, error) {
	c, err := sqlgraph.Compile(m.f.graph, path, q, m.f.compile)
	if err != nil || !guarded {
		return c, err
	}
	gq, err := m.guard(ctx, c.Node.Type, path, c.Query)
	if err != nil || gq == c.Query {
		return c, err
	}
	orig := c.Query
	if c, err = sqlgraph.Compile(m.f.graph, path, gq, m.f.compile); err != nil {
		return nil, err
	}
	c.Query = orig
	return c, nil
}

// guard returns q, or a copy of q restricted by the filter of the query
// policy.
func (m *Manager) guard(ctx context.Context, typ string, path query.ResourcePath, q *query.Query) (*query.Query, error) {
	extra, err := m.evalQuery(ctx, typ, path)
	if err != nil || extra == nil {
		return q, err
	}
	gq := q.Clone()
	gq.Filter = and(q.Filter, extra)
	return gq, nil
}

// read runs the compiled query, its count and its expansions.
func (m *Manager) read(ctx context.Context, path query.ResourcePath, q *query.Query, guarded bool) (*entity.EntitySet, *sqlgraph.CompiledQuery, error) {
	c, err := m.compile(ctx, path, q, guarded)
	if err != nil {
		return nil, nil, err
	}
	stmt, args := c.Statement()
	var rows sql.Rows
	if err := m.tx.Query(ctx, stmt, args, &rows); err != nil {
		return nil, nil, sensorthings.NewTransactionError("query", err)
	}
	set, err := c.Scan(rows)
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, nil, err
	}
	if stmt, args, ok := c.CountQuery(); ok {
		n, err := m.count(ctx, stmt, args)
		if err != nil {
			return nil, nil, err
		}
		set.Count = &n
	}
	for _, exp := range c.Query.Expand {
		for _, e := range set.Entities {
			if err := m.expand(ctx, e, exp, guarded); err != nil {
				return nil, nil, err
			}
		}
	}
	return set, c, nil
}

// expand sets the entities linked to e through the expanded navigation
// property, read with the options of the expansion.
func (m *Manager) expand(ctx context.Context, e *entity.Entity, exp *query.Expand, guarded bool) error {
	np, ok := e.Type().NavigationProperty(exp.Nav)
	if !ok {
		return fmt.Errorf("persistence: cannot expand unknown navigation property %s.%s", e.Type(), exp.Nav)
	}
	path := query.Path(e.Type().Plural(), e.ID()...).Nav(exp.Nav)
	sub, _, err := m.read(ctx, path, exp.Query, guarded)
	if err != nil {
		return err
	}
	switch {
	case np.IsToMany():
		e.SetLinks(exp.Nav, sub)
	case sub.Len() > 0:
		e.SetNav(exp.Nav, sub.Entities[0])
	default:
		e.SetNav(exp.Nav, nil)
	}
	return nil
}

func (m *Manager) count(ctx context.Context, stmt string, args []any) (int64, error) {
	var rows sql.Rows
	if err := m.tx.Query(ctx, stmt, args, &rows); err != nil {
		return 0, sensorthings.NewTransactionError("count", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}
		return 0, errors.New("persistence: count returned no rows")
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, rows.Err()
}

// fetch reads the entity with the given key, bypassing the query policy.
func (m *Manager) fetch(ctx context.Context, n *sqlgraph.Node, id entity.PkValue) (*entity.Entity, error) {
	set, _, err := m.read(ctx, query.Path(n.EntityType().Plural(), id...), nil, false)
	if err != nil {
		return nil, err
	}
	if set.Len() == 0 {
		return nil, sensorthings.NewNoSuchEntityError(n.Type, id.Single())
	}
	return set.Entities[0], nil
}

// Resolve loads the properties of the given references in place. The keys
// of one type are fetched in batches of at most the resolve batch size; a
// reference without a stored entity fails with a NoSuchEntityError.
func (m *Manager) Resolve(ctx context.Context, refs ...*entity.Entity) error {
	if err := m.check(); err != nil {
		return err
	}
	groups := dataloader.GroupByKey(refs, func(e *entity.Entity) string { return e.Type().Name() })
	types := make([]string, 0, len(groups))
	for typ := range groups {
		types = append(types, typ)
	}
	slices.Sort(types)
	for _, typ := range types {
		if err := m.resolve(ctx, typ, groups[typ]); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) resolve(ctx context.Context, typ string, refs []*entity.Entity) error {
	n, ok := m.f.graph.Node(typ)
	if !ok {
		return fmt.Errorf("persistence: unknown entity type %s", typ)
	}
	keyOf := func(e *entity.Entity) any {
		v, err := n.ID.Value(e.ID().Single())
		if err != nil {
			return nil
		}
		return v
	}
	keys := make([]any, len(refs))
	for i, e := range refs {
		if !e.HasID() {
			return sensorthings.NewNoSuchEntityError(typ, nil)
		}
		if keys[i] = keyOf(e); keys[i] == nil {
			return fmt.Errorf("persistence: invalid key %v of %s", e.ID(), typ)
		}
	}
	size := m.f.resolveBatch
	if max := m.f.compile.MaxTop; max > 0 && (size <= 0 || size > max) {
		size = max
	}
	path := query.Path(n.EntityType().Plural())
	vals, errs := dataloader.Load(ctx, keys, size, func(ctx context.Context, batch []any) ([]*entity.Entity, []error) {
		q := query.New(query.Where(querylanguage.FieldIn(n.KeyName(), batch...)), query.Top(len(batch)))
		set, _, err := m.read(ctx, path, q, true)
		if err != nil {
			return nil, []error{err}
		}
		return dataloader.OrderByKeys(batch, set.Entities, keyOf)
	})
	for i, e := range refs {
		switch err := errs[i]; {
		case errors.Is(err, dataloader.ErrNotFound):
			return sensorthings.NewNoSuchEntityError(typ, e.ID().Single())
		case err != nil:
			return err
		}
		e.Merge(vals[i])
	}
	m.f.logger.DebugContext(ctx, "persistence: resolve", "type", typ, "refs", len(refs))
	return nil
}
