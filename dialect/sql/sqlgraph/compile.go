package sqlgraph

import (
	"fmt"
	"slices"

	"github.com/syssam/sensorthings/dialect/sql"
	"github.com/syssam/sensorthings/entity"
	"github.com/syssam/sensorthings/query"
	"github.com/syssam/sensorthings/querylanguage"
)

// DefaultTop is the page size used when none is configured.
const DefaultTop = 100

// CompileOptions configures the compilation of queries.
type CompileOptions struct {
	Dialect string
	// DefaultTop is the page size when the query sets none, MaxTop caps
	// the requested page size when positive.
	DefaultTop int
	MaxTop     int
	// BaseURL is the service root prefixed to next links.
	BaseURL string
}

// CompiledQuery is the statement answering a query on a resource path.
type CompiledQuery struct {
	Node  *Node
	Path  query.ResourcePath
	Query *query.Query
	// Top is the page size. It is unused for single entity paths.
	Top int

	base     string
	single   bool
	selector *sql.Selector
	count    *sql.Selector
	columns  []scanColumn
	extra    int
}

type scanKind uint8

const (
	scanKey scanKind = iota
	scanProp
	scanRef
)

type scanColumn struct {
	kind scanKind
	name string
	spec *FieldSpec
	edge *Edge
}

// path is a resolved resource path: the node of every element and the
// edges between consecutive elements.
type path struct {
	elems query.ResourcePath
	nodes []*Node
	edges []*Edge
}

func (g *Schema) resolve(p query.ResourcePath) (*path, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n, ok := g.NodeBySet(p[0].Name)
	if !ok {
		return nil, fmt.Errorf("sqlgraph: unknown entity set %q", p[0].Name)
	}
	r := &path{elems: p, nodes: []*Node{n}}
	for _, el := range p[1:] {
		e, ok := n.Edges[el.Name]
		if !ok {
			return nil, fmt.Errorf("sqlgraph: unknown navigation property %s.%s", n.Type, el.Name)
		}
		if el.HasID() && !e.Nav.IsToMany() {
			return nil, fmt.Errorf("sqlgraph: key on entity-valued navigation property %s.%s", n.Type, el.Name)
		}
		n = e.To
		r.nodes, r.edges = append(r.nodes, n), append(r.edges, e)
	}
	return r, nil
}

// last returns the node of the last path element.
func (p *path) last() *Node { return p.nodes[len(p.nodes)-1] }

// single reports whether the path addresses at most one entity: a key on
// the last element, or an entity-valued last navigation.
func (p *path) single() bool {
	if p.elems.IsEntity() {
		return true
	}
	return len(p.edges) > 0 && !p.edges[len(p.edges)-1].Nav.IsToMany()
}

// from roots the state at the last path element and joins the preceding
// elements through the inverse navigation properties. It returns the root
// and the reference of the element preceding it, if any.
func (p *path) from(qs *QueryState) (*TableRef, *TableRef, error) {
	root := qs.Root(p.last())
	if err := where(qs, root, p.elems[len(p.elems)-1]); err != nil {
		return nil, nil, err
	}
	var (
		ref  = root
		prev *TableRef
	)
	for i := len(p.edges) - 1; i >= 0; i-- {
		e := p.edges[i]
		inv, ok := e.Inverse()
		if !ok {
			return nil, nil, fmt.Errorf("sqlgraph: navigation property %s.%s has no inverse", e.From.Type, e.Name)
		}
		j, err := ref.Join(inv.Name)
		if err != nil {
			return nil, nil, err
		}
		if prev == nil {
			prev = j
		}
		if err := where(qs, j, p.elems[i]); err != nil {
			return nil, nil, err
		}
		ref = j
	}
	return root, prev, nil
}

// where restricts ref to the key of the path element, or requires its join
// when the element addresses a set.
func where(qs *QueryState, ref *TableRef, el query.PathElement) error {
	if !el.HasID() {
		if ref.parent != nil {
			ref.Require()
		}
		return nil
	}
	if len(el.ID) != 1 {
		return fmt.Errorf("sqlgraph: %s expects a single-column key", el)
	}
	v, err := ref.node.ID.Value(el.ID.Single())
	if err != nil {
		return err
	}
	qs.selector.Where(sql.EQ(ref.Key(), v))
	return nil
}

// Compile compiles the query on the resource path into one statement, and
// a count statement when the query requests the count.
func Compile(g *Schema, rp query.ResourcePath, q *query.Query, opts CompileOptions) (*CompiledQuery, error) {
	if q == nil {
		q = query.New()
	}
	p, err := g.resolve(rp)
	if err != nil {
		return nil, err
	}
	n := p.last()
	for _, exp := range q.Expand {
		if _, ok := n.Edges[exp.Nav]; !ok {
			return nil, fmt.Errorf("sqlgraph: cannot expand unknown navigation property %s.%s", n.Type, exp.Nav)
		}
	}
	c := &CompiledQuery{Node: n, Path: rp, Query: q, base: opts.BaseURL}
	qs := NewQueryState(g, opts.Dialect)
	root, prev, err := p.from(qs)
	if err != nil {
		return nil, err
	}
	pred, err := qs.EvalP(root, q.Filter)
	if err != nil {
		return nil, err
	}
	qs.selector.Where(pred)

	var ordered []string
	qs.SetOuterJoins(true)
	for _, o := range q.OrderBy {
		if err := orderable(n, o.Field); err != nil {
			return nil, err
		}
		col, _, err := qs.Field(root, o.Field)
		if err != nil {
			return nil, err
		}
		qs.selector.OrderBy(col, o.Desc)
		ordered = append(ordered, col)
	}
	if len(q.OrderBy) == 0 && prev != nil && p.edges[len(p.edges)-1].RankedBySource() {
		// Entities of an ordered navigation come in link order.
		if col, ok := prev.OrderColumn(); ok {
			qs.selector.OrderBy(col, false)
			ordered = append(ordered, col)
		}
	}
	if key := root.Key(); !slices.Contains(ordered, key) {
		qs.selector.OrderBy(key, false)
		ordered = append(ordered, key)
	}
	qs.SetOuterJoins(false)

	projected, err := c.project(root, q.Select)
	if err != nil {
		return nil, err
	}
	if qs.DistinctRequired() {
		qs.selector.Distinct()
		// DISTINCT requires the order terms in the select list.
		for _, col := range ordered {
			if !slices.Contains(projected, col) {
				qs.selector.AppendSelect(col)
				c.extra++
			}
		}
	}
	c.single = p.single()
	if !c.single {
		def := opts.DefaultTop
		if def <= 0 {
			def = DefaultTop
		}
		c.Top = q.TopOr(def, opts.MaxTop)
		if c.Top < 0 {
			return nil, fmt.Errorf("sqlgraph: invalid page size %d", c.Top)
		}
		if q.Skip < 0 {
			return nil, fmt.Errorf("sqlgraph: invalid skip %d", q.Skip)
		}
		qs.selector.Limit(c.Top + 1)
		if q.Skip > 0 {
			qs.selector.Offset(q.Skip)
		}
	}
	c.selector = qs.selector
	if q.Count && !c.single {
		if c.count, err = countSelector(g, p, q, opts.Dialect); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// orderable rejects order properties reached through set-valued
// navigation properties: they have no single value per entity.
func orderable(n *Node, name string) error {
	navs, _ := querylanguage.F(name).Path()
	for _, nav := range navs {
		e, ok := n.Edges[nav]
		if !ok {
			return nil
		}
		if e.Nav.IsToMany() {
			return fmt.Errorf("sqlgraph: cannot order by %q: %s.%s is set-valued", name, n.Type, nav)
		}
		n = e.To
	}
	return nil
}

// project selects the key, the selected entity properties and the foreign
// keys of entity-valued navigation properties.
func (c *CompiledQuery) project(root *TableRef, sel []string) ([]string, error) {
	var (
		n    = c.Node
		t    = n.EntityType()
		cols = []string{root.Key()}
	)
	c.columns = []scanColumn{{kind: scanKey, spec: n.ID}}
	for _, name := range sel {
		if _, ok := t.Property(name); !ok {
			return nil, fmt.Errorf("sqlgraph: cannot select unknown property %s.%s", n.Type, name)
		}
	}
	for _, p := range t.EntityProperties() {
		if p.IsKey() || len(sel) > 0 && !slices.Contains(sel, p.Name()) {
			continue
		}
		fs := n.Fields[p.Name()]
		cols = append(cols, root.C(fs.Column))
		c.columns = append(c.columns, scanColumn{kind: scanProp, name: p.Name(), spec: fs})
	}
	for _, e := range n.ForeignKeys() {
		cols = append(cols, root.C(e.Spec.Columns[0]))
		c.columns = append(c.columns, scanColumn{kind: scanRef, name: e.Name, spec: e.To.ID, edge: e})
	}
	root.qs.selector.Select(cols...)
	return cols, nil
}

func countSelector(g *Schema, p *path, q *query.Query, d string) (*sql.Selector, error) {
	qs := NewQueryState(g, d)
	root, _, err := p.from(qs)
	if err != nil {
		return nil, err
	}
	pred, err := qs.EvalP(root, q.Filter)
	if err != nil {
		return nil, err
	}
	qs.selector.Where(pred)
	if qs.DistinctRequired() {
		qs.selector.AppendSelectExpr(sql.CountDistinct(root.Key()))
	} else {
		qs.selector.AppendSelectExpr(sql.CountAll())
	}
	return qs.selector, nil
}

// CompileDelete compiles a statement deleting the entities a query on the
// resource path addresses. Ordering and paging are ignored.
func CompileDelete(g *Schema, rp query.ResourcePath, q *query.Query, d string) (string, []any, error) {
	if q == nil {
		q = query.New()
	}
	p, err := g.resolve(rp)
	if err != nil {
		return "", nil, err
	}
	qs := NewQueryState(g, d)
	root, _, err := p.from(qs)
	if err != nil {
		return "", nil, err
	}
	pred, err := qs.EvalP(root, q.Filter)
	if err != nil {
		return "", nil, err
	}
	n := p.last()
	keys := qs.selector.Where(pred).Select(root.Key()).As("k")
	// The keys are read through a derived table: MySQL cannot select from
	// the table it deletes from.
	query, args := sql.Dialect(d).
		Delete(n.Table).
		Where(sql.InSelect(n.ID.Column, sql.Select("k."+n.ID.Column).From(keys))).
		Query()
	return query, args, nil
}

// Statement returns the select statement and its arguments.
func (c *CompiledQuery) Statement() (string, []any) {
	return c.selector.Query()
}

// CountQuery returns the count statement, if the query requests the count.
func (c *CompiledQuery) CountQuery() (string, []any, bool) {
	if c.count == nil {
		return "", nil, false
	}
	query, args := c.count.Query()
	return query, args, true
}

// Distinct reports whether the statement is DISTINCT.
func (c *CompiledQuery) Distinct() bool { return c.selector.IsDistinct() }

// Single reports whether the path addresses at most one entity.
func (c *CompiledQuery) Single() bool { return c.single }

// Scan reads the rows of the statement into an entity set. When the page
// overflows, the extra row is dropped and the next link is set. An empty
// page has no next link.
func (c *CompiledQuery) Scan(rows sql.ColumnScanner) (*entity.EntitySet, error) {
	var (
		t    = c.Node.EntityType()
		set  = entity.NewSet(t)
		vals = make([]any, len(c.columns)+c.extra)
		dest = make([]any, len(vals))
	)
	for i := range vals {
		dest[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		e := entity.New(t)
		for i, col := range c.columns {
			v, err := col.spec.Scan(vals[i])
			if err != nil {
				return nil, err
			}
			switch col.kind {
			case scanKey:
				e.SetID(v)
			case scanProp:
				e.Set(col.name, v)
			case scanRef:
				if v != nil {
					e.SetNav(col.name, entity.Ref(col.edge.To.EntityType(), v))
				}
			}
		}
		e.Select(c.Query.Select...)
		e.MarkLoaded()
		set.Entities = append(set.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !c.single && len(set.Entities) > c.Top {
		set.Entities = set.Entities[:c.Top]
		if c.Top > 0 {
			set.NextLink = query.NextLink(c.base, c.Path, c.Query, c.Top)
		}
	}
	return set, nil
}
