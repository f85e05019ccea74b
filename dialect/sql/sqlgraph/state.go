package sqlgraph

import (
	"fmt"
	"strconv"

	"github.com/syssam/sensorthings/dialect/sql"
)

// QueryState accumulates the FROM clause of one statement while a query is
// walked. It is created per compilation and must not be reused.
type QueryState struct {
	schema   *Schema
	selector *sql.Selector
	// aliases is shared with sub-states so aliases are unique across the
	// whole statement, EXISTS subqueries included.
	aliases  *int
	distinct bool
	outer    bool
}

// NewQueryState returns a fresh state rendering for the given dialect.
func NewQueryState(s *Schema, d string) *QueryState {
	return &QueryState{
		schema:   s,
		selector: sql.Dialect(d).Select(),
		aliases:  new(int),
	}
}

// Sub returns a state for a subquery of this state. It shares the alias
// counter but has its own selector and DISTINCT flag.
func (qs *QueryState) Sub() *QueryState {
	return &QueryState{
		schema:   qs.schema,
		selector: sql.Select(),
		aliases:  qs.aliases,
	}
}

// Selector returns the selector the joins are written to.
func (qs *QueryState) Selector() *sql.Selector { return qs.selector }

// Alias returns a new table alias. Aliases are never reused.
func (qs *QueryState) Alias() string {
	a := "t" + strconv.Itoa(*qs.aliases)
	*qs.aliases++
	return a
}

// SetDistinctRequired marks the statement as DISTINCT. The flag is never
// cleared.
func (qs *QueryState) SetDistinctRequired() { qs.distinct = true }

// DistinctRequired reports whether a materialized join may duplicate rows.
func (qs *QueryState) DistinctRequired() bool { return qs.distinct }

// SetOuterJoins sets whether joins materialized from now on are LEFT joins.
func (qs *QueryState) SetOuterJoins(outer bool) { qs.outer = outer }

// Root returns the reference to the main table of the statement.
func (qs *QueryState) Root(n *Node) *TableRef {
	r := qs.newRef(n, nil, n.Table)
	r.joined = true
	qs.selector.From(r.table)
	return r
}

func (qs *QueryState) newRef(n *Node, parent *TableRef, table string) *TableRef {
	return &TableRef{
		qs:     qs,
		node:   n,
		parent: parent,
		table:  sql.Table(table).As(qs.Alias()),
		equals: make(map[string]colRef),
		navs:   make(map[string]*TableRef),
	}
}

// colRef is a column of another table reference.
type colRef struct {
	ref    *TableRef
	column string
}

// TableRef is a table reachable in the statement: the main table, a joined
// node table or a link table. Joined tables are materialized lazily, the
// first time one of their columns is needed that no join-equals
// substitution answers.
type TableRef struct {
	qs     *QueryState
	node   *Node
	parent *TableRef
	table  *sql.SelectTable
	on     func() *sql.Predicate
	joined bool
	// distinct is set on references whose join may duplicate rows of the
	// parent.
	distinct bool
	// equals maps columns of this table to equal columns of already
	// reachable tables.
	equals map[string]colRef
	navs   map[string]*TableRef
	// link is the link table of a M2M target, and order its order column.
	link  *TableRef
	order string
}

// Node returns the node of the referenced table, or nil for link tables.
func (r *TableRef) Node() *Node { return r.node }

// Alias returns the table alias.
func (r *TableRef) Alias() string { return r.table.Alias() }

// Joined reports whether the table appears in the FROM clause.
func (r *TableRef) Joined() bool { return r.joined }

// C returns the qualified column, answering it from the other side of a
// join-equals substitution when the table is not joined yet.
func (r *TableRef) C(column string) string {
	if eq, ok := r.equals[column]; ok && !r.joined {
		return eq.ref.C(eq.column)
	}
	r.Require()
	return r.table.C(column)
}

// Key returns the qualified key column of a node reference.
func (r *TableRef) Key() string {
	return r.C(r.node.ID.Column)
}

// Require materializes the join of the table and of its parents.
func (r *TableRef) Require() {
	if r.joined {
		return
	}
	// The condition refers to the parent side, which is joined first.
	on := r.on()
	if r.qs.outer {
		r.qs.selector.LeftJoin(r.table)
	} else {
		r.qs.selector.Join(r.table)
	}
	r.qs.selector.OnP(on)
	r.joined = true
	if r.distinct {
		r.qs.SetDistinctRequired()
	}
}

// Join returns the reference reached through the navigation property. The
// same navigation is joined at most once per reference.
func (r *TableRef) Join(nav string) (*TableRef, error) {
	if j, ok := r.navs[nav]; ok {
		return j, nil
	}
	if r.node == nil {
		return nil, fmt.Errorf("sqlgraph: cannot navigate %q from link table %s", nav, r.table.Name())
	}
	e, ok := r.node.Edges[nav]
	if !ok {
		return nil, fmt.Errorf("sqlgraph: unknown navigation property %s.%s", r.node.Type, nav)
	}
	j, err := e.Relation.Join(r.qs, r)
	if err != nil {
		return nil, err
	}
	r.navs[nav] = j
	return j, nil
}

// OrderColumn returns the qualified order column of a reference reached
// through an ordered relation.
func (r *TableRef) OrderColumn() (string, bool) {
	if r.link == nil || r.order == "" {
		return "", false
	}
	return r.link.C(r.order), true
}
