package schema

import (
	"fmt"

	"github.com/syssam/sensorthings/dialect/sql/sqlgraph"
	"github.com/syssam/sensorthings/schema/field"
)

// ReferenceOption for foreign keys.
type ReferenceOption string

// Reference options.
const (
	NoAction ReferenceOption = "NO ACTION"
	Restrict ReferenceOption = "RESTRICT"
	Cascade  ReferenceOption = "CASCADE"
	SetNull  ReferenceOption = "SET NULL"
)

type (
	// Table describes a table.
	Table struct {
		Name        string
		Columns     []*Column
		PrimaryKey  []*Column
		ForeignKeys []*ForeignKey
		Indexes     []*Index
		// Link marks link tables, which have no primary key.
		Link bool
	}

	// Column describes a column.
	Column struct {
		Name      string
		Type      field.Type
		Nullable  bool
		Unique    bool
		Increment bool
		Default   any
		// Size bounds string columns that MySQL must index.
		Size int64
	}

	// ForeignKey describes a foreign key constraint.
	ForeignKey struct {
		Symbol     string
		Columns    []*Column
		RefTable   *Table
		RefColumns []*Column
		OnDelete   ReferenceOption
	}

	// Index describes an index.
	Index struct {
		Name    string
		Unique  bool
		Columns []*Column
	}
)

// NewTable returns a new table with the given name.
func NewTable(name string) *Table {
	return &Table{Name: name}
}

// AddColumn adds a column to the table.
func (t *Table) AddColumn(c *Column) *Table {
	t.Columns = append(t.Columns, c)
	return t
}

// AddPrimary adds a primary key column to the table.
func (t *Table) AddPrimary(c *Column) *Table {
	t.Columns = append(t.Columns, c)
	t.PrimaryKey = append(t.PrimaryKey, c)
	return t
}

// AddForeignKey adds a foreign key to the table.
func (t *Table) AddForeignKey(fk *ForeignKey) *Table {
	t.ForeignKeys = append(t.ForeignKeys, fk)
	return t
}

// AddIndex creates and adds a new index on the given columns.
func (t *Table) AddIndex(name string, unique bool, columns []string) *Table {
	idx := &Index{Name: name, Unique: unique}
	for _, name := range columns {
		c, ok := t.Column(name)
		if !ok {
			c = &Column{Name: name}
		}
		idx.Columns = append(idx.Columns, c)
	}
	t.Indexes = append(t.Indexes, idx)
	return t
}

// HasColumn reports if the table contains a column with the given name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// Column returns the column with the given name, if it exists.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Index returns the index with the given name, if it exists.
func (t *Table) Index(name string) (*Index, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return nil, false
}

// Tables returns the tables of the mapping: one per node, in an order where
// referenced tables come first, followed by the link tables.
func Tables(g *sqlgraph.Schema) ([]*Table, error) {
	var (
		tables = make([]*Table, 0, len(g.Nodes))
		byNode = make(map[*sqlgraph.Node]*Table, len(g.Nodes))
	)
	for _, n := range g.Nodes {
		t := NewTable(n.Table)
		t.AddPrimary(&Column{Name: n.ID.Column, Type: n.ID.Type, Increment: n.ID.Type == field.TypeInt64})
		for _, p := range n.EntityType().EntityProperties() {
			if p.IsKey() {
				continue
			}
			fs := n.Fields[p.Name()]
			t.AddColumn(&Column{Name: fs.Column, Type: fs.Type, Nullable: p.IsNullable()})
		}
		byNode[n] = t
		tables = append(tables, t)
	}
	links := make(map[string]*Table)
	for _, n := range g.Nodes {
		t := byNode[n]
		for _, e := range n.ForeignKeys() {
			col := &Column{Name: e.Spec.Columns[0], Type: e.To.ID.Type, Nullable: !e.Nav.IsRequired()}
			onDelete := SetNull
			if !col.Nullable {
				onDelete = Cascade
			}
			t.AddColumn(col)
			t.AddForeignKey(&ForeignKey{
				Symbol:     fmt.Sprintf("%s_%s_%s", t.Name, byNode[e.To].Name, col.Name),
				Columns:    []*Column{col},
				RefTable:   byNode[e.To],
				RefColumns: byNode[e.To].PrimaryKey,
				OnDelete:   onDelete,
			})
			t.AddIndex(fmt.Sprintf("%s_%s", t.Name, col.Name), false, []string{col.Name})
		}
		for _, e := range n.Edges {
			if (e.Spec.Rel != sqlgraph.M2M && e.Spec.Rel != sqlgraph.M2MOrdered) || e.Spec.Inverse {
				continue
			}
			if _, ok := links[e.Spec.Table]; ok {
				continue
			}
			links[e.Spec.Table] = linkTable(e, byNode)
		}
	}
	sorted, err := sortTables(tables)
	if err != nil {
		return nil, err
	}
	for _, n := range g.Nodes {
		for _, np := range n.EntityType().NavigationProperties() {
			if t, ok := links[n.Edges[np.Name()].Spec.Table]; ok {
				sorted = append(sorted, t)
				delete(links, t.Name)
			}
		}
	}
	return sorted, nil
}

func linkTable(e *sqlgraph.Edge, byNode map[*sqlgraph.Node]*Table) *Table {
	var (
		t          = NewTable(e.Spec.Table)
		owner, ref = e.From, e.To
	)
	t.Link = true
	for i, n := range []*sqlgraph.Node{owner, ref} {
		col := &Column{Name: e.Spec.Columns[i], Type: n.ID.Type}
		t.AddColumn(col)
		t.AddForeignKey(&ForeignKey{
			Symbol:     fmt.Sprintf("%s_%s", t.Name, col.Name),
			Columns:    []*Column{col},
			RefTable:   byNode[n],
			RefColumns: byNode[n].PrimaryKey,
			OnDelete:   Cascade,
		})
	}
	if e.Spec.Rel == sqlgraph.M2MOrdered {
		group := e.Spec.Columns[0]
		if e.Spec.GroupByTarget {
			group = e.Spec.Columns[1]
		}
		t.AddColumn(&Column{Name: e.Spec.OrderColumn, Type: field.TypeInt64})
		// Two links of one group never share an order value.
		t.AddIndex(fmt.Sprintf("%s_%s_%s", t.Name, group, e.Spec.OrderColumn), true, []string{group, e.Spec.OrderColumn})
	} else {
		t.AddIndex(fmt.Sprintf("%s_%s", t.Name, e.Spec.Columns[0]), false, []string{e.Spec.Columns[0]})
	}
	t.AddIndex(fmt.Sprintf("%s_%s", t.Name, e.Spec.Columns[1]), false, []string{e.Spec.Columns[1]})
	return t
}

// sortTables orders the tables so that every table comes after the tables
// its foreign keys reference.
func sortTables(tables []*Table) ([]*Table, error) {
	const (
		visiting = iota + 1
		done
	)
	var (
		state  = make(map[*Table]int, len(tables))
		sorted = make([]*Table, 0, len(tables))
		visit  func(*Table) error
	)
	visit = func(t *Table) error {
		switch state[t] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("schema: foreign keys of table %q form a cycle", t.Name)
		}
		state[t] = visiting
		for _, fk := range t.ForeignKeys {
			if fk.RefTable != t {
				if err := visit(fk.RefTable); err != nil {
					return err
				}
			}
		}
		state[t] = done
		sorted = append(sorted, t)
		return nil
	}
	for _, t := range tables {
		if err := visit(t); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}

