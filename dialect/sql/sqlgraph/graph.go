package sqlgraph

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	sensorthings "github.com/syssam/sensorthings"
	"github.com/syssam/sensorthings/entity"
	"github.com/syssam/sensorthings/schema"
	"github.com/syssam/sensorthings/schema/field"
)

// Rel is an edge relation type.
type Rel int

// Relation types.
const (
	Unk        Rel = iota // Unknown.
	O2M                   // One to many. The foreign key is on the target table.
	M2O                   // Many to one. The foreign key is on the source table.
	M2M                   // Many to many, through a link table.
	M2MOrdered            // Many to many with an order column on the link table.
)

// String returns the relation name.
func (r Rel) String() (s string) {
	switch r {
	case O2M:
		s = "O2M"
	case M2O:
		s = "M2O"
	case M2M:
		s = "M2M"
	case M2MOrdered:
		s = "M2MOrdered"
	default:
		s = "Unknown"
	}
	return s
}

type (
	// FieldSpec holds the column of a property and its value type.
	FieldSpec struct {
		Column string
		Type   field.Type
	}

	// NodeSpec defines the table and key of a node.
	NodeSpec struct {
		Table string
		ID    *FieldSpec
	}

	// Node is the mapping of one entity type.
	Node struct {
		NodeSpec

		// Type holds the entity type name.
		Type string
		// Fields maps entity property names to their columns. The key
		// property is answered by the ID spec.
		Fields map[string]*FieldSpec
		// Edges maps navigation property names to their edges.
		Edges map[string]*Edge

		typ *schema.EntityType
	}

	// EdgeSpec holds the information for mapping a navigation property.
	//
	// For O2M, Table is the target table and Columns holds the foreign key
	// column on it. For M2O, Table is the source table and Columns holds the
	// foreign key column on it. For M2M and M2MOrdered, Table is the link
	// table and Columns holds the column referencing the owner side followed
	// by the column referencing the other side; Inverse marks the edge
	// declared on the other side.
	EdgeSpec struct {
		Rel     Rel
		Inverse bool
		Table   string
		Columns []string
		// OrderColumn is the order column of M2MOrdered link tables. Orders
		// are counted per value of Columns[0], or per value of Columns[1]
		// when GroupByTarget is set.
		OrderColumn   string
		GroupByTarget bool
	}

	// Edge is a navigation property bound to its relation.
	Edge struct {
		Name     string
		Spec     *EdgeSpec
		From, To *Node
		Nav      *schema.NavigationProperty
		Relation Relation
	}

	// Schema is the mapping of a type registry onto tables.
	Schema struct {
		Nodes []*Node

		reg    *schema.Registry
		byType map[string]*Node
		bySet  map[string]*Node
	}
)

// NewSchema returns an empty mapping for the types of the registry.
func NewSchema(reg *schema.Registry) *Schema {
	return &Schema{
		reg:    reg,
		byType: make(map[string]*Node),
		bySet:  make(map[string]*Node),
	}
}

// Registry returns the type registry of the schema.
func (g *Schema) Registry() *schema.Registry { return g.reg }

// AddNode adds the mapping of a registered entity type.
func (g *Schema) AddNode(n *Node) error {
	t, ok := g.reg.Type(n.Type)
	if !ok {
		return fmt.Errorf("sqlgraph: unknown entity type %q", n.Type)
	}
	if _, ok := g.byType[n.Type]; ok {
		return fmt.Errorf("sqlgraph: node %q already added", n.Type)
	}
	if n.Table == "" || n.ID == nil || n.ID.Column == "" {
		return fmt.Errorf("sqlgraph: node %q has no table or key column", n.Type)
	}
	if pk := t.PrimaryKey(); pk.Arity() != 1 {
		return sensorthings.NewUnsupportedRelationError(n.Type, "map", fmt.Sprintf("primary key arity %d", pk.Arity()))
	}
	key, _ := t.PrimaryKey().Single()
	if n.ID.Type == field.TypeInvalid {
		n.ID.Type = key.Type()
	}
	if n.Fields == nil {
		n.Fields = make(map[string]*FieldSpec)
	}
	for name := range n.Fields {
		if _, ok := t.EntityProperty(name); !ok {
			return fmt.Errorf("sqlgraph: node %q maps unknown property %q", n.Type, name)
		}
	}
	for _, p := range t.EntityProperties() {
		fs, ok := n.Fields[p.Name()]
		switch {
		case p.IsKey():
		case !ok:
			return fmt.Errorf("sqlgraph: node %q has no column for property %q", n.Type, p.Name())
		case fs.Type == field.TypeInvalid:
			fs.Type = p.Type()
		}
	}
	n.typ = t
	n.Edges = make(map[string]*Edge)
	g.Nodes = append(g.Nodes, n)
	g.byType[n.Type] = n
	g.bySet[t.Plural()] = n
	return nil
}

// MustAddNode is like AddNode but panics on error.
func (g *Schema) MustAddNode(n *Node) *Schema {
	if err := g.AddNode(n); err != nil {
		panic(err)
	}
	return g
}

// AddE adds the edge of the navigation property nav from the node of type
// from to the node of type to.
func (g *Schema) AddE(nav string, spec *EdgeSpec, from, to string) error {
	fromN, ok := g.byType[from]
	if !ok {
		return fmt.Errorf("sqlgraph: from node %q was not found", from)
	}
	toN, ok := g.byType[to]
	if !ok {
		return fmt.Errorf("sqlgraph: to node %q was not found", to)
	}
	np, ok := fromN.typ.NavigationProperty(nav)
	if !ok {
		return fmt.Errorf("sqlgraph: type %s has no navigation property %q", from, nav)
	}
	if np.TargetName() != to {
		return fmt.Errorf("sqlgraph: navigation property %s.%s points to %s, not %s", from, nav, np.TargetName(), to)
	}
	if _, ok := fromN.Edges[nav]; ok {
		return fmt.Errorf("sqlgraph: edge %s.%s already added", from, nav)
	}
	if spec.Table == "" {
		return fmt.Errorf("sqlgraph: edge %s.%s has no table", from, nav)
	}
	e := &Edge{Name: nav, Spec: spec, From: fromN, To: toN, Nav: np}
	switch spec.Rel {
	case O2M, M2O:
		if len(spec.Columns) != 1 {
			return fmt.Errorf("sqlgraph: %s edge %s.%s expects 1 column, got %d", spec.Rel, from, nav, len(spec.Columns))
		}
		e.Relation = &OneToMany{edge: e}
	case M2M, M2MOrdered:
		if len(spec.Columns) != 2 {
			return fmt.Errorf("sqlgraph: %s edge %s.%s expects 2 columns, got %d", spec.Rel, from, nav, len(spec.Columns))
		}
		m := ManyToMany{edge: e}
		if spec.Rel == M2M {
			e.Relation = &m
			break
		}
		if spec.OrderColumn == "" {
			return fmt.Errorf("sqlgraph: ordered edge %s.%s has no order column", from, nav)
		}
		e.Relation = &ManyToManyOrdered{ManyToMany: m}
	default:
		return fmt.Errorf("sqlgraph: edge %s.%s has unknown relation %s", from, nav, spec.Rel)
	}
	fromN.Edges[nav] = e
	return nil
}

// MustAddE is like AddE but panics on error.
func (g *Schema) MustAddE(nav string, spec *EdgeSpec, from, to string) *Schema {
	if err := g.AddE(nav, spec, from, to); err != nil {
		panic(err)
	}
	return g
}

// Validate checks that every registered type has a node and every
// navigation property has an edge consistent with its inverse.
func (g *Schema) Validate() error {
	for _, t := range g.reg.Types() {
		n, ok := g.byType[t.Name()]
		if !ok {
			return fmt.Errorf("sqlgraph: type %s has no node", t.Name())
		}
		for _, np := range t.NavigationProperties() {
			e, ok := n.Edges[np.Name()]
			if !ok {
				return fmt.Errorf("sqlgraph: navigation property %s.%s has no edge", t.Name(), np.Name())
			}
			inv, ok := e.Inverse()
			if !ok {
				continue
			}
			if inv.Spec.Table != e.Spec.Table || !slices.Equal(inv.Spec.Columns, e.Spec.Columns) {
				return fmt.Errorf("sqlgraph: edge %s.%s and its inverse %s.%s map different columns", t.Name(), e.Name, inv.From.Type, inv.Name)
			}
			if !compatible(e.Spec.Rel, inv.Spec.Rel) {
				return fmt.Errorf("sqlgraph: edge %s.%s (%s) and its inverse (%s) disagree", t.Name(), e.Name, e.Spec.Rel, inv.Spec.Rel)
			}
		}
	}
	return nil
}

func compatible(a, b Rel) bool {
	switch a {
	case O2M:
		return b == M2O
	case M2O:
		return b == O2M
	default:
		return a == b
	}
}

// Node returns the node of the entity type.
func (g *Schema) Node(typ string) (*Node, bool) {
	n, ok := g.byType[typ]
	return n, ok
}

// NodeBySet returns the node of the entity type with the given entity set
// (plural) name.
func (g *Schema) NodeBySet(set string) (*Node, bool) {
	n, ok := g.bySet[set]
	return n, ok
}

// EntityType returns the entity type of the node.
func (n *Node) EntityType() *schema.EntityType { return n.typ }

// KeyName returns the name of the key property.
func (n *Node) KeyName() string {
	p, _ := n.typ.PrimaryKey().Single()
	return p.Name()
}

// Field returns the field spec of an entity property.
func (n *Node) Field(name string) (*FieldSpec, bool) {
	if name == n.KeyName() {
		return n.ID, true
	}
	fs, ok := n.Fields[name]
	return fs, ok
}

// ForeignKeys returns the M2O edges of the node, whose foreign keys are
// columns of the node table, in declaration order.
func (n *Node) ForeignKeys() []*Edge {
	var edges []*Edge
	for _, np := range n.typ.NavigationProperties() {
		if e, ok := n.Edges[np.Name()]; ok && e.Spec.Rel == M2O {
			edges = append(edges, e)
		}
	}
	return edges
}

// Values returns the columns and values of the entity properties set on e,
// followed by the foreign keys of set to-one navigation properties. The key
// is included only when withKey is set.
func (n *Node) Values(e *entity.Entity, withKey bool) ([]string, []any, error) {
	var (
		cols []string
		vals []any
	)
	if withKey && e.HasID() {
		v, err := n.ID.Value(e.ID().Single())
		if err != nil {
			return nil, nil, err
		}
		cols, vals = append(cols, n.ID.Column), append(vals, v)
	}
	for _, p := range n.typ.EntityProperties() {
		if p.IsKey() {
			continue
		}
		v, ok := e.Get(p.Name())
		if !ok {
			continue
		}
		fs := n.Fields[p.Name()]
		dv, err := fs.Value(v)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlgraph: %s.%s: %w", n.Type, p.Name(), err)
		}
		cols, vals = append(cols, fs.Column), append(vals, dv)
	}
	for _, fk := range n.ForeignKeys() {
		target, ok := e.Nav(fk.Name)
		if !ok {
			continue
		}
		var v any
		if target != nil {
			if !target.HasID() {
				return nil, nil, fmt.Errorf("sqlgraph: %s.%s references an entity without key", n.Type, fk.Name)
			}
			dv, err := fk.To.ID.Value(target.ID().Single())
			if err != nil {
				return nil, nil, err
			}
			v = dv
		}
		cols, vals = append(cols, fk.Spec.Columns[0]), append(vals, v)
	}
	return cols, vals, nil
}

// Inverse returns the edge of the inverse navigation property.
func (e *Edge) Inverse() (*Edge, bool) {
	name := e.Nav.InverseName()
	if name == "" {
		return nil, false
	}
	inv, ok := e.To.Edges[name]
	return inv, ok
}

// OwnColumns returns the link table columns referencing the source and the
// target of a M2M edge.
func (e *Edge) OwnColumns() (src, dst string) {
	src, dst = e.Spec.Columns[0], e.Spec.Columns[1]
	if e.Spec.Inverse {
		src, dst = dst, src
	}
	return src, dst
}

// Value converts a property value to its column value.
func (f *FieldSpec) Value(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Type {
	case field.TypeInt64:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int8:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case uint8:
			return int64(x), nil
		case uint16:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		case float64:
			return int64(x), nil
		}
	case field.TypeFloat64:
		switch x := v.(type) {
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		}
	case field.TypeTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, fmt.Errorf("sqlgraph: invalid time %q: %w", x, err)
			}
			return t.UTC(), nil
		}
	case field.TypeUUID:
		if x, ok := v.(uuid.UUID); ok {
			return x.String(), nil
		}
	case field.TypeJSON, field.TypeGeometry:
		if x, ok := v.(json.RawMessage); ok {
			return string(x), nil
		}
		buf, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("sqlgraph: marshal %s value: %w", f.Type, err)
		}
		return string(buf), nil
	}
	return v, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Scan converts a scanned column value to its property value.
func (f *FieldSpec) Scan(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok && f.Type != field.TypeUUID {
		v = string(b)
	}
	switch f.Type {
	case field.TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		case string:
			return strconv.ParseBool(x)
		}
	case field.TypeInt64:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int32:
			return int64(x), nil
		case int:
			return int64(x), nil
		case float64:
			return int64(x), nil
		case string:
			return strconv.ParseInt(x, 10, 64)
		}
	case field.TypeFloat64:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			return strconv.ParseFloat(x, 64)
		}
	case field.TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case int64:
			return strconv.FormatInt(x, 10), nil
		}
	case field.TypeTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, x); err == nil {
					return t.UTC(), nil
				}
			}
			return nil, fmt.Errorf("sqlgraph: invalid time %q", x)
		}
	case field.TypeUUID:
		switch x := v.(type) {
		case []byte:
			if len(x) == 16 {
				u, err := uuid.FromBytes(x)
				if err != nil {
					return nil, err
				}
				return u.String(), nil
			}
			return string(x), nil
		case string:
			return x, nil
		case uuid.UUID:
			return x.String(), nil
		}
	case field.TypeJSON, field.TypeGeometry:
		if x, ok := v.(string); ok {
			return json.RawMessage(x), nil
		}
	}
	return nil, fmt.Errorf("sqlgraph: unexpected value %v (%T) for column %s of type %s", v, v, f.Column, f.Type)
}
