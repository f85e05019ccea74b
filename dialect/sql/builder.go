package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/sensorthings/dialect"
)

// Querier wraps the basic Query method that is implemented
// by the different builders in this file.
type Querier interface {
	// Query returns the query representation of the element
	// and its arguments (if any).
	Query() (string, []any)
}

// Builder is the rendering buffer shared by all statements and predicates.
// Nested statements render into the same Builder, so placeholders are
// numbered in one sequence.
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
}

// NewBuilder returns a Builder rendering for the given dialect.
func NewBuilder(d string) *Builder {
	return &Builder{dialect: d}
}

// Dialect returns the dialect of the builder.
func (b *Builder) Dialect() string { return b.dialect }

// WriteString writes the string as-is.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Byte writes the byte as-is.
func (b *Builder) Byte(c byte) *Builder {
	b.sb.WriteByte(c)
	return b
}

// Pad writes a single space.
func (b *Builder) Pad() *Builder { return b.Byte(' ') }

// Ident writes the identifier quoted for the dialect. Dotted identifiers
// ("t0.name") are quoted per part; "*" and expressions are written as-is.
func (b *Builder) Ident(s string) *Builder {
	switch {
	case s == "*" || strings.ContainsAny(s, "(`\" "):
		return b.WriteString(s)
	case strings.Contains(s, "."):
		parts := strings.Split(s, ".")
		for i, p := range parts {
			if i > 0 {
				b.Byte('.')
			}
			b.quote(p)
		}
		return b
	default:
		return b.quote(s)
	}
}

// IdentComma writes the identifiers separated by commas.
func (b *Builder) IdentComma(s ...string) *Builder {
	for i := range s {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(s[i])
	}
	return b
}

func (b *Builder) quote(s string) *Builder {
	if s == "*" {
		return b.WriteString(s)
	}
	q := "`"
	if b.dialect == dialect.Postgres {
		q = `"`
	}
	return b.WriteString(q + s + q)
}

// Arg writes a placeholder for the argument. Expressions and nested
// selectors are rendered inline.
func (b *Builder) Arg(a any) *Builder {
	switch a := a.(type) {
	case Expression:
		a(b)
		return b
	case *Selector:
		b.Byte('(')
		a.render(b)
		return b.Byte(')')
	}
	b.args = append(b.args, a)
	if b.dialect == dialect.Postgres {
		return b.WriteString("$" + strconv.Itoa(len(b.args)))
	}
	return b.Byte('?')
}

// Args writes placeholders for the arguments separated by commas.
func (b *Builder) Args(a ...any) *Builder {
	for i := range a {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Arg(a[i])
	}
	return b
}

// String returns the rendered statement.
func (b *Builder) String() string { return b.sb.String() }

// Query returns the rendered statement and its arguments.
func (b *Builder) Query() (string, []any) { return b.sb.String(), b.args }

// Expression renders a SQL fragment into a Builder.
type Expression func(*Builder)

// Raw returns an expression written as-is.
func Raw(s string) Expression {
	return func(b *Builder) { b.WriteString(s) }
}

// Expr returns an expression with "?" placeholders bound to args.
func Expr(s string, args ...any) Expression {
	return func(b *Builder) {
		for i := 0; ; i++ {
			j := strings.IndexByte(s, '?')
			if j < 0 || i >= len(args) {
				b.WriteString(s)
				return
			}
			b.WriteString(s[:j])
			b.Arg(args[i])
			s = s[j+1:]
		}
	}
}

// Arg returns an expression holding a single bound argument.
func Arg(v any) Expression {
	return func(b *Builder) { b.Arg(v) }
}

// Column returns an expression referencing a column.
func Column(name string) Expression {
	return func(b *Builder) { b.Ident(name) }
}

// As returns an expression aliasing another expression.
func As(e Expression, alias string) Expression {
	return func(b *Builder) {
		e(b)
		b.WriteString(" AS ").Ident(alias)
	}
}

// CountAll returns COUNT(*).
func CountAll() Expression { return Raw("COUNT(*)") }

// CountDistinct returns COUNT(DISTINCT column).
func CountDistinct(column string) Expression {
	return func(b *Builder) {
		b.WriteString("COUNT(DISTINCT ").Ident(column).Byte(')')
	}
}

// TableView is a table or a derived table that can be selected from.
type TableView interface {
	view()
}

// SelectTable is a table reference with an optional alias.
type SelectTable struct {
	name string
	as   string
}

// Table returns a new table reference.
func Table(name string) *SelectTable {
	return &SelectTable{name: name}
}

// As sets the table alias.
func (t *SelectTable) As(alias string) *SelectTable {
	t.as = alias
	return t
}

// Name returns the table name.
func (t *SelectTable) Name() string { return t.name }

// Alias returns the alias, or the table name if none is set.
func (t *SelectTable) Alias() string {
	if t.as != "" {
		return t.as
	}
	return t.name
}

// C returns the qualified column name.
func (t *SelectTable) C(column string) string {
	return t.Alias() + "." + column
}

func (t *SelectTable) render(b *Builder) {
	b.Ident(t.name)
	if t.as != "" {
		b.WriteString(" AS ").Ident(t.as)
	}
}

func (*SelectTable) view() {}

type join struct {
	kind  string
	table TableView
	on    *Predicate
}

type order struct {
	column string
	desc   bool
}

// Selector is a builder for the SELECT statement.
type Selector struct {
	dialect   string
	distinct  bool
	columns   []Expression
	from      TableView
	as        string
	joins     []join
	where     *Predicate
	order     []order
	limit     *int
	offset    *int
	forUpdate bool
}

// Select returns a new selector for the given columns.
func Select(columns ...string) *Selector {
	return (&Selector{}).Select(columns...)
}

// SetDialect sets the dialect used by Query.
func (s *Selector) SetDialect(d string) *Selector {
	s.dialect = d
	return s
}

// Select replaces the selected columns.
func (s *Selector) Select(columns ...string) *Selector {
	s.columns = s.columns[:0]
	return s.AppendSelect(columns...)
}

// AppendSelect appends columns to the selection.
func (s *Selector) AppendSelect(columns ...string) *Selector {
	for _, c := range columns {
		s.columns = append(s.columns, Column(c))
	}
	return s
}

// AppendSelectExpr appends expressions to the selection.
func (s *Selector) AppendSelectExpr(exprs ...Expression) *Selector {
	s.columns = append(s.columns, exprs...)
	return s
}

// SelectedLen returns the number of selected columns.
func (s *Selector) SelectedLen() int { return len(s.columns) }

// Distinct marks the selection as DISTINCT.
func (s *Selector) Distinct() *Selector {
	s.distinct = true
	return s
}

// IsDistinct reports whether the selection is DISTINCT.
func (s *Selector) IsDistinct() bool { return s.distinct }

// From sets the table or derived table to select from.
func (s *Selector) From(t TableView) *Selector {
	s.from = t
	return s
}

// As sets the alias of the selector when it is used as a derived table.
func (s *Selector) As(alias string) *Selector {
	s.as = alias
	return s
}

// Join appends an INNER JOIN.
func (s *Selector) Join(t TableView) *Selector {
	s.joins = append(s.joins, join{kind: "JOIN", table: t})
	return s
}

// LeftJoin appends a LEFT JOIN.
func (s *Selector) LeftJoin(t TableView) *Selector {
	s.joins = append(s.joins, join{kind: "LEFT JOIN", table: t})
	return s
}

// On sets the condition of the last join to c1 = c2.
func (s *Selector) On(c1, c2 string) *Selector {
	return s.OnP(ColumnsEQ(c1, c2))
}

// OnP sets the condition of the last join.
func (s *Selector) OnP(p *Predicate) *Selector {
	if n := len(s.joins); n > 0 {
		s.joins[n-1].on = p
	}
	return s
}

// JoinedLen returns the number of joins.
func (s *Selector) JoinedLen() int { return len(s.joins) }

// Where appends a predicate, combined with AND.
func (s *Selector) Where(p *Predicate) *Selector {
	if p == nil {
		return s
	}
	if s.where == nil {
		s.where = p
	} else {
		s.where = And(s.where, p)
	}
	return s
}

// P returns the WHERE predicate.
func (s *Selector) P() *Predicate { return s.where }

// OrderBy appends an ordering term.
func (s *Selector) OrderBy(column string, desc bool) *Selector {
	s.order = append(s.order, order{column: column, desc: desc})
	return s
}

// Limit sets the LIMIT clause.
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset sets the OFFSET clause.
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// ForUpdate locks the selected rows (ignored by SQLite).
func (s *Selector) ForUpdate() *Selector {
	s.forUpdate = true
	return s
}

// Query returns the statement and its arguments.
func (s *Selector) Query() (string, []any) {
	b := NewBuilder(s.dialect)
	s.render(b)
	return b.Query()
}

func (s *Selector) render(b *Builder) {
	b.WriteString("SELECT ")
	if s.distinct {
		b.WriteString("DISTINCT ")
	}
	if len(s.columns) == 0 {
		b.Byte('*')
	}
	for i, c := range s.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		c(b)
	}
	if s.from != nil {
		b.WriteString(" FROM ")
		renderView(b, s.from)
	}
	for _, j := range s.joins {
		b.Pad().WriteString(j.kind).Pad()
		renderView(b, j.table)
		if j.on != nil {
			b.WriteString(" ON ")
			j.on.render(b)
		}
	}
	if s.where != nil {
		b.WriteString(" WHERE ")
		s.where.render(b)
	}
	if len(s.order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range s.order {
			if i > 0 {
				b.WriteString(", ")
			}
			b.Ident(o.column)
			if o.desc {
				b.WriteString(" DESC")
			}
		}
	}
	switch {
	case s.limit != nil:
		b.WriteString(" LIMIT " + strconv.Itoa(*s.limit))
	case s.offset != nil && b.dialect == dialect.MySQL:
		b.WriteString(" LIMIT 18446744073709551615")
	case s.offset != nil && b.dialect == dialect.SQLite:
		b.WriteString(" LIMIT -1")
	}
	if s.offset != nil {
		b.WriteString(" OFFSET " + strconv.Itoa(*s.offset))
	}
	if s.forUpdate && b.dialect != dialect.SQLite {
		b.WriteString(" FOR UPDATE")
	}
}

func (*Selector) view() {}

func renderView(b *Builder, t TableView) {
	switch t := t.(type) {
	case *SelectTable:
		t.render(b)
	case *Selector:
		b.Byte('(')
		t.render(b)
		b.Byte(')')
		if t.as != "" {
			b.WriteString(" AS ").Ident(t.as)
		}
	}
}

// InsertBuilder is a builder for the INSERT statement.
type InsertBuilder struct {
	dialect   string
	table     string
	columns   []string
	values    [][]any
	sel       *Selector
	returning []string
}

// Insert returns a new INSERT builder for the table.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// SetDialect sets the dialect used by Query.
func (i *InsertBuilder) SetDialect(d string) *InsertBuilder {
	i.dialect = d
	return i
}

// Columns sets the inserted columns.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = append(i.columns, columns...)
	return i
}

// Values appends a row of values. Values may be expressions or selectors.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values)
	return i
}

// Select inserts the rows produced by the selector instead of VALUES.
func (i *InsertBuilder) Select(s *Selector) *InsertBuilder {
	i.sel = s
	return i
}

// Returning sets the RETURNING clause (PostgreSQL and SQLite only).
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = columns
	return i
}

// Query returns the statement and its arguments.
func (i *InsertBuilder) Query() (string, []any) {
	b := NewBuilder(i.dialect)
	b.WriteString("INSERT INTO ").Ident(i.table)
	switch {
	case i.sel != nil:
		b.WriteString(" (").IdentComma(i.columns...).WriteString(") ")
		i.sel.render(b)
	case len(i.columns) == 0 && b.dialect == dialect.MySQL:
		b.WriteString(" () VALUES ()")
	case len(i.columns) == 0:
		b.WriteString(" DEFAULT VALUES")
	default:
		b.WriteString(" (").IdentComma(i.columns...).WriteString(") VALUES ")
		for j, row := range i.values {
			if j > 0 {
				b.WriteString(", ")
			}
			b.Byte('(').Args(row...).Byte(')')
		}
	}
	if len(i.returning) > 0 && b.dialect != dialect.MySQL {
		b.WriteString(" RETURNING ").IdentComma(i.returning...)
	}
	return b.Query()
}

type assignment struct {
	column string
	value  any
}

// UpdateBuilder is a builder for the UPDATE statement.
type UpdateBuilder struct {
	dialect string
	table   string
	set     []assignment
	where   *Predicate
}

// Update returns a new UPDATE builder for the table.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// SetDialect sets the dialect used by Query.
func (u *UpdateBuilder) SetDialect(d string) *UpdateBuilder {
	u.dialect = d
	return u
}

// Set sets a column to a value. Values may be expressions.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.set = append(u.set, assignment{column: column, value: v})
	return u
}

// SetNull sets a column to NULL.
func (u *UpdateBuilder) SetNull(column string) *UpdateBuilder {
	return u.Set(column, Raw("NULL"))
}

// Add adds delta to a numeric column.
func (u *UpdateBuilder) Add(column string, delta any) *UpdateBuilder {
	return u.Set(column, Expression(func(b *Builder) {
		b.Ident(column).WriteString(" + ").Arg(delta)
	}))
}

// Empty reports whether the builder has no assignments.
func (u *UpdateBuilder) Empty() bool { return len(u.set) == 0 }

// Where appends a predicate, combined with AND.
func (u *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	if p == nil {
		return u
	}
	if u.where == nil {
		u.where = p
	} else {
		u.where = And(u.where, p)
	}
	return u
}

// Query returns the statement and its arguments.
func (u *UpdateBuilder) Query() (string, []any) {
	b := NewBuilder(u.dialect)
	b.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	for i, a := range u.set {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(a.column).WriteString(" = ").Arg(a.value)
	}
	if u.where != nil {
		b.WriteString(" WHERE ")
		u.where.render(b)
	}
	return b.Query()
}

// DeleteBuilder is a builder for the DELETE statement.
type DeleteBuilder struct {
	dialect string
	table   string
	where   *Predicate
	limit   *int
}

// Delete returns a new DELETE builder for the table.
func Delete(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// SetDialect sets the dialect used by Query.
func (d *DeleteBuilder) SetDialect(name string) *DeleteBuilder {
	d.dialect = name
	return d
}

// Where appends a predicate, combined with AND.
func (d *DeleteBuilder) Where(p *Predicate) *DeleteBuilder {
	if p == nil {
		return d
	}
	if d.where == nil {
		d.where = p
	} else {
		d.where = And(d.where, p)
	}
	return d
}

// Limit bounds the number of deleted rows. PostgreSQL and SQLite lack
// DELETE ... LIMIT; the bound is applied on the physical row id instead.
func (d *DeleteBuilder) Limit(n int) *DeleteBuilder {
	d.limit = &n
	return d
}

// Query returns the statement and its arguments.
func (d *DeleteBuilder) Query() (string, []any) {
	b := NewBuilder(d.dialect)
	b.WriteString("DELETE FROM ").Ident(d.table)
	if d.limit != nil && b.dialect != dialect.MySQL {
		rowid := "rowid"
		if b.dialect == dialect.Postgres {
			rowid = "ctid"
		}
		b.WriteString(" WHERE " + rowid + " IN (SELECT " + rowid + " FROM ").Ident(d.table)
		if d.where != nil {
			b.WriteString(" WHERE ")
			d.where.render(b)
		}
		b.WriteString(" LIMIT " + strconv.Itoa(*d.limit) + ")")
		return b.Query()
	}
	if d.where != nil {
		b.WriteString(" WHERE ")
		d.where.render(b)
	}
	if d.limit != nil {
		b.WriteString(" LIMIT " + strconv.Itoa(*d.limit))
	}
	return b.Query()
}

// DialectBuilder prefixes all statements with one dialect.
type DialectBuilder struct {
	dialect string
}

// Dialect creates a new DialectBuilder with the given dialect name.
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{dialect: name}
}

// Select returns a Selector for the dialect.
func (d *DialectBuilder) Select(columns ...string) *Selector {
	return Select(columns...).SetDialect(d.dialect)
}

// Insert returns an InsertBuilder for the dialect.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	return Insert(table).SetDialect(d.dialect)
}

// Update returns an UpdateBuilder for the dialect.
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	return Update(table).SetDialect(d.dialect)
}

// Delete returns a DeleteBuilder for the dialect.
func (d *DialectBuilder) Delete(table string) *DeleteBuilder {
	return Delete(table).SetDialect(d.dialect)
}
