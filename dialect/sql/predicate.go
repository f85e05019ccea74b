package sql

import (
	"strings"

	"github.com/syssam/sensorthings/dialect"
)

// Predicate is a boolean SQL expression used in WHERE and ON clauses.
type Predicate struct {
	// op is "AND" or "OR" for composite predicates.
	op  string
	fn  func(*Builder)
	sub []*Predicate
}

// P returns a predicate rendered by fn.
func P(fn func(*Builder)) *Predicate {
	return &Predicate{fn: fn}
}

// ExprP returns a predicate from a raw expression with "?" placeholders.
func ExprP(s string, args ...any) *Predicate {
	return P(Expr(s, args...))
}

func (p *Predicate) render(b *Builder) {
	if p.op == "" {
		p.fn(b)
		return
	}
	for i, s := range p.sub {
		if i > 0 {
			b.Pad().WriteString(p.op).Pad()
		}
		if s.op != "" && len(s.sub) > 1 {
			b.Byte('(')
			s.render(b)
			b.Byte(')')
		} else {
			s.render(b)
		}
	}
}

// Query renders the predicate alone, for tests and debugging.
func (p *Predicate) Query() (string, []any) {
	b := NewBuilder("")
	p.render(b)
	return b.Query()
}

// QueryDialect renders the predicate for the given dialect.
func (p *Predicate) QueryDialect(d string) (string, []any) {
	b := NewBuilder(d)
	p.render(b)
	return b.Query()
}

func compose(op string, preds []*Predicate) *Predicate {
	var sub []*Predicate
	for _, p := range preds {
		if p != nil {
			sub = append(sub, p)
		}
	}
	switch len(sub) {
	case 0:
		return nil
	case 1:
		return sub[0]
	}
	return &Predicate{op: op, sub: sub}
}

// And combines the predicates with AND. Nil predicates are skipped.
func And(preds ...*Predicate) *Predicate { return compose("AND", preds) }

// Or combines the predicates with OR.
func Or(preds ...*Predicate) *Predicate { return compose("OR", preds) }

// Not negates the predicate.
func Not(pred *Predicate) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("NOT (")
		pred.render(b)
		b.Byte(')')
	})
}

func compare(column, op string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" " + op + " ").Arg(v)
	})
}

// EQ returns a "=" predicate.
func EQ(column string, v any) *Predicate { return compare(column, "=", v) }

// NEQ returns a "<>" predicate.
func NEQ(column string, v any) *Predicate { return compare(column, "<>", v) }

// GT returns a ">" predicate.
func GT(column string, v any) *Predicate { return compare(column, ">", v) }

// GTE returns a ">=" predicate.
func GTE(column string, v any) *Predicate { return compare(column, ">=", v) }

// LT returns a "<" predicate.
func LT(column string, v any) *Predicate { return compare(column, "<", v) }

// LTE returns a "<=" predicate.
func LTE(column string, v any) *Predicate { return compare(column, "<=", v) }

// ColumnsOp compares two columns with the given operator.
func ColumnsOp(c1, op, c2 string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(c1).WriteString(" " + op + " ").Ident(c2)
	})
}

// ColumnsEQ returns a predicate comparing two columns for equality.
func ColumnsEQ(c1, c2 string) *Predicate { return ColumnsOp(c1, "=", c2) }

// In returns an IN predicate. An empty list never matches.
func In(column string, vs ...any) *Predicate {
	if len(vs) == 0 {
		return ExprP("1 = 0")
	}
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" IN (").Args(vs...).Byte(')')
	})
}

// NotIn returns a NOT IN predicate. An empty list always matches.
func NotIn(column string, vs ...any) *Predicate {
	if len(vs) == 0 {
		return ExprP("1 = 1")
	}
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" NOT IN (").Args(vs...).Byte(')')
	})
}

// InSelect returns a predicate matching the column against a subquery.
func InSelect(column string, s *Selector) *Predicate {
	return P(func(b *Builder) {
		b.Ident(column).WriteString(" IN ").Arg(s)
	})
}

// IsNull returns an IS NULL predicate.
func IsNull(column string) *Predicate {
	return P(func(b *Builder) { b.Ident(column).WriteString(" IS NULL") })
}

// NotNull returns an IS NOT NULL predicate.
func NotNull(column string) *Predicate {
	return P(func(b *Builder) { b.Ident(column).WriteString(" IS NOT NULL") })
}

// Exists returns an EXISTS predicate on the subquery.
func Exists(s *Selector) *Predicate {
	return P(func(b *Builder) { b.WriteString("EXISTS ").Arg(s) })
}

// NotExists returns a NOT EXISTS predicate on the subquery.
func NotExists(s *Selector) *Predicate {
	return P(func(b *Builder) { b.WriteString("NOT EXISTS ").Arg(s) })
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func like(column, pattern string, fold bool) *Predicate {
	return P(func(b *Builder) {
		if fold {
			b.WriteString("LOWER(").Ident(column).WriteString(") LIKE ").Arg(strings.ToLower(pattern))
		} else {
			b.Ident(column).WriteString(" LIKE ").Arg(pattern)
		}
		if b.Dialect() == dialect.SQLite {
			b.WriteString(` ESCAPE '\'`)
		}
	})
}

// Contains returns a predicate matching values containing substr.
func Contains(column, substr string) *Predicate {
	return like(column, "%"+likeEscaper.Replace(substr)+"%", false)
}

// ContainsFold is Contains under case folding.
func ContainsFold(column, substr string) *Predicate {
	return like(column, "%"+likeEscaper.Replace(substr)+"%", true)
}

// HasPrefix returns a predicate matching values starting with prefix.
func HasPrefix(column, prefix string) *Predicate {
	return like(column, likeEscaper.Replace(prefix)+"%", false)
}

// HasSuffix returns a predicate matching values ending with suffix.
func HasSuffix(column, suffix string) *Predicate {
	return like(column, "%"+likeEscaper.Replace(suffix), false)
}

// EqualFold returns a case-insensitive equality predicate.
func EqualFold(column, s string) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("LOWER(").Ident(column).WriteString(") = ").Arg(strings.ToLower(s))
	})
}
