package sqlgraph

import (
	"fmt"
	"reflect"

	"github.com/syssam/sensorthings/dialect/sql"
	"github.com/syssam/sensorthings/querylanguage"
	"github.com/syssam/sensorthings/schema/field"
)

// EvalP evaluates the filter on the entities of ref. Fields are resolved
// through the join graph of the state.
func (qs *QueryState) EvalP(ref *TableRef, p querylanguage.P) (*sql.Predicate, error) {
	if p == nil {
		return nil, nil
	}
	return qs.evalExpr(ref, p)
}

func (qs *QueryState) evalExpr(ref *TableRef, expr querylanguage.Expr) (*sql.Predicate, error) {
	switch e := expr.(type) {
	case *querylanguage.UnaryExpr:
		if e.Op != querylanguage.OpNot {
			return nil, fmt.Errorf("sqlgraph: unexpected unary operator %s", e.Op)
		}
		x, err := qs.evalExpr(ref, e.X)
		if err != nil {
			return nil, err
		}
		return sql.Not(x), nil
	case *querylanguage.BinaryExpr:
		switch e.Op {
		case querylanguage.OpAnd, querylanguage.OpOr:
			return qs.evalBool(ref, e.Op, e.X, e.Y)
		default:
			return qs.evalCompare(ref, e)
		}
	case *querylanguage.NaryExpr:
		return qs.evalBool(ref, e.Op, e.Xs...)
	case *querylanguage.CallExpr:
		return qs.evalCall(ref, e)
	default:
		return nil, fmt.Errorf("sqlgraph: unexpected expression %s (%T)", expr, expr)
	}
}

func (qs *QueryState) evalBool(ref *TableRef, op querylanguage.Op, xs ...querylanguage.Expr) (*sql.Predicate, error) {
	preds := make([]*sql.Predicate, 0, len(xs))
	for _, x := range xs {
		p, err := qs.evalExpr(ref, x)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	switch op {
	case querylanguage.OpAnd:
		return sql.And(preds...), nil
	case querylanguage.OpOr:
		return sql.Or(preds...), nil
	default:
		return nil, fmt.Errorf("sqlgraph: unexpected boolean operator %s", op)
	}
}

var binary = [...]string{
	querylanguage.OpEQ:  "=",
	querylanguage.OpNEQ: "<>",
	querylanguage.OpGT:  ">",
	querylanguage.OpGTE: ">=",
	querylanguage.OpLT:  "<",
	querylanguage.OpLTE: "<=",
}

func (qs *QueryState) evalCompare(ref *TableRef, e *querylanguage.BinaryExpr) (*sql.Predicate, error) {
	f, ok := e.X.(*querylanguage.Field)
	if !ok {
		return nil, fmt.Errorf("sqlgraph: expect field on the left of %s, got %T", e.Op, e.X)
	}
	col, fs, err := qs.Field(ref, f.Name)
	if err != nil {
		return nil, err
	}
	switch y := e.Y.(type) {
	case *querylanguage.Field:
		if e.Op == querylanguage.OpIn || e.Op == querylanguage.OpNotIn {
			return nil, fmt.Errorf("sqlgraph: operator %s expects a list value", e.Op)
		}
		col2, _, err := qs.Field(ref, y.Name)
		if err != nil {
			return nil, err
		}
		return sql.ColumnsOp(col, binary[e.Op], col2), nil
	case *querylanguage.Value:
		if y == nil {
			switch e.Op {
			case querylanguage.OpEQ:
				return sql.IsNull(col), nil
			case querylanguage.OpNEQ:
				return sql.NotNull(col), nil
			default:
				return nil, fmt.Errorf("sqlgraph: operator %s does not accept null", e.Op)
			}
		}
		switch e.Op {
		case querylanguage.OpIn, querylanguage.OpNotIn:
			vs, err := list(y.V)
			if err != nil {
				return nil, err
			}
			for i := range vs {
				vs[i] = convert(fs, vs[i])
			}
			if e.Op == querylanguage.OpIn {
				return sql.In(col, vs...), nil
			}
			return sql.NotIn(col, vs...), nil
		case querylanguage.OpEQ, querylanguage.OpNEQ, querylanguage.OpGT, querylanguage.OpGTE, querylanguage.OpLT, querylanguage.OpLTE:
			v := convert(fs, y.V)
			return sql.P(func(b *sql.Builder) {
				b.Ident(col).WriteString(" " + binary[e.Op] + " ").Arg(v)
			}), nil
		}
		return nil, fmt.Errorf("sqlgraph: unexpected binary operator %s", e.Op)
	default:
		return nil, fmt.Errorf("sqlgraph: unexpected right operand %s (%T)", e.Y, e.Y)
	}
}

func (qs *QueryState) evalCall(ref *TableRef, e *querylanguage.CallExpr) (*sql.Predicate, error) {
	if e.Func == querylanguage.FuncHasEdge {
		if len(e.Args) == 0 {
			return nil, fmt.Errorf("sqlgraph: missing edge name for %s", e.Func)
		}
		edge, ok := e.Args[0].(*querylanguage.Edge)
		if !ok {
			return nil, fmt.Errorf("sqlgraph: expect edge for %s, got %T", e.Func, e.Args[0])
		}
		return qs.hasEdge(ref, edge.Name, e.Args[1:])
	}
	if len(e.Args) != 2 {
		return nil, fmt.Errorf("sqlgraph: %s expects 2 arguments, got %d", e.Func, len(e.Args))
	}
	f, ok := e.Args[0].(*querylanguage.Field)
	if !ok {
		return nil, fmt.Errorf("sqlgraph: expect field for %s, got %T", e.Func, e.Args[0])
	}
	v, ok := e.Args[1].(*querylanguage.Value)
	if !ok || v == nil {
		return nil, fmt.Errorf("sqlgraph: expect value for %s, got %T", e.Func, e.Args[1])
	}
	s, ok := v.V.(string)
	if !ok {
		return nil, fmt.Errorf("sqlgraph: %s expects a string, got %T", e.Func, v.V)
	}
	col, _, err := qs.Field(ref, f.Name)
	if err != nil {
		return nil, err
	}
	switch e.Func {
	case querylanguage.FuncEqualFold:
		return sql.EqualFold(col, s), nil
	case querylanguage.FuncContains:
		return sql.Contains(col, s), nil
	case querylanguage.FuncContainsFold:
		return sql.ContainsFold(col, s), nil
	case querylanguage.FuncHasPrefix:
		return sql.HasPrefix(col, s), nil
	case querylanguage.FuncHasSuffix:
		return sql.HasSuffix(col, s), nil
	default:
		return nil, fmt.Errorf("sqlgraph: unexpected function %s", e.Func)
	}
}

// hasEdge returns an EXISTS predicate on the target of the navigation
// property, correlated through the inverse navigation property.
func (qs *QueryState) hasEdge(ref *TableRef, name string, preds []querylanguage.Expr) (*sql.Predicate, error) {
	if ref.node == nil {
		return nil, fmt.Errorf("sqlgraph: cannot navigate %q from link table %s", name, ref.table.Name())
	}
	e, ok := ref.node.Edges[name]
	if !ok {
		return nil, fmt.Errorf("sqlgraph: unknown navigation property %s.%s", ref.node.Type, name)
	}
	inv, ok := e.Inverse()
	if !ok {
		return nil, fmt.Errorf("sqlgraph: navigation property %s.%s has no inverse", ref.node.Type, name)
	}
	sub := qs.Sub()
	target := sub.Root(e.To)
	back, err := target.Join(inv.Name)
	if err != nil {
		return nil, err
	}
	sub.selector.AppendSelectExpr(sql.Raw("1"))
	sub.selector.Where(sql.ColumnsEQ(back.Key(), ref.Key()))
	for _, x := range preds {
		p, err := sub.evalExpr(target, x)
		if err != nil {
			return nil, err
		}
		sub.selector.Where(p)
	}
	return sql.Exists(sub.selector), nil
}

// Field returns the qualified column of a property, following the
// navigation steps of its name.
func (qs *QueryState) Field(ref *TableRef, name string) (string, *FieldSpec, error) {
	navs, prop := querylanguage.F(name).Path()
	r := ref
	for _, nav := range navs {
		j, err := r.Join(nav)
		if err != nil {
			return "", nil, err
		}
		r = j
	}
	if r.node == nil {
		return "", nil, fmt.Errorf("sqlgraph: unexpected property %q of link table", name)
	}
	fs, ok := r.node.Field(prop)
	if !ok {
		return "", nil, fmt.Errorf("sqlgraph: unknown property %s.%s", r.node.Type, prop)
	}
	return r.C(fs.Column), fs, nil
}

// convert returns the column value of a filter value, or the value itself
// when it does not match the property type and the database is left to
// coerce it.
func convert(fs *FieldSpec, v any) any {
	_, isString := v.(string)
	if fs.Type.Check(v) != nil && !(fs.Type == field.TypeTime && isString) {
		return v
	}
	if dv, err := fs.Value(v); err == nil {
		return dv
	}
	return v
}

func list(v any) ([]any, error) {
	if vs, ok := v.([]any); ok {
		return append([]any(nil), vs...), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("sqlgraph: expect a list value, got %T", v)
	}
	vs := make([]any, rv.Len())
	for i := range vs {
		vs[i] = rv.Index(i).Interface()
	}
	return vs, nil
}
