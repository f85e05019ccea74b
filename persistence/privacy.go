package persistence

import (
	"context"
	"errors"

	sensorthings "github.com/syssam/sensorthings"
	"github.com/syssam/sensorthings/entity"
	"github.com/syssam/sensorthings/privacy"
	"github.com/syssam/sensorthings/query"
	"github.com/syssam/sensorthings/querylanguage"
)

// mutation is the privacy view of a write.
type mutation struct {
	op  privacy.Op
	typ string
	e   *entity.Entity
}

func (m *mutation) Op() privacy.Op { return m.op }
func (m *mutation) Type() string { return m.typ }
func (m *mutation) Entity() *entity.Entity { return m.e }

func (m *mutation) Field(name string) (any, bool) {
	if m.e == nil {
		return nil, false
	}
	if v, ok := m.e.Get(name); ok {
		return v, ok
	}
	if ref, ok := m.e.Nav(name); ok && ref != nil && ref.HasID() {
		return ref.ID().Single(), true
	}
	return nil, false
}

// readQuery is the privacy view of a read. Filters added by rules are
// combined with the query filter.
type readQuery struct {
	typ     string
	path    query.ResourcePath
	filters []querylanguage.P
}

func (q *readQuery) Type() string { return q.typ }
func (q *readQuery) Path() query.ResourcePath { return q.path }
func (q *readQuery) Filter() privacy.Filter { return q }
func (q *readQuery) Where(p querylanguage.P) { q.filters = append(q.filters, p) }

var (
	_ privacy.Mutation   = (*mutation)(nil)
	_ privacy.Filterable = (*readQuery)(nil)
)

func (m *Manager) evalMutation(ctx context.Context, op privacy.Op, e *entity.Entity) error {
	if m.f.policy == nil {
		return nil
	}
	typ := e.Type().Name()
	if err := m.f.policy.EvalMutation(ctx, &mutation{op: op, typ: typ, e: e}); err != nil && !errors.Is(err, privacy.Allow) {
		return sensorthings.NewPrivacyError(typ, op.String(), err)
	}
	return nil
}

// evalQuery evaluates the query policy and returns the filter added by
// its rules, or nil.
func (m *Manager) evalQuery(ctx context.Context, typ string, path query.ResourcePath) (querylanguage.P, error) {
	if m.f.policy == nil {
		return nil, nil
	}
	q := &readQuery{typ: typ, path: path}
	if err := m.f.policy.EvalQuery(ctx, q); err != nil && !errors.Is(err, privacy.Allow) {
		return nil, sensorthings.NewPrivacyError(typ, "OpQuery", err)
	}
	return and(q.filters...), nil
}

// and combines predicates, skipping nil ones.
func and(ps ...querylanguage.P) querylanguage.P {
	var nonNil []querylanguage.P
	for _, p := range ps {
		if p != nil {
			nonNil = append(nonNil, p)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return querylanguage.And(nonNil[0], nonNil[1], nonNil[2:]...)
	}
}
