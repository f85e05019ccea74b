package privacy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/syssam/sensorthings/entity"
	"github.com/syssam/sensorthings/query"
	"github.com/syssam/sensorthings/querylanguage"
)

// Policy decision sentinel errors. Rules return them, possibly wrapped, and
// callers check them with errors.Is.
var (
	// Allow terminates the evaluation with an allow decision.
	Allow = errors.New("sensorthings/privacy: allow rule")

	// Deny terminates the evaluation with a deny decision.
	Deny = errors.New("sensorthings/privacy: deny rule")

	// Skip continues the evaluation with the next rule.
	Skip = errors.New("sensorthings/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Op is the kind of a mutation. Ops are bit flags so that rules can match
// several of them.
type Op uint8

// Mutation operations.
const (
	OpCreate Op = 1 << iota
	OpUpdate
	OpDelete
	OpUnlink
)

// Is reports whether o matches any of the operations in ops.
func (o Op) Is(ops Op) bool { return o&ops != 0 }

var opNames = []struct {
	op   Op
	name string
}{
	{OpCreate, "OpCreate"},
	{OpUpdate, "OpUpdate"},
	{OpDelete, "OpDelete"},
	{OpUnlink, "OpUnlink"},
}

// String returns the operation names joined by "|".
func (o Op) String() string {
	var names []string
	for _, n := range opNames {
		if o.Is(n.op) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
	return strings.Join(names, "|")
}

type (
	// Query is a read request on a resource path.
	Query interface {
		// Type returns the entity type of the returned entities.
		Type() string
		// Path returns the requested resource path.
		Path() query.ResourcePath
	}

	// Mutation is a write about to be executed.
	Mutation interface {
		Op() Op
		// Type returns the entity type of the written entity.
		Type() string
		// Entity returns the payload of creates and updates, and the
		// stored entity of deletes and unlinks.
		Entity() *entity.Entity
		// Field returns the value of a property set on the entity.
		Field(name string) (any, bool)
	}

	// QueryRule decides whether a query is allowed, and may restrict it.
	QueryRule interface {
		EvalQuery(context.Context, Query) error
	}

	// QueryPolicy combines query rules into a single policy.
	QueryPolicy []QueryRule

	// MutationRule decides whether a mutation is allowed.
	MutationRule interface {
		EvalMutation(context.Context, Mutation) error
	}

	// MutationPolicy combines mutation rules into a single policy.
	MutationPolicy []MutationRule

	// QueryMutationRule groups query and mutation rules.
	QueryMutationRule interface {
		QueryRule
		MutationRule
	}
)

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() QueryMutationRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() QueryMutationRule {
	return fixedDecision{Deny}
}

// ContextQueryMutationRule creates a query/mutation rule from a context
// evaluation function. Returning nil is equivalent to returning Skip.
func ContextQueryMutationRule(eval func(context.Context) error) QueryMutationRule {
	return contextDecision{eval}
}

// MutationRuleFunc type is an adapter which allows the use of
// ordinary functions as mutation rules.
type MutationRuleFunc func(context.Context, Mutation) error

// EvalMutation returns f(ctx, m).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, m Mutation) error {
	return f(ctx, m)
}

// QueryRuleFunc type is an adapter which allows the use of ordinary
// functions as query rules.
type QueryRuleFunc func(context.Context, Query) error

// EvalQuery returns f(ctx, q).
func (f QueryRuleFunc) EvalQuery(ctx context.Context, q Query) error {
	return f(ctx, q)
}

// OnMutationOperation evaluates the given rule only on the given mutation
// operations.
func OnMutationOperation(rule MutationRule, op Op) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		if m.Op().Is(op) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// OnTypes evaluates the given rule only on mutations of the given entity
// types.
func OnTypes(rule MutationRule, types ...string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		if slices.Contains(types, m.Type()) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// DenyMutationOperationRule returns a rule denying the specified mutation
// operations.
func DenyMutationOperationRule(op Op) MutationRule {
	rule := MutationRuleFunc(func(_ context.Context, m Mutation) error {
		return Denyf("sensorthings/privacy: operation %s on %s is not allowed", m.Op(), m.Type())
	})
	return OnMutationOperation(rule, op)
}

// Policy is evaluated by the persistence manager before every read and
// write.
type Policy interface {
	EvalQuery(context.Context, Query) error
	EvalMutation(context.Context, Mutation) error
}

// NewPolicy groups query and mutation policies.
func NewPolicy(q QueryPolicy, m MutationPolicy) Policy {
	return policy{query: q, mutation: m}
}

type policy struct {
	query    QueryPolicy
	mutation MutationPolicy
}

func (p policy) EvalQuery(ctx context.Context, q Query) error {
	return p.query.EvalQuery(ctx, q)
}

func (p policy) EvalMutation(ctx context.Context, m Mutation) error {
	return p.mutation.EvalMutation(ctx, m)
}

// Policies combines multiple policies into a single policy.
type Policies []Policy

// EvalQuery evaluates the query policies. If the Allow error is returned
// from one of the policies, it stops the evaluation with a nil error.
func (policies Policies) EvalQuery(ctx context.Context, q Query) error {
	return policies.eval(ctx, func(p Policy) error {
		return p.EvalQuery(ctx, q)
	})
}

// EvalMutation evaluates the mutation policies. If the Allow error is
// returned from one of the policies, it stops the evaluation with a nil
// error.
func (policies Policies) EvalMutation(ctx context.Context, m Mutation) error {
	return policies.eval(ctx, func(p Policy) error {
		return p.EvalMutation(ctx, m)
	})
}

func (policies Policies) eval(ctx context.Context, eval func(Policy) error) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, p := range policies {
		switch decision := eval(p); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// EvalQuery evaluates a query against a query policy.
func (policies QueryPolicy) EvalQuery(ctx context.Context, q Query) error {
	for _, p := range policies {
		switch decision := p.EvalQuery(ctx, q); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// EvalMutation evaluates a mutation against a mutation policy.
func (policies MutationPolicy) EvalMutation(ctx context.Context, m Mutation) error {
	for _, p := range policies {
		switch decision := p.EvalMutation(ctx, m); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attached to it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalQuery(context.Context, Query) error {
	return f.decision
}

func (f fixedDecision) EvalMutation(context.Context, Mutation) error {
	return f.decision
}

type contextDecision struct {
	eval func(context.Context) error
}

func (c contextDecision) EvalQuery(ctx context.Context, _ Query) error {
	return c.eval(ctx)
}

func (c contextDecision) EvalMutation(ctx context.Context, _ Mutation) error {
	return c.eval(ctx)
}

// Filter restricts the entities a query returns.
type Filter interface {
	// Where adds a filter, combined with the query filter by AND.
	Where(querylanguage.P)
}

// Filterable is implemented by queries that accept filters.
type Filterable interface {
	Filter() Filter
}

// FilterFunc is an adapter that allows using ordinary functions as query
// rules that restrict results, for example:
//
//	privacy.FilterFunc(func(ctx context.Context, f privacy.Filter) error {
//		f.Where(querylanguage.FieldHasPrefix("name", tenantOf(ctx)))
//		return privacy.Skip
//	})
type FilterFunc func(context.Context, Filter) error

// EvalQuery calls f(ctx, q.Filter()) if the query implements Filterable.
func (f FilterFunc) EvalQuery(ctx context.Context, q Query) error {
	fr, ok := q.(Filterable)
	if !ok {
		return Denyf("sensorthings/privacy: query type %T does not support filtering", q)
	}
	return f(ctx, fr.Filter())
}

var _ QueryRule = FilterFunc(nil)
