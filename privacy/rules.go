package privacy

import (
	"context"
	"fmt"
	"slices"

	ql "github.com/syssam/sensorthings/querylanguage"
)

// Viewer is the authenticated caller of a request.
type Viewer struct {
	ID    string
	Roles []string
	// Tenant is the organization owning the entities the viewer works on,
	// or "" for viewers that see all tenants.
	Tenant string
}

// HasRole reports whether the viewer has any of the roles.
func (v *Viewer) HasRole(roles ...string) bool {
	for _, role := range roles {
		if slices.Contains(v.Roles, role) {
			return true
		}
	}
	return false
}

type viewerCtxKey struct{}

// WithViewer returns a context carrying the viewer.
func WithViewer(ctx context.Context, v *Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, v)
}

// ViewerFromContext returns the viewer of ctx, or nil.
func ViewerFromContext(ctx context.Context) *Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(*Viewer)
	return v
}

// DenyIfNoViewer denies anonymous requests. It usually comes first:
//
//	privacy.MutationPolicy{
//		privacy.DenyIfNoViewer(),
//		privacy.HasRole("ingest"),
//		privacy.AlwaysDenyRule(),
//	}
func DenyIfNoViewer() QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("sensorthings/privacy: viewer required")
		}
		return Skip
	})
}

// HasRole allows requests of viewers with the role.
func HasRole(role string) QueryMutationRule {
	return HasAnyRole(role)
}

// HasAnyRole allows requests of viewers with one of the roles.
func HasAnyRole(roles ...string) QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		if v := ViewerFromContext(ctx); v != nil && v.HasRole(roles...) {
			return Allow
		}
		return Skip
	})
}

// IsOwner allows writes of entities whose property or navigation link
// holds the viewer ID, e.g. IsOwner("Thing") for the datastreams of the
// viewer's thing.
func IsOwner(field string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		v := ViewerFromContext(ctx)
		if v == nil {
			return Skip
		}
		if value, ok := m.Field(field); ok && value != nil && fmt.Sprint(value) == v.ID {
			return Allow
		}
		return Skip
	})
}

// TenantRule allows writes of entities whose property holds the viewer's
// tenant and denies writes into other tenants.
func TenantRule(property string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		v := ViewerFromContext(ctx)
		if v == nil || v.Tenant == "" {
			return Skip
		}
		value, ok := m.Field(property)
		switch {
		case !ok || value == nil:
			return Skip
		case fmt.Sprint(value) == v.Tenant:
			return Allow
		default:
			return Denyf("sensorthings/privacy: %s of tenant %v", m.Type(), value)
		}
	})
}

// TenantQueryRule restricts reads to the entities whose property holds the
// viewer's tenant. Reads without a tenant are denied.
func TenantQueryRule(property string) QueryRule {
	return QueryRuleFunc(func(ctx context.Context, q Query) error {
		v := ViewerFromContext(ctx)
		switch {
		case v == nil:
			return Denyf("sensorthings/privacy: viewer required")
		case v.Tenant == "":
			return Denyf("sensorthings/privacy: tenant required")
		}
		return FilterFunc(func(_ context.Context, f Filter) error {
			f.Where(ql.FieldEQ(property, v.Tenant))
			return Skip
		}).EvalQuery(ctx, q)
	})
}

// OnQueryTypes evaluates the rule on reads of the given entity types only.
func OnQueryTypes(rule QueryRule, types ...string) QueryRule {
	return QueryRuleFunc(func(ctx context.Context, q Query) error {
		if slices.Contains(types, q.Type()) {
			return rule.EvalQuery(ctx, q)
		}
		return Skip
	})
}

// AllowMutationOperationRule allows the given operations.
func AllowMutationOperationRule(op Op) MutationRule {
	return OnMutationOperation(MutationRuleFunc(func(context.Context, Mutation) error {
		return Allow
	}), op)
}
