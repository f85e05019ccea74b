// Package privacy provides the rules and policies the persistence manager
// evaluates before it reads or writes entities.
//
// Rules are evaluated in order until one returns a final decision:
//
//   - Allow grants access and stops the evaluation.
//   - Deny rejects the operation and stops the evaluation.
//   - Skip (or nil) continues with the next rule.
//
// A MutationPolicy whose rules all skip allows the mutation. Policies are
// installed on the persistence factory:
//
//	policy := privacy.NewPolicy(
//		privacy.QueryPolicy{privacy.AlwaysAllowRule()},
//		privacy.MutationPolicy{
//			privacy.DenyIfNoViewer(),
//			privacy.HasRole("admin"),
//			privacy.OnTypes(privacy.DenyMutationOperationRule(privacy.OpDelete), "Observation"),
//		},
//	)
//	f := persistence.NewFactory(drv, g, persistence.WithPolicy(policy))
//
// The viewer is carried by the context:
//
//	ctx = privacy.WithViewer(ctx, &privacy.Viewer{ID: "42", Roles: []string{"admin"}, Tenant: "acme"})
//
// Query rules may restrict a read instead of deciding it. TenantQueryRule
// adds a filter on the tenant of the viewer:
//
//	privacy.QueryPolicy{
//		privacy.OnQueryTypes(privacy.TenantQueryRule("description"), "Thing"),
//	}
//
// A denied mutation fails with a *sensorthings.PrivacyError wrapping the
// decision.
package privacy
