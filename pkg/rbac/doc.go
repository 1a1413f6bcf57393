// Package rbac centralizes authorization for the control plane.
//
// # Overview
//
// Permissions are typed resource:action pairs carried on tokens. The
// Enforcer evaluates a single rule: an identity may perform an operation on
// a target node iff it holds the permission (or a wildcard covering it,
// admin:* covering admin:provision and bare * covering everything) and its
// scope node appears in the target's materialized lineage. Global admins
// bypass both halves.
//
// Scope containment is a lineage membership check, never string prefix
// matching, so node IDs that share prefixes cannot spoof scope. Every
// ambiguous case — nil identity, unresolvable target, empty scope — is a
// denial: the enforcer fails closed.
//
// Every mutating service method in the control plane calls the enforcer
// before any side effect; call sites never pattern-match permission strings
// themselves.
//
// # Usage Example
//
//	enforcer := rbac.NewEnforcer(tree)
//	if err := enforcer.Require(ctx, identity, rbac.PermConfigWrite, nodeID); err != nil {
//		return err // wraps rbac.ErrDenied
//	}
package rbac
