package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/gantry/pkg/orgtree"
)

// LineageReader is the slice of the org tree store the enforcer needs
type LineageReader interface {
	GetNode(ctx context.Context, id string) (*orgtree.Node, error)
}

// Enforcer evaluates whether an identity's permission set authorizes an
// operation against a target node. Wildcard matching and scope containment
// live here exclusively so every caller gets identical semantics.
type Enforcer struct {
	tree LineageReader
}

// NewEnforcer creates a new Enforcer backed by the given org tree
func NewEnforcer(tree LineageReader) *Enforcer {
	return &Enforcer{tree: tree}
}

// Authorize evaluates a permission check against a target node. An identity
// is allowed iff it holds the permission (or a wildcard covering it) and its
// scope node is an ancestor-or-self of the target, verified via lineage
// containment. Global admins bypass both checks. Every ambiguous case —
// nil identity, missing target, store error, empty scope — denies.
func (e *Enforcer) Authorize(ctx context.Context, identity Identity, permission Permission, targetNodeID string) Decision {
	now := time.Now().UTC()

	if identity == nil {
		return Decision{Allowed: false, Reason: "no identity", CheckedAt: now}
	}

	if identity.IsGlobalAdmin() {
		return Decision{Allowed: true, Reason: "global admin", CheckedAt: now}
	}

	if !HoldsPermission(identity.HeldPermissions(), permission) {
		return Decision{
			Allowed:   false,
			Reason:    fmt.Sprintf("missing permission %s", permission),
			CheckedAt: now,
		}
	}

	scopeID := identity.ScopeNodeID()
	if scopeID == "" {
		return Decision{Allowed: false, Reason: "identity has no scope node", CheckedAt: now}
	}
	if targetNodeID == "" {
		return Decision{Allowed: false, Reason: "no target node", CheckedAt: now}
	}

	target, err := e.tree.GetNode(ctx, targetNodeID)
	if err != nil {
		// Fail closed: an unresolvable target is a denial, not an error
		return Decision{
			Allowed:   false,
			Reason:    fmt.Sprintf("target node unresolvable: %v", err),
			CheckedAt: now,
		}
	}

	if !target.IsAncestorOrSelf(scopeID) {
		return Decision{
			Allowed:   false,
			Reason:    fmt.Sprintf("scope %s is not an ancestor of %s", scopeID, targetNodeID),
			CheckedAt: now,
		}
	}

	return Decision{
		Allowed:   true,
		Reason:    fmt.Sprintf("%s granted within scope %s", permission, scopeID),
		CheckedAt: now,
	}
}

// Require is the error-returning form of Authorize for mutation paths:
// a denial comes back as a wrapped ErrDenied carrying the reason.
func (e *Enforcer) Require(ctx context.Context, identity Identity, permission Permission, targetNodeID string) error {
	decision := e.Authorize(ctx, identity, permission, targetNodeID)
	if !decision.Allowed {
		return fmt.Errorf("%w: %s", ErrDenied, decision.Reason)
	}
	return nil
}
