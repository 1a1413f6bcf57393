// Package orgtree stores the tenant hierarchy that every other control-plane
// component resolves against.
//
// # Overview
//
// Nodes form a tree of organizations, business units, and teams. Each node
// carries a materialized lineage: the ordered list of node IDs from its root
// organization down to itself, persisted at creation time. Lineage lookups
// are therefore a single indexed read, O(lineage length), never a recursive
// parent walk.
//
// # Hierarchy Rules
//
//   - Roots are always organizations (parent_id is null only for them)
//   - organization -> business_unit -> team ordering is enforced on create
//   - business units may nest under business units
//   - teams may attach to an organization or a business unit, never to
//     another team
//
// # Lifecycle
//
// Nodes are created only by the provisioning orchestrator (pkg/provisioning)
// so every creation carries an audit trail. Nodes are never physically
// deleted; Deactivate soft-deactivates them, preserving audit history and
// token scopes.
//
// # Usage Example
//
//	store, err := orgtree.NewPostgresStore(db)
//	if err != nil {
//		return err
//	}
//	lineage, err := store.GetLineage(ctx, teamID)
//
// # Related Packages
//
//   - pkg/nodeconfig: folds configuration fragments over a lineage
//   - pkg/rbac: checks scope containment against a lineage
//   - pkg/provisioning: the only writer of new nodes
package orgtree
