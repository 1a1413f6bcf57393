// Package nodeconfig stores versioned configuration fragments per node and
// derives effective configurations across the org tree.
//
// # Overview
//
// Every node may carry a configuration fragment (an arbitrary JSON object).
// Writes never mutate: each update appends version N+1, and prior versions
// stay readable forever. The effective configuration of a node is the deep
// merge of the current fragments along its lineage, root-first, so deeper
// nodes win on conflicting keys. Effective configurations are derived on
// read and never persisted.
//
// # Merge Semantics
//
//   - maps merge recursively
//   - lists and scalars are replaced wholesale by the deeper value
//   - a node with no fragment contributes nothing, and a node whose whole
//     path has no fragments resolves to an empty object
//   - the merge is idempotent: re-applying a fragment is a no-op
//
// # Caching
//
// The Resolver caches merged results keyed by a fingerprint of the
// lineage's (node, version) pairs. Any version bump anywhere on the path
// produces a new fingerprint, so stale entries are simply never looked up
// again and age out of the LRU.
//
// # Audit Coupling
//
// Store.Update appends a config_update audit entry in the same transaction
// as the version write. If the audit append fails, the version write rolls
// back; there is no window where a version exists without its entry.
//
// # Usage Example
//
//	store, err := nodeconfig.NewPostgresStore(db, auditLog)
//	if err != nil {
//		return err
//	}
//	resolver := nodeconfig.NewResolver(tree, store, nil, metrics)
//	effective, err := resolver.Resolve(ctx, teamID)
//
// # Related Packages
//
//   - pkg/orgtree: supplies the lineage the merge folds over
//   - pkg/audit: receives the config_update entries
//   - pkg/rbac: gates the Service read and write surfaces
package nodeconfig
