// Package audit records every control-plane mutation in an append-only log.
//
// # Overview
//
// Four actions are recorded: config_update (with before/after payload
// snapshots), node_created, token_issued, and token_revoked. The Log
// interface exposes Append and Query only — there is no update or delete.
// Append takes a Querier (satisfied by *sql.DB and *sql.Tx) so mutating
// services write their audit entry inside their own transaction: if the
// append fails, the mutation rolls back with it, preserving the invariant
// that every mutation has a corresponding audit entry.
//
// # Retention
//
// Retention and archival are an external data-lifecycle policy, not part of
// the Log contract. The janitor binary applies them through Sweep (delete
// entries past the retention window) and S3Archiver (upload aged windows
// before deletion).
//
// # Usage Example
//
//	tx, _ := db.BeginTx(ctx, nil)
//	defer tx.Rollback()
//	// ... perform the mutation on tx ...
//	err := log.Append(ctx, tx, &audit.Entry{
//		NodeID: nodeID,
//		Actor:  identity.TokenID,
//		Action: audit.ActionConfigUpdate,
//		Before: prev,
//		After:  next,
//	})
//	if err != nil {
//		return err // mutation rolls back with the failed append
//	}
//	return tx.Commit()
package audit
