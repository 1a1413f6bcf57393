// Package provisioning is the idempotent orchestrator that brings new
// organizations and teams into existence.
//
// # Overview
//
// A provisioning run ensures an org node exists, creates a team under it,
// seeds the team's first configuration version, mints the team's first
// token, and records a node_created audit entry. Runs are keyed by a
// caller-chosen idempotency key: repeating a key replays the stored
// outcome instead of re-executing, so retries after timeouts are safe.
//
// # Execution Protocol
//
// The run row is inserted with ON CONFLICT DO NOTHING, so exactly one
// caller creates it. Execution happens under an exclusive scope lock on
// (org, team parent, team name); a caller that finds the lock held polls
// the run row until it resolves or the wait budget elapses, then returns
// ErrBusy. Each step is check-then-create and records its output on the
// run row, so a crashed run resumes where it stopped instead of
// duplicating side effects.
//
// # Locks
//
// The Redis lock manager takes a SetNX lease (default 30s) with an owner
// value, renews it by heartbeat at a third of the lease, and releases via
// a compare-and-delete script. A crashed holder's lease simply expires.
// The in-process manager serves single-node and test deployments.
//
// # Failure Handling
//
// A failed step marks the run failed with the step name and reason;
// partial state (nodes, config, token) is retained and the failure replays
// to every retry as a FailedError. Runs stuck pending past the configured
// deadline are reclaimed by the janitor, marked failed with step
// "reclaimed", which reopens the scope for a fresh key.
//
// # Related Packages
//
//   - pkg/orgtree: the nodes this package creates
//   - pkg/nodeconfig: the seeded configuration
//   - pkg/auth: the seeded team token
//   - pkg/audit: the node_created trail
package provisioning
