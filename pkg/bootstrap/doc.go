// Package bootstrap seeds a fresh control plane from a declarative YAML
// file.
//
// # Overview
//
// A seed file names the state a new deployment starts from:
//
//	global_admin: true
//	orgs:
//	  - name: acme
//	    teams:
//	      - name: checkout
//	        config:
//	          retention_days: 30
//	        token_permissions: [config:read]
//
// The Runner mints the initial global admin token at most once per install
// (the audit trail records that it happened; the raw token is printed once
// and never recoverable) and provisions every declared org/team through the
// provisioning orchestrator under deterministic bootstrap:<org>:<team>
// idempotency keys. Re-running the same file replays stored outcomes and
// changes nothing.
//
// # Related Packages
//
//   - pkg/provisioning: the orchestrator every seeded team goes through
//   - pkg/auth: the token authority minting the global admin
package bootstrap
