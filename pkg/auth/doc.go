// Package auth is the token authority: it mints, validates, and revokes
// the opaque bearer tokens every API call authenticates with.
//
// # Overview
//
// A raw token has the form gantry_<tokenID>.<base64url secret>. The secret
// is generated from crypto/rand and returned exactly once at issuance; at
// rest only a per-token salt and the hex sha256 over salt || secret are
// kept, so a stolen database cannot reconstruct a usable credential.
//
// # Token Kinds
//
//   - global_admin: no scope node, implicitly holds every permission
//   - org_admin: anchored at one organization, authority over its subtree
//   - team: anchored at one team node, the narrowest tier
//
// Issuance gates on the issuer's kind: global admins issue anything, org
// admins issue team tokens inside their own org only, team tokens never
// issue.
//
// # Validation
//
// Validate parses the presented token, looks the record up by ID, and
// compares hashes in constant time. Malformed, unknown, and mismatched
// secrets all fail with the same ErrInvalidToken so the error carries no
// probing signal; ErrRevokedToken surfaces only after the secret matched.
//
// # Audit Coupling
//
// Every issuance and revocation appends its audit entry in the same
// transaction as the record change. Audit metadata carries the token ID
// and display prefix only, never the secret or its hash.
//
// # Related Packages
//
//   - pkg/rbac: consumes the Identity this package produces
//   - pkg/middleware: runs Validate on every bearer request
//   - pkg/bootstrap: mints the initial global admin token
package auth
