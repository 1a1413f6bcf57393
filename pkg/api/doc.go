// Package api is the HTTP control-plane surface.
//
// # Overview
//
// Every route under /api/v1 authenticates with a bearer token and is served
// as JSON. The Server wires a gorilla/mux router with the middleware chain
// (request IDs, structured logging, panic recovery, Prometheus metrics,
// body-size caps, bearer auth, optional rate limiting) and mounts one
// handler group per concern:
//
//   - ProvisionHandlers — idempotent org/team provisioning and run status
//   - NodeHandlers      — org tree reads and soft deactivation
//   - ConfigHandlers    — versioned config fragments, effective config, history
//   - TokenHandlers     — token issuance, metadata, revocation
//   - AuditHandlers     — per-node audit queries and global export
//
// Webhook administration routes mount behind a webhook:manage gate when a
// webhook manager is supplied. Health and metrics endpoints stay outside
// the authenticated subtree.
//
// Authorization happens in the service layer (or the enforcer directly for
// pure tree reads); handlers translate sentinel errors onto the status
// taxonomy: unknown targets 404, hierarchy and scope violations 422,
// authentication failures 401, permission denials 403, in-flight
// provisioning 409, terminal run failures 502.
//
// # Related Packages
//
//   - pkg/middleware: the auth, logging, and rate-limit chain
//   - pkg/httputil: request parsing and response helpers
//   - pkg/provisioning, pkg/nodeconfig, pkg/auth, pkg/audit: the services served here
package api
