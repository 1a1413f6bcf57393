// Package postgres manages the shared database and Redis connections.
//
// # Overview
//
// The store implementations in the orgtree, nodeconfig, auth, audit and
// provisioning packages all operate on a plain *sql.DB. This package owns
// how that handle is produced: ConnectionManager opens the primary
// PostgreSQL connection, maintains an optional set of read replicas with
// round-robin selection, and periodically evicts replicas that stop
// responding. RedisClient wraps the Redis connection shared by the
// provisioning lock manager and the API rate limiter.
//
// # Related Packages
//
//   - config: supplies the connection settings read from the environment
//   - provisioning: builds its distributed lock manager on the Redis client
//   - middleware: uses the Redis client for request rate limiting
package postgres
