// Package middleware provides HTTP middleware for authentication, request
// observability, and rate limiting.
//
// # Overview
//
// This package implements the request processing chain in front of the API
// handlers: request ID assignment, structured request logging with metrics,
// panic recovery, bearer token authentication, and rate limiting (both
// process-local and Redis-backed).
//
// # Middleware Components
//
// AuthMiddleware: token authentication
//
//	authmw := middleware.NewAuthMiddleware(tokenService)
//	router.Use(authmw.Handler)
//	// Validates the Bearer token and adds *auth.Identity to the context
//
// Observability:
//
//	router.Use(middleware.RequestIDMiddleware)
//	router.Use(middleware.LoggingMiddleware(logger))
//	router.Use(middleware.RecoveryMiddleware(logger))
//
// RateLimitMiddleware: in-memory rate limiting for single-instance deployments
//
//	router.Use(middleware.NewRateLimitMiddleware().Handler)
//
// DistributedRateLimitMiddleware: Redis-backed rate limiting
//
//	router.Use(middleware.NewDistributedRateLimitMiddleware(redisClient, logger).Handler)
//
// # Rate Limiting
//
// Anonymous callers: 60 req/min keyed by client IP, 10 burst
// Authenticated tokens: 1000 req/min keyed by token ID, 50 burst
//
// # Related Packages
//
//   - pkg/auth: token validation
//   - pkg/contextkeys: identity and request ID context keys
//   - pkg/observability: structured logging and Prometheus metrics
package middleware
