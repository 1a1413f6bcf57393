// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, and validation.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, "Operation completed")
//	httputil.WriteCreated(w, resource)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteUnauthorized(w, "Token expired")
//	httputil.WriteForbidden(w, "Insufficient permissions")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req ProvisionRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path parameters:
//
//	id, err := httputil.ParsePathString(r, "id")
//
// Query parameters:
//
//	limit := httputil.ParseQueryInt(r, "limit", 20)
//	offset := httputil.ParseQueryInt(r, "offset", 0)
//	recursive := httputil.ParseQueryBool(r, "recursive", false)
//
// # Validation
//
//	if !httputil.RequireNonEmpty(w, req.TeamName, "team_name") {
//		return // Error response already written
//	}
//
// # Related Packages
//
//   - pkg/middleware: Authentication and authorization middleware
package httputil
