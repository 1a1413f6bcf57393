package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/httputil"
	"github.com/platinummonkey/gantry/pkg/middleware"
	"github.com/platinummonkey/gantry/pkg/observability"
	"github.com/platinummonkey/gantry/pkg/rbac"
)

// defaultAuditLimit bounds per-node audit queries when the caller gives none
const defaultAuditLimit = 100

// AuditHandlers serves the audit trail read surface
type AuditHandlers struct {
	auditLog audit.Log
	enforcer *rbac.Enforcer
}

// NewAuditHandlers creates audit handlers
func NewAuditHandlers(auditLog audit.Log, enforcer *rbac.Enforcer) *AuditHandlers {
	return &AuditHandlers{auditLog: auditLog, enforcer: enforcer}
}

// RegisterRoutes registers audit routes on the given router
func (h *AuditHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/nodes/{id}/audit", h.queryNode).Methods(http.MethodGet)
	router.HandleFunc("/audit/export", h.export).Methods(http.MethodGet)
}

// parseTimeRange reads the optional from/to query bounds as RFC 3339
func parseTimeRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid from timestamp, want RFC 3339")
			return time.Time{}, time.Time{}, false
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid to timestamp, want RFC 3339")
			return time.Time{}, time.Time{}, false
		}
		to = parsed
	}
	return from, to, true
}

// queryNode handles GET /api/v1/nodes/{id}/audit. Entries come back in
// timestamp-ascending order, entry ID breaking ties.
func (h *AuditHandlers) queryNode(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.enforcer.Require(r.Context(), requestIdentity(r), rbac.PermAuditRead, id); err != nil {
		writeServiceError(w, err)
		return
	}

	from, to, ok := parseTimeRange(w, r)
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", defaultAuditLimit)
	if err != nil || limit < 1 {
		httputil.WriteBadRequest(w, "invalid limit parameter")
		return
	}

	entries, err := h.auditLog.Query(r.Context(), audit.Filter{
		NodeID: id,
		From:   from,
		To:     to,
		Limit:  limit,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"entries": entries})
}

// export handles GET /api/v1/audit/export. Export spans every organization,
// so only global admins qualify; scoped tokens read through the per-node
// endpoint instead.
func (h *AuditHandlers) export(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	if identity == nil || !identity.IsGlobalAdmin() {
		httputil.WriteForbidden(w, "audit export requires global admin")
		return
	}

	format, err := audit.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	from, to, ok := parseTimeRange(w, r)
	if !ok {
		return
	}

	entries, err := h.auditLog.Query(r.Context(), audit.Filter{From: from, To: to})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename=audit-export."+string(format))
	if err := audit.Export(w, entries, format); err != nil {
		// Headers are out; all we can do is log the broken stream
		observability.FromContext(r.Context()).WithError(err).Error("failed to stream audit export")
	}
}
