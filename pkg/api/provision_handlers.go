package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gantry/pkg/httputil"
	"github.com/platinummonkey/gantry/pkg/middleware"
	"github.com/platinummonkey/gantry/pkg/provisioning"
	"github.com/platinummonkey/gantry/pkg/rbac"
)

// requestIdentity returns the authenticated principal as an rbac.Identity.
// Returning a typed nil pointer through the interface would defeat the
// services' nil checks, so the conversion happens here.
func requestIdentity(r *http.Request) rbac.Identity {
	if identity := middleware.GetIdentity(r); identity != nil {
		return identity
	}
	return nil
}

// ProvisionHandlers serves the idempotent provisioning operations
type ProvisionHandlers struct {
	orchestrator *provisioning.Orchestrator
}

// NewProvisionHandlers creates provisioning handlers
func NewProvisionHandlers(orchestrator *provisioning.Orchestrator) *ProvisionHandlers {
	return &ProvisionHandlers{orchestrator: orchestrator}
}

// RegisterRoutes registers provisioning routes on the given router
func (h *ProvisionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/provision", h.provision).Methods(http.MethodPost)
	router.HandleFunc("/provision/{key}", h.getRun).Methods(http.MethodGet)
}

// provision handles POST /api/v1/provision
func (h *ProvisionHandlers) provision(w http.ResponseWriter, r *http.Request) {
	var req provisioning.Request
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.IdempotencyKey, "idempotency_key") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.TeamName, "team_name") {
		return
	}
	if req.OrgID == "" && req.OrgName == "" {
		httputil.WriteBadRequest(w, "either org_id or org_name is required")
		return
	}

	result, err := h.orchestrator.Provision(r.Context(), requestIdentity(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if result.Replayed {
		httputil.WriteSuccess(w, result)
		return
	}
	httputil.WriteCreated(w, result)
}

// getRun handles GET /api/v1/provision/{key}
func (h *ProvisionHandlers) getRun(w http.ResponseWriter, r *http.Request) {
	key, ok := httputil.ParsePathStringOrError(w, r, "key")
	if !ok {
		return
	}

	run, err := h.orchestrator.GetRun(r.Context(), requestIdentity(r), key)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if run == nil {
		httputil.WriteNotFoundError(w, "no provisioning run for key "+key)
		return
	}
	httputil.WriteSuccess(w, run)
}
