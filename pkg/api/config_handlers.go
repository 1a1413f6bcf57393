package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gantry/pkg/httputil"
	"github.com/platinummonkey/gantry/pkg/nodeconfig"
)

// defaultHistoryLimit bounds GET config history when the caller gives none
const defaultHistoryLimit = 50

// ConfigHandlers serves the versioned configuration surface
type ConfigHandlers struct {
	configs *nodeconfig.Service
}

// NewConfigHandlers creates configuration handlers
func NewConfigHandlers(configs *nodeconfig.Service) *ConfigHandlers {
	return &ConfigHandlers{configs: configs}
}

// RegisterRoutes registers configuration routes on the given router
func (h *ConfigHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/nodes/{id}/config", h.getConfig).Methods(http.MethodGet)
	router.HandleFunc("/nodes/{id}/config", h.updateConfig).Methods(http.MethodPut)
	router.HandleFunc("/nodes/{id}/config", h.patchConfig).Methods(http.MethodPatch)
	router.HandleFunc("/nodes/{id}/config/effective", h.getEffective).Methods(http.MethodGet)
	router.HandleFunc("/nodes/{id}/config/history", h.getHistory).Methods(http.MethodGet)
}

// getConfig handles GET /api/v1/nodes/{id}/config. An optional ?version
// query selects one historical version instead of the current fragment.
func (h *ConfigHandlers) getConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	version, err := httputil.ParseQueryInt(r, "version", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid version parameter")
		return
	}

	var cfg *nodeconfig.Configuration
	if version > 0 {
		cfg, err = h.configs.GetConfigVersion(r.Context(), requestIdentity(r), id, version)
	} else {
		cfg, err = h.configs.GetConfig(r.Context(), requestIdentity(r), id)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, cfg)
}

// getEffective handles GET /api/v1/nodes/{id}/config/effective
func (h *ConfigHandlers) getEffective(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	effective, err := h.configs.GetEffective(r.Context(), requestIdentity(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, effective)
}

// getHistory handles GET /api/v1/nodes/{id}/config/history
func (h *ConfigHandlers) getHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", defaultHistoryLimit)
	if err != nil || limit < 1 {
		httputil.WriteBadRequest(w, "invalid limit parameter")
		return
	}
	history, err := h.configs.GetHistory(r.Context(), requestIdentity(r), id, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"history": history})
}

// updateConfig handles PUT /api/v1/nodes/{id}/config. The body is the full
// replacement payload; the previous version stays in history.
func (h *ConfigHandlers) updateConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var payload map[string]interface{}
	if !httputil.ParseJSONOrError(w, r, &payload) {
		return
	}
	cfg, err := h.configs.UpdateConfig(r.Context(), requestIdentity(r), id, payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, cfg)
}

// patchConfig handles PATCH /api/v1/nodes/{id}/config. The body is a
// fragment deep-merged over the node's current payload; lists and scalars
// replace wholesale.
func (h *ConfigHandlers) patchConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var patch map[string]interface{}
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}
	cfg, err := h.configs.PatchConfig(r.Context(), requestIdentity(r), id, patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, cfg)
}
