package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/contextkeys"
	"github.com/platinummonkey/gantry/pkg/httputil"
	"github.com/platinummonkey/gantry/pkg/observability"
	"github.com/platinummonkey/gantry/pkg/orgtree"
	"github.com/platinummonkey/gantry/pkg/rbac"
)

// NodeHandlers serves the org tree read surface and node deactivation
type NodeHandlers struct {
	tree     orgtree.Store
	enforcer *rbac.Enforcer
	auditLog audit.Log
}

// NewNodeHandlers creates node handlers
func NewNodeHandlers(tree orgtree.Store, enforcer *rbac.Enforcer, auditLog audit.Log) *NodeHandlers {
	return &NodeHandlers{tree: tree, enforcer: enforcer, auditLog: auditLog}
}

// RegisterRoutes registers node routes on the given router
func (h *NodeHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/nodes/{id}", h.getNode).Methods(http.MethodGet)
	router.HandleFunc("/nodes/{id}/lineage", h.getLineage).Methods(http.MethodGet)
	router.HandleFunc("/nodes/{id}/children", h.listChildren).Methods(http.MethodGet)
	router.HandleFunc("/nodes/{id}/descendants", h.listDescendants).Methods(http.MethodGet)
	router.HandleFunc("/nodes/{id}/deactivate", h.deactivate).Methods(http.MethodPost)
}

// authorizeRead gates tree reads with config:read against the target node
func (h *NodeHandlers) authorizeRead(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return "", false
	}
	if err := h.enforcer.Require(r.Context(), requestIdentity(r), rbac.PermConfigRead, id); err != nil {
		writeServiceError(w, err)
		return "", false
	}
	return id, true
}

// getNode handles GET /api/v1/nodes/{id}
func (h *NodeHandlers) getNode(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizeRead(w, r)
	if !ok {
		return
	}
	node, err := h.tree.GetNode(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, node)
}

// getLineage handles GET /api/v1/nodes/{id}/lineage
func (h *NodeHandlers) getLineage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizeRead(w, r)
	if !ok {
		return
	}
	lineage, err := h.tree.GetLineage(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"lineage": lineage})
}

// listChildren handles GET /api/v1/nodes/{id}/children
func (h *NodeHandlers) listChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizeRead(w, r)
	if !ok {
		return
	}
	children, err := h.tree.ListChildren(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"children": children})
}

// listDescendants handles GET /api/v1/nodes/{id}/descendants
func (h *NodeHandlers) listDescendants(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorizeRead(w, r)
	if !ok {
		return
	}
	descendants, err := h.tree.ListDescendants(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"descendants": descendants})
}

// deactivate handles POST /api/v1/nodes/{id}/deactivate. Deactivation is
// soft: the node row, its audit history, and token scopes referencing it
// all stay intact.
func (h *NodeHandlers) deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.enforcer.Require(ctx, requestIdentity(r), rbac.PermNodeDeactivate, id); err != nil {
		writeServiceError(w, err)
		return
	}
	node, err := h.tree.GetNode(ctx, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if err := h.tree.Deactivate(ctx, id); err != nil {
		writeServiceError(w, err)
		return
	}

	entry := &audit.Entry{
		NodeID: id,
		Actor:  contextkeys.GetActor(ctx),
		Action: audit.ActionNodeDeactivated,
		Metadata: map[string]interface{}{
			"kind": string(node.Kind),
			"name": node.Name,
		},
		RequestID: contextkeys.GetRequestID(ctx),
	}
	if err := h.auditLog.Append(ctx, nil, entry); err != nil {
		observability.FromContext(ctx).WithError(err).Error("failed to append deactivation audit entry")
		httputil.WriteInternalError(w, err)
		return
	}

	node, err = h.tree.GetNode(ctx, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, node)
}
