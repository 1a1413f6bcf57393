package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gantry/pkg/auth"
	"github.com/platinummonkey/gantry/pkg/httputil"
)

// TokenHandlers serves the token authority surface
type TokenHandlers struct {
	tokens *auth.Service
}

// NewTokenHandlers creates token handlers
func NewTokenHandlers(tokens *auth.Service) *TokenHandlers {
	return &TokenHandlers{tokens: tokens}
}

// RegisterRoutes registers token routes on the given router
func (h *TokenHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tokens", h.issue).Methods(http.MethodPost)
	router.HandleFunc("/tokens/{id}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/tokens/{id}", h.revoke).Methods(http.MethodDelete)
	router.HandleFunc("/nodes/{id}/tokens", h.listForNode).Methods(http.MethodGet)
}

// issueResponse carries the raw token exactly once, alongside the stored
// metadata. The raw form is not recoverable afterwards.
type issueResponse struct {
	Token    string      `json:"token"`
	Metadata *auth.Token `json:"metadata"`
}

// issue handles POST /api/v1/tokens
func (h *TokenHandlers) issue(w http.ResponseWriter, r *http.Request) {
	var req auth.IssueRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	raw, token, err := h.tokens.Issue(r.Context(), requestIdentity(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, issueResponse{Token: raw, Metadata: token.Metadata()})
}

// get handles GET /api/v1/tokens/{id}
func (h *TokenHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	token, err := h.tokens.Get(r.Context(), requestIdentity(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, token.Metadata())
}

// revoke handles DELETE /api/v1/tokens/{id}. Revocation is immediate and
// idempotent; a second revoke of the same token succeeds.
func (h *TokenHandlers) revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	token, err := h.tokens.Revoke(r.Context(), requestIdentity(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, token.Metadata())
}

// listForNode handles GET /api/v1/nodes/{id}/tokens
func (h *TokenHandlers) listForNode(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	tokens, err := h.tokens.ListForNode(r.Context(), requestIdentity(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	metadata := make([]*auth.Token, 0, len(tokens))
	for _, t := range tokens {
		metadata = append(metadata, t.Metadata())
	}
	httputil.WriteSuccess(w, map[string]interface{}{"tokens": metadata})
}
