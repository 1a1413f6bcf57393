package webhooks

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gantry/pkg/httputil"
)

// Handlers provides HTTP handlers for webhook management. Routes are
// expected to be mounted behind global-admin authorization.
type Handlers struct {
	manager *Manager
}

// NewHandlers creates new webhook handlers
func NewHandlers(manager *Manager) *Handlers {
	return &Handlers{manager: manager}
}

// RegisterRoutes registers webhook routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks", h.createWebhook).Methods(http.MethodPost)
	router.HandleFunc("/webhooks", h.listWebhooks).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{id}", h.getWebhook).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{id}", h.updateWebhook).Methods(http.MethodPut)
	router.HandleFunc("/webhooks/{id}", h.deleteWebhook).Methods(http.MethodDelete)
	router.HandleFunc("/webhooks/{id}/activate", h.activateWebhook).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/{id}/deactivate", h.deactivateWebhook).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/{id}/deliveries", h.listDeliveries).Methods(http.MethodGet)
}

func (h *Handlers) createWebhook(w http.ResponseWriter, r *http.Request) {
	var webhook Webhook
	if !httputil.ParseJSONOrError(w, r, &webhook) {
		return
	}

	if err := h.manager.Register(&webhook); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	httputil.WriteCreated(w, webhook)
}

func (h *Handlers) listWebhooks(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.manager.List())
}

func (h *Handlers) getWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	webhook, err := h.manager.Get(id)
	if err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}

	httputil.WriteSuccess(w, webhook)
}

func (h *Handlers) updateWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var updates Webhook
	if !httputil.ParseJSONOrError(w, r, &updates) {
		return
	}

	if err := h.manager.Update(id, &updates); err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}

	webhook, _ := h.manager.Get(id)
	httputil.WriteSuccess(w, webhook)
}

func (h *Handlers) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.manager.Unregister(id); err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}

	httputil.WriteNoContent(w)
}

func (h *Handlers) activateWebhook(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, h.manager.Activate)
}

func (h *Handlers) deactivateWebhook(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, h.manager.Deactivate)
}

func (h *Handlers) setActive(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if err := fn(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	webhook, _ := h.manager.Get(id)
	httputil.WriteSuccess(w, webhook)
}

func (h *Handlers) listDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if _, err := h.manager.Get(id); err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"deliveries": h.manager.DeliveryLogs(id, limit),
		"stats":      h.manager.DeliveryStatsFor(id),
	})
}
