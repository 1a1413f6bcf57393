package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/gantry/pkg/auth"
	"github.com/platinummonkey/gantry/pkg/httputil"
	"github.com/platinummonkey/gantry/pkg/nodeconfig"
	"github.com/platinummonkey/gantry/pkg/orgtree"
	"github.com/platinummonkey/gantry/pkg/provisioning"
	"github.com/platinummonkey/gantry/pkg/rbac"
)

// writeServiceError maps service-layer sentinel errors onto the HTTP status
// taxonomy. Anything unrecognized is a 500 so storage faults never
// masquerade as client errors.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orgtree.ErrNotFound),
		errors.Is(err, nodeconfig.ErrNotFound),
		errors.Is(err, auth.ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, orgtree.ErrInvalidHierarchy),
		errors.Is(err, auth.ErrInvalidScope):
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrRevokedToken):
		httputil.WriteUnauthorized(w, err.Error())
	case errors.Is(err, rbac.ErrDenied):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, provisioning.ErrBusy):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, provisioning.ErrFailed):
		httputil.WriteErrorMessage(w, http.StatusBadGateway, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
