package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/auth"
	"github.com/platinummonkey/gantry/pkg/httputil"
	"github.com/platinummonkey/gantry/pkg/middleware"
	"github.com/platinummonkey/gantry/pkg/nodeconfig"
	"github.com/platinummonkey/gantry/pkg/observability"
	"github.com/platinummonkey/gantry/pkg/orgtree"
	"github.com/platinummonkey/gantry/pkg/provisioning"
	"github.com/platinummonkey/gantry/pkg/rbac"
	"github.com/platinummonkey/gantry/pkg/webhooks"
)

// maxRequestBody caps request bodies; config payloads are the largest
// legitimate input and stay well under this.
const maxRequestBody = 1 << 20 // 1 MiB

// Dependencies collects everything the API surface needs. Health, Metrics,
// Registry, Webhooks, and RateLimit are optional; a nil field simply leaves
// that part of the surface unregistered.
type Dependencies struct {
	Tree         orgtree.Store
	Configs      *nodeconfig.Service
	Tokens       *auth.Service
	Audit        audit.Log
	Orchestrator *provisioning.Orchestrator
	Enforcer     *rbac.Enforcer
	Webhooks     *webhooks.Manager
	Health       *observability.HealthChecker
	Metrics      *observability.Metrics
	Registry     *prometheus.Registry
	Logger       *observability.Logger

	// RateLimit, when set, wraps the authenticated API subtree. The
	// caller picks the in-process or Redis-backed limiter.
	RateLimit func(http.Handler) http.Handler
}

// Server is the HTTP control-plane surface
type Server struct {
	deps   Dependencies
	router *mux.Router

	provisionHandlers *ProvisionHandlers
	nodeHandlers      *NodeHandlers
	configHandlers    *ConfigHandlers
	tokenHandlers     *TokenHandlers
	auditHandlers     *AuditHandlers
}

// NewServer creates the API server and wires all routes
func NewServer(deps Dependencies) *Server {
	s := &Server{
		deps:              deps,
		router:            mux.NewRouter(),
		provisionHandlers: NewProvisionHandlers(deps.Orchestrator),
		nodeHandlers:      NewNodeHandlers(deps.Tree, deps.Enforcer, deps.Audit),
		configHandlers:    NewConfigHandlers(deps.Configs),
		tokenHandlers:     NewTokenHandlers(deps.Tokens),
		auditHandlers:     NewAuditHandlers(deps.Audit, deps.Enforcer),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(
		middleware.RequestIDMiddleware,
		middleware.LoggingMiddleware(s.deps.Logger),
		middleware.RecoveryMiddleware(s.deps.Logger),
	)
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}
	s.router.Use(middleware.MaxBytesMiddleware(maxRequestBody))

	// Operational endpoints stay outside the authenticated subtree
	if s.deps.Health != nil {
		s.router.HandleFunc("/health", s.deps.Health.Readiness).Methods(http.MethodGet)
		s.router.HandleFunc("/health/live", s.deps.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", s.deps.Health.Readiness).Methods(http.MethodGet)
	}
	if s.deps.Registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.NewAuthMiddleware(s.deps.Tokens).Handler)
	if s.deps.RateLimit != nil {
		api.Use(s.deps.RateLimit)
	}

	s.provisionHandlers.RegisterRoutes(api)
	s.nodeHandlers.RegisterRoutes(api)
	s.configHandlers.RegisterRoutes(api)
	s.tokenHandlers.RegisterRoutes(api)
	s.auditHandlers.RegisterRoutes(api)

	if s.deps.Webhooks != nil {
		wh := api.NewRoute().Subrouter()
		wh.Use(requireWebhookManage)
		webhooks.NewHandlers(s.deps.Webhooks).RegisterRoutes(wh)
	}
}

// requireWebhookManage gates webhook administration: global admins always
// pass, anyone else needs the webhook:manage permission. Webhooks are a
// deployment-global resource, so there is no target node to scope against.
func requireWebhookManage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := middleware.GetIdentity(r)
		if identity == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !identity.IsGlobalAdmin() && !rbac.HoldsPermission(identity.HeldPermissions(), rbac.PermWebhookManage) {
			httputil.WriteForbidden(w, "webhook management requires webhook:manage")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router so callers can mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}
