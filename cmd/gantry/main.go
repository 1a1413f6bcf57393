package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gantry/pkg/api"
	"github.com/platinummonkey/gantry/pkg/async"
	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/auth"
	"github.com/platinummonkey/gantry/pkg/bootstrap"
	"github.com/platinummonkey/gantry/pkg/config"
	"github.com/platinummonkey/gantry/pkg/middleware"
	"github.com/platinummonkey/gantry/pkg/nodeconfig"
	"github.com/platinummonkey/gantry/pkg/observability"
	"github.com/platinummonkey/gantry/pkg/orgtree"
	"github.com/platinummonkey/gantry/pkg/provisioning"
	"github.com/platinummonkey/gantry/pkg/rbac"
	"github.com/platinummonkey/gantry/pkg/storage/postgres"
	"github.com/platinummonkey/gantry/pkg/webhooks"
)

const version = "1.0.0"

func main() {
	bootstrapOnly := flag.Bool("bootstrap", false, "Apply the bootstrap seed file and exit")
	bootstrapFile := flag.String("bootstrap-file", "", "Path to the bootstrap seed file (overrides GANTRY_BOOTSTRAP_FILE)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *bootstrapFile != "" {
		cfg.Bootstrap.File = *bootstrapFile
	}
	if *bootstrapOnly && cfg.Bootstrap.File == "" {
		log.Fatal("Bootstrap mode requires a seed file (-bootstrap-file or GANTRY_BOOTSTRAP_FILE)")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		fatal(logger, err, "Failed to initialize OpenTelemetry")
	}

	connMgr, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
	}, logger)
	if err != nil {
		fatal(logger, err, "Failed to connect to PostgreSQL")
	}
	db := connMgr.Primary()

	auditLog, err := audit.NewPostgresLog(db)
	if err != nil {
		fatal(logger, err, "Failed to initialize audit log")
	}
	tree, err := orgtree.NewPostgresStore(db)
	if err != nil {
		fatal(logger, err, "Failed to initialize org tree store")
	}
	configStore, err := nodeconfig.NewPostgresStore(db, auditLog)
	if err != nil {
		fatal(logger, err, "Failed to initialize config store")
	}
	tokenStore, err := auth.NewPostgresStore(db, auditLog)
	if err != nil {
		fatal(logger, err, "Failed to initialize token store")
	}
	runStore, err := provisioning.NewPostgresRunStore(db)
	if err != nil {
		fatal(logger, err, "Failed to initialize run store")
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var redisClient *redis.Client
	var locks provisioning.LockManager
	if cfg.Redis.Enabled() {
		rc, err := postgres.NewRedisClient(cfg.Redis)
		if err != nil {
			fatal(logger, err, "Failed to connect to Redis")
		}
		defer rc.Close()
		redisClient = rc.Client()
		locks = provisioning.NewRedisLockManager(redisClient, cfg.Provisioning.LockTTL, logger)
		logger.Info("Using Redis-backed provisioning locks")
	} else {
		locks = provisioning.NewMemoryLockManager()
		logger.Warn("Redis not configured, falling back to in-process provisioning locks")
	}

	manager := webhooks.NewManager(logger)
	manager.StartRetryWorker(ctx)

	enforcer := rbac.NewEnforcer(tree)
	tokens := auth.NewService(tokenStore, tree, enforcer, manager, metrics)
	resolver := nodeconfig.NewResolver(tree, configStore, nil, metrics)
	configs := nodeconfig.NewService(configStore, resolver, enforcer, manager, metrics)
	orchestrator := provisioning.NewOrchestrator(
		runStore, locks, tree, configStore, tokens, auditLog, enforcer,
		manager, metrics, logger,
		&provisioning.Config{
			WaitBudget:   cfg.Provisioning.PendingWait,
			PollInterval: cfg.Provisioning.PendingPoll,
		},
	)

	if cfg.Bootstrap.File != "" {
		seed, err := bootstrap.LoadSeed(cfg.Bootstrap.File)
		if err != nil {
			fatal(logger, err, "Failed to load bootstrap seed")
		}
		runner := bootstrap.NewRunner(tokens, orchestrator, auditLog, logger, os.Stdout)
		if err := runner.Run(ctx, seed); err != nil {
			fatal(logger, err, "Bootstrap failed")
		}
		logger.Info("Bootstrap seed applied")
	}
	if *bootstrapOnly {
		_ = manager.Shutdown(5 * time.Second)
		_ = connMgr.Close()
		return
	}

	var rateLimit func(http.Handler) http.Handler
	if redisClient != nil {
		rateLimit = middleware.NewDistributedRateLimitMiddleware(redisClient, logger).Handler
	} else {
		limiter := middleware.NewRateLimitMiddleware()
		rateLimit = limiter.Handler
	}

	health := observability.NewHealthChecker(db, redisClient, version)
	server := api.NewServer(api.Dependencies{
		Tree:         tree,
		Configs:      configs,
		Tokens:       tokens,
		Audit:        auditLog,
		Orchestrator: orchestrator,
		Enforcer:     enforcer,
		Webhooks:     manager,
		Health:       health,
		Metrics:      metrics,
		Registry:     registry,
		Logger:       logger,
		RateLimit:    rateLimit,
	})

	var handler http.Handler = server
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "gantry-api")
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Separate listener for k8s probes and metrics scrapes
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	observability.RegisterMetricsEndpoint(healthMux, registry)
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health server", healthServer.Shutdown)
	shutdown.RegisterShutdownFunc("webhook manager", func(context.Context) error {
		manager.StopRetryWorker()
		return manager.Shutdown(5 * time.Second)
	})
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return connMgr.Close()
	})
	if providers != nil {
		shutdown.RegisterShutdownFunc("telemetry", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, providers, logger)
		})
	}

	connMgr.StartHealthCheckRoutine(ctx, 30*time.Second)

	async.SafeGo("health server", logger, func() {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server exited")
		}
	})
	async.SafeGo("api server", logger, func() {
		logger.Infof("Gantry control plane %s listening on %s", version, httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal(logger, err, "API server exited")
		}
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}

// fatal logs a startup failure and exits
func fatal(logger *observability.Logger, err error, message string) {
	logger.WithError(err).Error(message)
	os.Exit(1)
}
