// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	GANTRY_HOST="0.0.0.0"
//	GANTRY_PORT="8080"
//	GANTRY_HEALTH_PORT="9090"
//	GANTRY_READ_TIMEOUT="15s"
//	GANTRY_WRITE_TIMEOUT="15s"
//	GANTRY_SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	GANTRY_POSTGRES_URL="postgres://localhost/gantry"
//	GANTRY_POSTGRES_REPLICA_URLS="postgres://replica1/gantry,postgres://replica2/gantry"
//	GANTRY_POSTGRES_MAX_CONNS="25"
//	GANTRY_POSTGRES_MIN_CONNS="5"
//
// Redis settings (empty URL disables Redis; provisioning falls back to
// in-process locks):
//
//	GANTRY_REDIS_URL="redis://localhost:6379"
//	GANTRY_REDIS_POOL_SIZE="10"
//
// Provisioning settings:
//
//	GANTRY_PROVISIONING_LOCK_TTL="30s"
//	GANTRY_PROVISIONING_PENDING_WAIT="30s"
//	GANTRY_PROVISIONING_PENDING_POLL="500ms"
//	GANTRY_PROVISIONING_STUCK_AFTER="15m"
//
// Audit settings (zero retention days keeps entries forever; empty bucket
// disables archiving):
//
//	GANTRY_AUDIT_RETENTION_DAYS="90"
//	GANTRY_AUDIT_ARCHIVE_BUCKET="gantry-audit"
//	GANTRY_AUDIT_ARCHIVE_ENDPOINT="s3.us-east-1.amazonaws.com"
//	GANTRY_AUDIT_ARCHIVE_REGION="us-east-1"
//
// Bootstrap settings:
//
//	GANTRY_BOOTSTRAP_FILE="/etc/gantry/seed.yaml"
//
// Observability settings:
//
//	GANTRY_LOG_LEVEL="info"  # debug, info, warn, error
//	GANTRY_METRICS_ENABLED="true"
//	GANTRY_OTEL_ENABLED="true"
//	GANTRY_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage/postgres: Uses database and Redis configuration
//   - pkg/provisioning: Uses provisioning configuration
//   - pkg/observability: Uses observability configuration
package config
