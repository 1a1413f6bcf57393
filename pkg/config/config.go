package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gantry/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Provisioning configuration
	Provisioning ProvisioningConfig

	// Audit configuration
	Audit AuditConfig

	// Bootstrap configuration
	Bootstrap BootstrapConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL         string
	ReplicaURLs string // comma-separated read replica DSNs
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
}

// RedisConfig holds Redis connection configuration. An empty URL disables
// Redis; provisioning then falls back to in-process locks.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// Enabled reports whether a Redis endpoint is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// ProvisioningConfig holds orchestrator tuning knobs
type ProvisioningConfig struct {
	// LockTTL is the scope lock lease; the holder renews it while working
	LockTTL time.Duration

	// LockWait bounds how long a competing request waits for the scope lock
	// before failing with ProvisioningBusy
	LockWait time.Duration

	// PendingWait bounds how long a duplicate request waits for an in-flight
	// run with the same idempotency key to resolve
	PendingWait time.Duration

	// PendingPoll is the duplicate request's run state poll interval
	PendingPoll time.Duration

	// StuckAfter is the age past which a still-pending run is considered
	// abandoned and reclaimed by the janitor
	StuckAfter time.Duration
}

// AuditConfig holds audit retention and archive configuration
type AuditConfig struct {
	// RetentionDays of 0 keeps entries forever
	RetentionDays int

	// S3 archive target; empty bucket disables archiving
	ArchiveBucket    string
	ArchiveEndpoint  string
	ArchiveRegion    string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchivePathStyle bool
}

// BootstrapConfig points at the optional declarative seed file
type BootstrapConfig struct {
	File string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Provisioning:  loadProvisioningConfig(),
		Audit:         loadAuditConfig(),
		Bootstrap:     loadBootstrapConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GANTRY_HOST", "0.0.0.0"),
		Port:            getEnv("GANTRY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GANTRY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GANTRY_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GANTRY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GANTRY_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GANTRY_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("GANTRY_POSTGRES_URL", ""),
		ReplicaURLs: getEnv("GANTRY_POSTGRES_REPLICA_URLS", ""),
		MaxConns:    getEnvInt("GANTRY_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("GANTRY_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("GANTRY_POSTGRES_TIMEOUT", 30*time.Second),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("GANTRY_REDIS_URL", ""),
		Password:   getEnv("GANTRY_REDIS_PASSWORD", ""),
		DB:         getEnvInt("GANTRY_REDIS_DB", 0),
		MaxRetries: getEnvInt("GANTRY_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("GANTRY_REDIS_POOL_SIZE", 10),
	}
}

// loadProvisioningConfig loads orchestrator tuning from environment
func loadProvisioningConfig() ProvisioningConfig {
	return ProvisioningConfig{
		LockTTL:     getEnvDuration("GANTRY_PROVISIONING_LOCK_TTL", 30*time.Second),
		LockWait:    getEnvDuration("GANTRY_PROVISIONING_LOCK_WAIT", 5*time.Second),
		PendingWait: getEnvDuration("GANTRY_PROVISIONING_PENDING_WAIT", 30*time.Second),
		PendingPoll: getEnvDuration("GANTRY_PROVISIONING_PENDING_POLL", 500*time.Millisecond),
		StuckAfter:  getEnvDuration("GANTRY_PROVISIONING_STUCK_AFTER", 15*time.Minute),
	}
}

// loadAuditConfig loads audit retention configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		RetentionDays:    getEnvInt("GANTRY_AUDIT_RETENTION_DAYS", 0),
		ArchiveBucket:    getEnv("GANTRY_AUDIT_ARCHIVE_BUCKET", ""),
		ArchiveEndpoint:  getEnv("GANTRY_AUDIT_ARCHIVE_ENDPOINT", ""),
		ArchiveRegion:    getEnv("GANTRY_AUDIT_ARCHIVE_REGION", "us-east-1"),
		ArchiveAccessKey: getEnv("GANTRY_AUDIT_ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: getEnv("GANTRY_AUDIT_ARCHIVE_SECRET_KEY", ""),
		ArchivePathStyle: getEnvBool("GANTRY_AUDIT_ARCHIVE_PATH_STYLE", false),
	}
}

// loadBootstrapConfig loads bootstrap configuration from environment
func loadBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		File: getEnv("GANTRY_BOOTSTRAP_FILE", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GANTRY_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GANTRY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GANTRY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GANTRY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GANTRY_OTEL_SERVICE_NAME", "gantry"),
		OTelServiceVersion: getEnv("GANTRY_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GANTRY_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GANTRY_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Provisioning.LockTTL <= 0 {
		return fmt.Errorf("provisioning lock TTL must be positive")
	}
	if c.Provisioning.PendingPoll <= 0 {
		return fmt.Errorf("provisioning pending poll interval must be positive")
	}
	if c.Provisioning.PendingPoll >= c.Provisioning.PendingWait {
		return fmt.Errorf("provisioning pending poll interval must be shorter than the pending wait")
	}

	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit retention days cannot be negative")
	}
	if c.Audit.ArchiveBucket != "" && c.Audit.ArchiveEndpoint == "" {
		return fmt.Errorf("audit archive endpoint is required when an archive bucket is set")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
