package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/config"
	"github.com/platinummonkey/gantry/pkg/provisioning"
)

var (
	reclaimSchedule   = flag.String("reclaim-schedule", "*/5 * * * *", "Cron schedule for stuck provisioning run reclaim (default: every 5 minutes)")
	retentionSchedule = flag.String("retention-schedule", "30 0 * * *", "Cron schedule for the audit retention sweep (default: 00:30 UTC)")
	runOnce           = flag.Bool("run-once", false, "Run every task once and exit (for backfills)")
	logLevel          = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

// janitor owns the control plane's background data lifecycle: reclaiming
// abandoned provisioning runs and sweeping (optionally archiving) aged
// audit windows.
type janitor struct {
	runs     *provisioning.PostgresRunStore
	auditLog *audit.PostgresLog
	archiver *audit.S3Archiver
	cfg      *config.Config
	logger   *logrus.Logger
}

func main() {
	flag.Parse()
	logger := setupLogger(*logLevel)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := connectDatabase(cfg.Database.URL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	auditLog, err := audit.NewPostgresLog(db)
	if err != nil {
		logger.Fatalf("Failed to initialize audit log: %v", err)
	}
	runStore, err := provisioning.NewPostgresRunStore(db)
	if err != nil {
		logger.Fatalf("Failed to initialize run store: %v", err)
	}

	var archiver *audit.S3Archiver
	if cfg.Audit.ArchiveBucket != "" {
		archiver, err = audit.NewS3Archiver(ctx, audit.ArchiveConfig{
			Bucket:    cfg.Audit.ArchiveBucket,
			Endpoint:  cfg.Audit.ArchiveEndpoint,
			Region:    cfg.Audit.ArchiveRegion,
			AccessKey: cfg.Audit.ArchiveAccessKey,
			SecretKey: cfg.Audit.ArchiveSecretKey,
			PathStyle: cfg.Audit.ArchivePathStyle,
		})
		if err != nil {
			logger.Fatalf("Failed to initialize audit archiver: %v", err)
		}
		logger.Infof("Audit archiving enabled, bucket %s", cfg.Audit.ArchiveBucket)
	}

	j := &janitor{
		runs:     runStore,
		auditLog: auditLog,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger,
	}

	if *runOnce {
		logger.Info("Running all janitor tasks once")
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return j.reclaimStuck(gctx) })
		g.Go(func() error { return j.sweepAudit(gctx) })
		if err := g.Wait(); err != nil {
			logger.Fatalf("Janitor run failed: %v", err)
		}
		logger.Info("Janitor run completed")
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*reclaimSchedule, func() {
		if err := j.reclaimStuck(ctx); err != nil {
			logger.Errorf("Stuck run reclaim failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule stuck run reclaim: %v", err)
	}
	_, err = c.AddFunc(*retentionSchedule, func() {
		if err := j.sweepAudit(ctx); err != nil {
			logger.Errorf("Audit retention sweep failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule audit retention sweep: %v", err)
	}

	c.Start()
	logger.Info("Gantry janitor started")
	logger.Infof("Stuck run reclaim schedule: %s", *reclaimSchedule)
	logger.Infof("Audit retention sweep schedule: %s", *retentionSchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	logger.Info("Janitor stopped")
}

// reclaimStuck fails provisioning runs pending longer than the configured
// threshold so their idempotency keys become retryable
func (j *janitor) reclaimStuck(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-j.cfg.Provisioning.StuckAfter)
	reclaimed, err := j.runs.ReclaimStuck(ctx, cutoff)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		j.logger.Infof("Reclaimed %d stuck provisioning runs older than %s", reclaimed, cutoff.Format(time.RFC3339))
	}
	return nil
}

// sweepAudit archives (when configured) and deletes audit entries older
// than the retention window. Zero retention days keeps entries forever.
func (j *janitor) sweepAudit(ctx context.Context) error {
	if j.cfg.Audit.RetentionDays == 0 {
		j.logger.Debug("Audit retention disabled, skipping sweep")
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -j.cfg.Audit.RetentionDays)

	if j.archiver != nil {
		entries, err := j.auditLog.Query(ctx, audit.Filter{To: cutoff})
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			from := entries[0].CreatedAt
			key, err := j.archiver.Archive(ctx, entries, from, cutoff)
			if err != nil {
				// Never delete a window that failed to archive
				return err
			}
			j.logger.Infof("Archived %d audit entries to %s", len(entries), key)
		}
	}

	swept, err := j.auditLog.Sweep(ctx, cutoff)
	if err != nil {
		return err
	}
	if swept > 0 {
		j.logger.Infof("Swept %d audit entries older than %s", swept, cutoff.Format("2006-01-02"))
	}
	return nil
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

func connectDatabase(connectionString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
