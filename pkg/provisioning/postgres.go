package provisioning

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("gantry/provisioning")

// PostgresRunStore implements RunStore on PostgreSQL. The idempotency key
// is the primary key; INSERT ... ON CONFLICT DO NOTHING makes run creation
// race-free across instances.
type PostgresRunStore struct {
	db *sql.DB
}

// NewPostgresRunStore creates a new PostgresRunStore and ensures its table
// exists
func NewPostgresRunStore(db *sql.DB) (*PostgresRunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &PostgresRunStore{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure provisioning_runs table: %w", err)
	}

	return s, nil
}

// ensureTable creates the provisioning_runs table if it doesn't exist
func (s *PostgresRunStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS provisioning_runs (
		idempotency_key TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		org_node_id TEXT,
		team_node_id TEXT,
		config_version INTEGER,
		token_id TEXT,
		token_prefix TEXT,
		failed_step TEXT,
		failure_reason TEXT,
		started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMP WITH TIME ZONE
	);
	CREATE INDEX IF NOT EXISTS idx_provisioning_runs_status ON provisioning_runs (status, started_at);
	`

	_, err := s.db.Exec(query)
	return err
}

const runColumns = `idempotency_key, status, org_node_id, team_node_id, config_version,
	token_id, token_prefix, failed_step, failure_reason, started_at, completed_at`

// InsertOrFetch inserts a pending run for the key if none exists and
// returns the stored run either way
func (s *PostgresRunStore) InsertOrFetch(ctx context.Context, key string) (*Run, bool, error) {
	ctx, span := tracer.Start(ctx, "provisioning.InsertOrFetch")
	defer span.End()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO provisioning_runs (idempotency_key, status)
		VALUES ($1, 'pending')
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert run: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read insert result: %w", err)
	}

	run, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if run == nil {
		return nil, false, fmt.Errorf("run %s vanished after insert", key)
	}
	return run, inserted == 1, nil
}

// Get returns the run for a key, or nil when absent
func (s *PostgresRunStore) Get(ctx context.Context, key string) (*Run, error) {
	ctx, span := tracer.Start(ctx, "provisioning.Get")
	defer span.End()

	query := `SELECT ` + runColumns + ` FROM provisioning_runs WHERE idempotency_key = $1`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

// RecordProgress persists step outputs on a pending run so a crashed run
// resumes instead of repeating side effects
func (s *PostgresRunStore) RecordProgress(ctx context.Context, run *Run) error {
	ctx, span := tracer.Start(ctx, "provisioning.RecordProgress")
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		UPDATE provisioning_runs
		SET org_node_id = NULLIF($2, ''),
		    team_node_id = NULLIF($3, ''),
		    config_version = $4,
		    token_id = NULLIF($5, ''),
		    token_prefix = NULLIF($6, '')
		WHERE idempotency_key = $1 AND status = 'pending'
	`, run.IdempotencyKey, run.OrgNodeID, run.TeamNodeID, run.ConfigVersion, run.TokenID, run.TokenPrefix)
	if err != nil {
		return fmt.Errorf("failed to record run progress: %w", err)
	}
	return nil
}

// MarkCompleted transitions a run to completed with its result columns
func (s *PostgresRunStore) MarkCompleted(ctx context.Context, run *Run) error {
	ctx, span := tracer.Start(ctx, "provisioning.MarkCompleted")
	defer span.End()

	var completedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE provisioning_runs
		SET status = 'completed',
		    org_node_id = $2,
		    team_node_id = $3,
		    config_version = $4,
		    token_id = $5,
		    token_prefix = $6,
		    failed_step = NULL,
		    failure_reason = NULL,
		    completed_at = NOW()
		WHERE idempotency_key = $1
		RETURNING completed_at
	`, run.IdempotencyKey, run.OrgNodeID, run.TeamNodeID, run.ConfigVersion, run.TokenID, run.TokenPrefix,
	).Scan(&completedAt)
	if err != nil {
		return fmt.Errorf("failed to mark run completed: %w", err)
	}
	run.Status = StatusCompleted
	run.CompletedAt = &completedAt
	return nil
}

// MarkFailed transitions a run to failed with the step and reason
func (s *PostgresRunStore) MarkFailed(ctx context.Context, key, step, reason string) error {
	ctx, span := tracer.Start(ctx, "provisioning.MarkFailed")
	defer span.End()

	_, err := s.db.ExecContext(ctx, `
		UPDATE provisioning_runs
		SET status = 'failed', failed_step = $2, failure_reason = $3, completed_at = NOW()
		WHERE idempotency_key = $1
	`, key, step, reason)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// ReclaimStuck marks runs pending since before cutoff as failed with step
// "reclaimed", making retries with the same key possible again
func (s *PostgresRunStore) ReclaimStuck(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "provisioning.ReclaimStuck")
	defer span.End()

	result, err := s.db.ExecContext(ctx, `
		UPDATE provisioning_runs
		SET status = 'failed', failed_step = $2, failure_reason = 'run stuck pending past deadline', completed_at = NOW()
		WHERE status = 'pending' AND started_at < $1
	`, cutoff, StepReclaimed)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stuck runs: %w", err)
	}

	reclaimed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read reclaim result: %w", err)
	}
	return int(reclaimed), nil
}

func scanRun(row *sql.Row) (*Run, error) {
	run := &Run{}
	var orgNodeID, teamNodeID, tokenID, tokenPrefix, failedStep, failureReason sql.NullString
	var configVersion sql.NullInt64
	var completedAt sql.NullTime

	err := row.Scan(
		&run.IdempotencyKey, &run.Status, &orgNodeID, &teamNodeID, &configVersion,
		&tokenID, &tokenPrefix, &failedStep, &failureReason, &run.StartedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.OrgNodeID = orgNodeID.String
	run.TeamNodeID = teamNodeID.String
	run.ConfigVersion = int(configVersion.Int64)
	run.TokenID = tokenID.String
	run.TokenPrefix = tokenPrefix.String
	run.FailedStep = failedStep.String
	run.FailureReason = failureReason.String
	if completedAt.Valid {
		at := completedAt.Time
		run.CompletedAt = &at
	}
	return run, nil
}
