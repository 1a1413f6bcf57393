package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/contextkeys"
)

var tracer = otel.Tracer("gantry/auth")

// PostgresStore implements Store on PostgreSQL. Token records are never
// hard-deleted; revocation only sets revoked_at.
type PostgresStore struct {
	db  *sql.DB
	log audit.Log
}

// NewPostgresStore creates a new PostgresStore and ensures its table exists
func NewPostgresStore(db *sql.DB, log audit.Log) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if log == nil {
		return nil, fmt.Errorf("audit log is required")
	}

	s := &PostgresStore{db: db, log: log}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure tokens table: %w", err)
	}

	return s, nil
}

// ensureTable creates the tokens table if it doesn't exist
func (s *PostgresStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		token_hash TEXT NOT NULL,
		salt TEXT NOT NULL,
		prefix TEXT NOT NULL,
		kind TEXT NOT NULL,
		org_id TEXT,
		team_id TEXT,
		permissions TEXT[] NOT NULL DEFAULT '{}',
		issued_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		issued_by TEXT NOT NULL,
		revoked_at TIMESTAMP WITH TIME ZONE
	);
	CREATE INDEX IF NOT EXISTS idx_tokens_scope ON tokens (team_id, org_id);
	`

	_, err := s.db.Exec(query)
	return err
}

// Insert persists a new token plus its token_issued audit entry in one
// transaction. The audit metadata carries only the token ID and display
// prefix, never the secret or its hash.
func (s *PostgresStore) Insert(ctx context.Context, token *Token, requestID string) error {
	ctx, span := tracer.Start(ctx, "auth.Insert")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO tokens (id, token_hash, salt, prefix, kind, org_id, team_id, permissions, issued_by)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
		RETURNING issued_at
	`, token.ID, token.Hash, token.Salt, token.Prefix, token.Kind,
		token.OrgID, token.TeamID, pq.Array(token.Permissions), token.IssuedBy,
	).Scan(&token.IssuedAt)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}

	if requestID == "" {
		requestID = contextkeys.GetRequestID(ctx)
	}
	entry := &audit.Entry{
		NodeID: token.ScopeNodeID(),
		Actor:  token.IssuedBy,
		Action: audit.ActionTokenIssued,
		Metadata: map[string]interface{}{
			"token_id":     token.ID,
			"token_prefix": token.Prefix,
			"kind":         string(token.Kind),
		},
		RequestID: requestID,
		CreatedAt: token.IssuedAt,
	}
	if err := s.log.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID returns the full token record including hash and salt
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Token, error) {
	ctx, span := tracer.Start(ctx, "auth.GetByID")
	defer span.End()

	query := `
		SELECT id, token_hash, salt, prefix, kind, org_id, team_id, permissions, issued_at, issued_by, revoked_at
		FROM tokens
		WHERE id = $1
	`
	token, err := scanToken(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}

	return token, nil
}

// Revoke sets revoked_at and appends a token_revoked audit entry in the
// same transaction. Already-revoked tokens pass through unchanged.
func (s *PostgresStore) Revoke(ctx context.Context, id, actor, requestID string) (*Token, error) {
	ctx, span := tracer.Start(ctx, "auth.Revoke")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, token_hash, salt, prefix, kind, org_id, team_id, permissions, issued_at, issued_by, revoked_at
		FROM tokens
		WHERE id = $1
		FOR UPDATE
	`
	token, err := scanToken(tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}

	if token.Revoked() {
		return token, nil
	}

	var revokedAt time.Time
	err = tx.QueryRowContext(ctx, `
		UPDATE tokens SET revoked_at = NOW() WHERE id = $1 RETURNING revoked_at
	`, id).Scan(&revokedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke token: %w", err)
	}
	token.RevokedAt = &revokedAt

	if requestID == "" {
		requestID = contextkeys.GetRequestID(ctx)
	}
	entry := &audit.Entry{
		NodeID: token.ScopeNodeID(),
		Actor:  actor,
		Action: audit.ActionTokenRevoked,
		Metadata: map[string]interface{}{
			"token_id":     token.ID,
			"token_prefix": token.Prefix,
		},
		RequestID: requestID,
		CreatedAt: *token.RevokedAt,
	}
	if err := s.log.Append(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return token, nil
}

// ListByNode returns tokens anchored at the given node, newest first
func (s *PostgresStore) ListByNode(ctx context.Context, nodeID string) ([]*Token, error) {
	ctx, span := tracer.Start(ctx, "auth.ListByNode")
	defer span.End()

	query := `
		SELECT id, token_hash, salt, prefix, kind, org_id, team_id, permissions, issued_at, issued_by, revoked_at
		FROM tokens
		WHERE COALESCE(team_id, org_id) = $1
		ORDER BY issued_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		token, err := scanTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tokens: %w", err)
	}

	return tokens, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFields(scanner rowScanner) (*Token, error) {
	token := &Token{}
	var orgID, teamID sql.NullString
	var revokedAt sql.NullTime
	var permissions pq.StringArray

	err := scanner.Scan(
		&token.ID, &token.Hash, &token.Salt, &token.Prefix, &token.Kind,
		&orgID, &teamID, &permissions, &token.IssuedAt, &token.IssuedBy, &revokedAt,
	)
	if err != nil {
		return nil, err
	}

	token.OrgID = orgID.String
	token.TeamID = teamID.String
	token.Permissions = []string(permissions)
	if revokedAt.Valid {
		at := revokedAt.Time
		token.RevokedAt = &at
	}
	return token, nil
}

func scanToken(row *sql.Row) (*Token, error) {
	return scanFields(row)
}

func scanTokenRow(rows *sql.Rows) (*Token, error) {
	return scanFields(rows)
}
