package nodeconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/contextkeys"
	"github.com/platinummonkey/gantry/pkg/orgtree"
)

var tracer = otel.Tracer("gantry/nodeconfig")

// PostgresStore implements Store on PostgreSQL with append-only versioned
// rows. Per-node writes are serialized by locking the node's org_nodes row
// for the duration of the update transaction.
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
		return nil, fmt.Errorf("failed to ensure node_configurations table: %w", err)
	}

	return s, nil
}

// ensureTable creates the node_configurations table if it doesn't exist
func (s *PostgresStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS node_configurations (
		node_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		payload JSONB NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_by TEXT NOT NULL,
		PRIMARY KEY (node_id, version)
	);
	`

	_, err := s.db.Exec(query)
	return err
}

// GetCurrent returns the current fragment for a node
func (s *PostgresStore) GetCurrent(ctx context.Context, nodeID string) (*Configuration, error) {
	ctx, span := tracer.Start(ctx, "nodeconfig.GetCurrent")
	defer span.End()

	query := `
		SELECT node_id, version, payload, updated_at, updated_by
		FROM node_configurations
		WHERE node_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, nodeID), nodeID)
}

// GetVersion returns one historical version
func (s *PostgresStore) GetVersion(ctx context.Context, nodeID string, version int) (*Configuration, error) {
	ctx, span := tracer.Start(ctx, "nodeconfig.GetVersion")
	defer span.End()

	query := `
		SELECT node_id, version, payload, updated_at, updated_by
		FROM node_configurations
		WHERE node_id = $1 AND version = $2
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, nodeID, version), nodeID)
}

// History returns fragments for a node, newest first
func (s *PostgresStore) History(ctx context.Context, nodeID string, limit int) ([]*Configuration, error) {
	ctx, span := tracer.Start(ctx, "nodeconfig.History")
	defer span.End()

	query := `
		SELECT node_id, version, payload, updated_at, updated_by
		FROM node_configurations
		WHERE node_id = $1
		ORDER BY version DESC
	`
	args := []interface{}{nodeID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query configuration history: %w", err)
	}
	defer rows.Close()

	var configs []*Configuration
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan configuration: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read configuration history: %w", err)
	}

	return configs, nil
}

// CurrentVersions returns the current version per node for the given IDs
func (s *PostgresStore) CurrentVersions(ctx context.Context, nodeIDs []string) (map[string]int, error) {
	ctx, span := tracer.Start(ctx, "nodeconfig.CurrentVersions")
	defer span.End()

	query := `
		SELECT node_id, MAX(version)
		FROM node_configurations
		WHERE node_id = ANY($1)
		GROUP BY node_id
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(nodeIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query current versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]int, len(nodeIDs))
	for rows.Next() {
		var nodeID string
		var version int
		if err := rows.Scan(&nodeID, &version); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions[nodeID] = version
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read versions: %w", err)
	}

	return versions, nil
}

// CurrentPayloads returns the current payload per node for the given IDs
func (s *PostgresStore) CurrentPayloads(ctx context.Context, nodeIDs []string) (map[string]map[string]interface{}, error) {
	ctx, span := tracer.Start(ctx, "nodeconfig.CurrentPayloads")
	defer span.End()

	query := `
		SELECT DISTINCT ON (node_id) node_id, payload
		FROM node_configurations
		WHERE node_id = ANY($1)
		ORDER BY node_id, version DESC
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(nodeIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query current payloads: %w", err)
	}
	defer rows.Close()

	payloads := make(map[string]map[string]interface{}, len(nodeIDs))
	for rows.Next() {
		var nodeID string
		var payloadJSON []byte
		if err := rows.Scan(&nodeID, &payloadJSON); err != nil {
			return nil, fmt.Errorf("failed to scan payload: %w", err)
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for %s: %w", nodeID, err)
		}
		payloads[nodeID] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read payloads: %w", err)
	}

	return payloads, nil
}

// Update writes version N+1 plus its audit entry in one transaction. The
// FOR UPDATE lock on the node's org_nodes row serializes concurrent writers
// of the same node, keeping versions strictly monotonic.
func (s *PostgresStore) Update(ctx context.Context, nodeID string, payload map[string]interface{}, actor, requestID string) (*Configuration, error) {
	ctx, span := tracer.Start(ctx, "nodeconfig.Update")
	defer span.End()

	if payload == nil {
		payload = map[string]interface{}{}
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lockedID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM org_nodes WHERE id = $1 FOR UPDATE`, nodeID).Scan(&lockedID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", orgtree.ErrNotFound, nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock node row: %w", err)
	}

	var before map[string]interface{}
	currentVersion := 0
	var currentJSON []byte
	err = tx.QueryRowContext(ctx, `
		SELECT version, payload FROM node_configurations
		WHERE node_id = $1 ORDER BY version DESC LIMIT 1
	`, nodeID).Scan(&currentVersion, &currentJSON)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read current configuration: %w", err)
	}
	if len(currentJSON) > 0 {
		if err := json.Unmarshal(currentJSON, &before); err != nil {
			return nil, fmt.Errorf("failed to unmarshal current payload: %w", err)
		}
	}

	cfg := &Configuration{
		NodeID:    nodeID,
		Version:   currentVersion + 1,
		Payload:   payload,
		UpdatedBy: actor,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO node_configurations (node_id, version, payload, updated_by)
		VALUES ($1, $2, $3, $4)
		RETURNING updated_at
	`, cfg.NodeID, cfg.Version, payloadJSON, cfg.UpdatedBy).Scan(&cfg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert configuration version: %w", err)
	}

	// The audit append joins this transaction: if it fails, the version
	// write above rolls back with it.
	entry := &audit.Entry{
		NodeID:    nodeID,
		Actor:     actor,
		Action:    audit.ActionConfigUpdate,
		Before:    before,
		After:     payload,
		RequestID: requestID,
	}
	if entry.RequestID == "" {
		entry.RequestID = contextkeys.GetRequestID(ctx)
	}
	if err := s.log.Append(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit configuration update: %w", err)
	}

	return cfg, nil
}

func (s *PostgresStore) scanOne(row *sql.Row, nodeID string) (*Configuration, error) {
	cfg := &Configuration{}
	var payloadJSON []byte

	err := row.Scan(&cfg.NodeID, &cfg.Version, &payloadJSON, &cfg.UpdatedAt, &cfg.UpdatedBy)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: node %s", ErrNotFound, nodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	if err := json.Unmarshal(payloadJSON, &cfg.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return cfg, nil
}

func scanConfig(rows *sql.Rows) (*Configuration, error) {
	cfg := &Configuration{}
	var payloadJSON []byte

	if err := rows.Scan(&cfg.NodeID, &cfg.Version, &payloadJSON, &cfg.UpdatedAt, &cfg.UpdatedBy); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payloadJSON, &cfg.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return cfg, nil
}
