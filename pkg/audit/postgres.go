package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PostgresLog implements Log on PostgreSQL
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog creates a new database-backed audit log and ensures its
// table exists
func NewPostgresLog(db *sql.DB) (*PostgresLog, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	l := &PostgresLog{db: db}
	if err := l.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_log table: %w", err)
	}

	return l, nil
}

// ensureTable creates the audit_log table if it doesn't exist
func (l *PostgresLog) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		node_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		action VARCHAR(40) NOT NULL,
		before_state JSONB,
		after_state JSONB,
		metadata JSONB,
		request_id VARCHAR(100),
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_node_time ON audit_log(node_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
	`

	_, err := l.db.Exec(query)
	return err
}

// Append writes one entry, joining the caller's transaction when q is
// non-nil
func (l *PostgresLog) Append(ctx context.Context, q Querier, entry *Entry) error {
	if entry.NodeID == "" {
		return fmt.Errorf("audit entry requires a node_id")
	}
	if entry.Actor == "" {
		return fmt.Errorf("audit entry requires an actor")
	}

	if q == nil {
		q = l.db
	}

	beforeJSON, err := marshalOrNil(entry.Before)
	if err != nil {
		return fmt.Errorf("failed to marshal before state: %w", err)
	}
	afterJSON, err := marshalOrNil(entry.After)
	if err != nil {
		return fmt.Errorf("failed to marshal after state: %w", err)
	}
	metadataJSON, err := marshalOrNil(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log (node_id, actor, action, before_state, after_state, metadata, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err = q.QueryRowContext(ctx, query,
		entry.NodeID, entry.Actor, entry.Action,
		beforeJSON, afterJSON, metadataJSON,
		entry.RequestID, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// Query returns entries matching the filter ordered by created_at ascending
func (l *PostgresLog) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	conditions := []string{}
	args := []interface{}{}
	argPos := 1

	if filter.NodeID != "" {
		conditions = append(conditions, fmt.Sprintf("node_id = $%d", argPos))
		args = append(args, filter.NodeID)
		argPos++
	}
	if filter.Actor != "" {
		conditions = append(conditions, fmt.Sprintf("actor = $%d", argPos))
		args = append(args, filter.Actor)
		argPos++
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argPos))
		args = append(args, filter.Action)
		argPos++
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, filter.From)
		argPos++
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argPos))
		args = append(args, filter.To)
		argPos++
	}

	query := `SELECT id, node_id, actor, action, before_state, after_state, metadata, request_id, created_at FROM audit_log`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}

	return entries, nil
}

// Sweep deletes entries older than the cutoff and returns the count
// removed. This is the retention policy the Log contract defers to the
// janitor; nothing else deletes audit rows.
func (l *PostgresLog) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep audit log: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	entry := &Entry{}
	var beforeJSON, afterJSON, metadataJSON []byte
	var requestID sql.NullString

	err := rows.Scan(
		&entry.ID, &entry.NodeID, &entry.Actor, &entry.Action,
		&beforeJSON, &afterJSON, &metadataJSON,
		&requestID, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.RequestID = requestID.String
	if err := unmarshalOrNil(beforeJSON, &entry.Before); err != nil {
		return nil, fmt.Errorf("failed to unmarshal before state: %w", err)
	}
	if err := unmarshalOrNil(afterJSON, &entry.After); err != nil {
		return nil, fmt.Errorf("failed to unmarshal after state: %w", err)
	}
	if err := unmarshalOrNil(metadataJSON, &entry.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return entry, nil
}

func marshalOrNil(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalOrNil(data []byte, dest *map[string]interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}
