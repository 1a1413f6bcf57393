package orgtree

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("gantry/orgtree")

// PostgresStore implements Store using PostgreSQL with a materialized
// lineage column
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore and ensures its table exists
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &PostgresStore{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure org_nodes table: %w", err)
	}

	return s, nil
}

// ensureTable creates the org_nodes table if it doesn't exist
func (s *PostgresStore) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS org_nodes (
		id TEXT PRIMARY KEY,
		parent_id TEXT REFERENCES org_nodes(id),
		kind VARCHAR(20) NOT NULL,
		name TEXT NOT NULL,
		lineage TEXT[] NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		deactivated_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_org_nodes_parent ON org_nodes(parent_id);
	CREATE INDEX IF NOT EXISTS idx_org_nodes_lineage ON org_nodes USING GIN(lineage);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_org_nodes_parent_kind_name
		ON org_nodes(parent_id, kind, name) WHERE parent_id IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_org_nodes_root_name
		ON org_nodes(name) WHERE parent_id IS NULL;
	`

	_, err := s.db.Exec(query)
	return err
}

const nodeColumns = `id, parent_id, kind, name, lineage, active, created_at, deactivated_at`

func scanNode(row interface{ Scan(...interface{}) error }) (*Node, error) {
	node := &Node{}
	err := row.Scan(
		&node.ID, &node.ParentID, &node.Kind, &node.Name,
		pq.Array(&node.Lineage), &node.Active, &node.CreatedAt, &node.DeactivatedAt,
	)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// GetNode retrieves a node by ID
func (s *PostgresStore) GetNode(ctx context.Context, id string) (*Node, error) {
	ctx, span := tracer.Start(ctx, "orgtree.GetNode")
	defer span.End()
	span.SetAttributes(attribute.String("node.id", id))

	query := `SELECT ` + nodeColumns + ` FROM org_nodes WHERE id = $1`
	node, err := scanNode(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	return node, nil
}

// GetLineage returns the nodes on the path from root to the given node.
// The read is a single query over the materialized lineage array; ordering
// is restored in memory from the array positions.
func (s *PostgresStore) GetLineage(ctx context.Context, id string) ([]*Node, error) {
	ctx, span := tracer.Start(ctx, "orgtree.GetLineage")
	defer span.End()
	span.SetAttributes(attribute.String("node.id", id))

	node, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + nodeColumns + ` FROM org_nodes WHERE id = ANY($1)`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(node.Lineage))
	if err != nil {
		return nil, fmt.Errorf("failed to get lineage: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Node, len(node.Lineage))
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lineage node: %w", err)
		}
		byID[n.ID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lineage: %w", err)
	}

	lineage := make([]*Node, 0, len(node.Lineage))
	for _, ancestorID := range node.Lineage {
		n, ok := byID[ancestorID]
		if !ok {
			return nil, fmt.Errorf("lineage of %s references missing node %s", id, ancestorID)
		}
		lineage = append(lineage, n)
	}

	return lineage, nil
}

// CreateNode creates a node under the given parent, computing and persisting
// the lineage array at creation time
func (s *PostgresStore) CreateNode(ctx context.Context, parentID *string, kind Kind, name string) (*Node, error) {
	ctx, span := tracer.Start(ctx, "orgtree.CreateNode")
	defer span.End()
	span.SetAttributes(attribute.String("node.kind", string(kind)))

	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidHierarchy, kind)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: node name is required", ErrInvalidHierarchy)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	node := &Node{
		ID:     uuid.NewString(),
		Kind:   kind,
		Name:   name,
		Active: true,
	}

	if parentID == nil {
		if kind != KindOrganization {
			return nil, fmt.Errorf("%w: only organization nodes may be roots", ErrInvalidHierarchy)
		}
		node.Lineage = []string{node.ID}
	} else {
		query := `SELECT ` + nodeColumns + ` FROM org_nodes WHERE id = $1 FOR UPDATE`
		parent, err := scanNode(tx.QueryRowContext(ctx, query, *parentID))
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: parent %s does not exist", ErrInvalidHierarchy, *parentID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get parent node: %w", err)
		}
		if !parent.Active {
			return nil, fmt.Errorf("%w: parent %s is deactivated", ErrInvalidHierarchy, *parentID)
		}
		if !parent.Kind.CanParent(kind) {
			return nil, fmt.Errorf("%w: %s cannot parent %s", ErrInvalidHierarchy, parent.Kind, kind)
		}
		node.ParentID = parentID
		node.Lineage = append(append([]string{}, parent.Lineage...), node.ID)
	}

	insert := `
		INSERT INTO org_nodes (id, parent_id, kind, name, lineage, active)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING created_at
	`
	err = tx.QueryRowContext(ctx, insert,
		node.ID, node.ParentID, node.Kind, node.Name, pq.Array(node.Lineage),
	).Scan(&node.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create node: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit node creation: %w", err)
	}

	return node, nil
}

// FindChild looks up a direct child of parentID by kind and name
func (s *PostgresStore) FindChild(ctx context.Context, parentID string, kind Kind, name string) (*Node, error) {
	ctx, span := tracer.Start(ctx, "orgtree.FindChild")
	defer span.End()

	query := `SELECT ` + nodeColumns + ` FROM org_nodes WHERE parent_id = $1 AND kind = $2 AND name = $3`
	node, err := scanNode(s.db.QueryRowContext(ctx, query, parentID, kind, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no %s named %q under %s", ErrNotFound, kind, name, parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find child: %w", err)
	}

	return node, nil
}

// FindRoot looks up a root organization by name
func (s *PostgresStore) FindRoot(ctx context.Context, name string) (*Node, error) {
	ctx, span := tracer.Start(ctx, "orgtree.FindRoot")
	defer span.End()

	query := `SELECT ` + nodeColumns + ` FROM org_nodes WHERE parent_id IS NULL AND name = $1`
	node, err := scanNode(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no organization named %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find root: %w", err)
	}

	return node, nil
}

// Deactivate soft-deactivates a node
func (s *PostgresStore) Deactivate(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "orgtree.Deactivate")
	defer span.End()

	query := `
		UPDATE org_nodes SET active = false, deactivated_at = $1
		WHERE id = $2 AND active = true
	`
	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate node: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Distinguish an absent node from an already-deactivated one
		if _, err := s.GetNode(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

// ListChildren returns the direct active children of a node
func (s *PostgresStore) ListChildren(ctx context.Context, id string) ([]*Node, error) {
	ctx, span := tracer.Start(ctx, "orgtree.ListChildren")
	defer span.End()

	if _, err := s.GetNode(ctx, id); err != nil {
		return nil, err
	}

	query := `SELECT ` + nodeColumns + ` FROM org_nodes WHERE parent_id = $1 AND active = true ORDER BY created_at`
	return s.queryNodes(ctx, query, id)
}

// ListDescendants returns every node whose lineage contains the given node,
// excluding the node itself. The GIN index on lineage serves the containment
// query.
func (s *PostgresStore) ListDescendants(ctx context.Context, id string) ([]*Node, error) {
	ctx, span := tracer.Start(ctx, "orgtree.ListDescendants")
	defer span.End()

	if _, err := s.GetNode(ctx, id); err != nil {
		return nil, err
	}

	query := `SELECT ` + nodeColumns + ` FROM org_nodes WHERE lineage @> ARRAY[$1]::text[] AND id <> $1 ORDER BY created_at`
	return s.queryNodes(ctx, query, id)
}

func (s *PostgresStore) queryNodes(ctx context.Context, query string, args ...interface{}) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read nodes: %w", err)
	}

	return nodes, nil
}
