package orgtree

import (
	"context"
	"errors"
	"time"
)

// Kind represents the level of a node in the tenant hierarchy
type Kind string

const (
	KindOrganization Kind = "organization"
	KindBusinessUnit Kind = "business_unit"
	KindTeam         Kind = "team"
)

// Valid reports whether the kind is one of the known hierarchy levels
func (k Kind) Valid() bool {
	switch k {
	case KindOrganization, KindBusinessUnit, KindTeam:
		return true
	}
	return false
}

// CanParent reports whether a node of this kind may be the parent of a child
// of the given kind. The ordering is strictly organization -> business_unit
// -> team; business units may nest under business units, and teams may hang
// directly off an organization. A team never parents anything.
func (k Kind) CanParent(child Kind) bool {
	switch k {
	case KindOrganization:
		return child == KindBusinessUnit || child == KindTeam
	case KindBusinessUnit:
		return child == KindBusinessUnit || child == KindTeam
	default:
		return false
	}
}

var (
	// ErrNotFound is returned when a node does not exist
	ErrNotFound = errors.New("node not found")

	// ErrInvalidHierarchy is returned when a create would violate the
	// organization -> business_unit -> team ordering, reference a missing
	// parent, or attach to a deactivated node
	ErrInvalidHierarchy = errors.New("invalid hierarchy")
)

// Node is a node in the tenant hierarchy. Lineage is the ordered list of
// node IDs from the root ancestor down to the node itself, materialized at
// creation time so reads never walk parent pointers.
type Node struct {
	ID            string     `json:"id"`
	ParentID      *string    `json:"parent_id,omitempty"`
	Kind          Kind       `json:"kind"`
	Name          string     `json:"name"`
	Lineage       []string   `json:"lineage"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// IsAncestorOrSelf reports whether the given node ID appears in this node's
// lineage. Containment is checked against the materialized ID list, not by
// string prefix, so IDs that happen to share prefixes cannot spoof scope.
func (n *Node) IsAncestorOrSelf(id string) bool {
	for _, ancestor := range n.Lineage {
		if ancestor == id {
			return true
		}
	}
	return false
}

// Store provides access to the org node hierarchy
type Store interface {
	// GetNode retrieves a node by ID, returning ErrNotFound when absent
	GetNode(ctx context.Context, id string) (*Node, error)

	// GetLineage returns the nodes on the path from the root ancestor to
	// the given node, inclusive, in root-first order
	GetLineage(ctx context.Context, id string) ([]*Node, error)

	// CreateNode creates a node under the given parent. A nil parent is
	// permitted only for organization roots. Returns ErrInvalidHierarchy
	// when the kind ordering would be violated or the parent is absent or
	// deactivated. Only the provisioning orchestrator (and the bootstrap
	// path that drives it) may call this.
	CreateNode(ctx context.Context, parentID *string, kind Kind, name string) (*Node, error)

	// FindRoot looks up a root organization by name, returning
	// ErrNotFound when absent
	FindRoot(ctx context.Context, name string) (*Node, error)

	// FindChild looks up a direct child of parentID by kind and name,
	// returning ErrNotFound when no such child exists. Provisioning uses
	// this to make node creation check-then-create idempotent.
	FindChild(ctx context.Context, parentID string, kind Kind, name string) (*Node, error)

	// Deactivate soft-deactivates a node. Audit history and token scopes
	// referencing the node stay intact.
	Deactivate(ctx context.Context, id string) error

	// ListChildren returns the direct active children of a node
	ListChildren(ctx context.Context, id string) ([]*Node, error)

	// ListDescendants returns every node whose lineage contains the given
	// node, excluding the node itself
	ListDescendants(ctx context.Context, id string) ([]*Node, error)
}
