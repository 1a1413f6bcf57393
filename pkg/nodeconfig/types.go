package nodeconfig

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a node has no configuration fragment (or no
// such version). Resolution treats a missing fragment as an empty map, not
// an error; this sentinel serves the direct read surface.
var ErrNotFound = errors.New("configuration not found")

// Configuration is one versioned configuration fragment attached to a node.
// Versions are monotonic per node and prior versions are never mutated.
type Configuration struct {
	NodeID    string                 `json:"node_id"`
	Version   int                    `json:"version"`
	Payload   map[string]interface{} `json:"payload"`
	UpdatedAt time.Time              `json:"updated_at"`
	UpdatedBy string                 `json:"updated_by"`
}

// EffectiveConfig is the derived, never-persisted deep-merge of the current
// fragments along a node's lineage, root-first. Fingerprint is the joined
// (nodeID, version) pairs of the lineage, so any version bump anywhere on
// the path changes it.
type EffectiveConfig struct {
	NodeID      string                 `json:"node_id"`
	Payload     map[string]interface{} `json:"payload"`
	Fingerprint string                 `json:"fingerprint"`
	ResolvedAt  time.Time              `json:"resolved_at"`
}

// Store persists versioned configuration fragments
type Store interface {
	// GetCurrent returns the current (highest-version) fragment for a
	// node, or ErrNotFound when the node has none
	GetCurrent(ctx context.Context, nodeID string) (*Configuration, error)

	// GetVersion returns one historical version
	GetVersion(ctx context.Context, nodeID string, version int) (*Configuration, error)

	// History returns fragments for a node, newest first
	History(ctx context.Context, nodeID string, limit int) ([]*Configuration, error)

	// CurrentVersions returns the current version per node for the given
	// IDs; nodes without a fragment are absent from the result
	CurrentVersions(ctx context.Context, nodeIDs []string) (map[string]int, error)

	// CurrentPayloads returns the current payload per node for the given
	// IDs; nodes without a fragment are absent from the result
	CurrentPayloads(ctx context.Context, nodeIDs []string) (map[string]map[string]interface{}, error)

	// Update writes version N+1 for a node and appends exactly one
	// config_update audit entry in the same transaction: if the audit
	// append fails the version write rolls back. Writes for one node are
	// serialized; returns the new Configuration.
	Update(ctx context.Context, nodeID string, payload map[string]interface{}, actor, requestID string) (*Configuration, error)
}
