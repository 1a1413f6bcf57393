package nodeconfig

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/contextkeys"
	"github.com/platinummonkey/gantry/pkg/orgtree"
)

// MemoryStore implements Store in memory with the same semantics as the
// Postgres store, including the all-or-nothing coupling between a version
// write and its audit entry. Used by unit tests and embedded deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[string][]*Configuration
	nodes    orgtree.Store
	log      audit.Log
}

// NewMemoryStore creates a new in-memory configuration store. Updates
// verify node existence against nodes and append to log.
func NewMemoryStore(nodes orgtree.Store, log audit.Log) *MemoryStore {
	return &MemoryStore{
		versions: make(map[string][]*Configuration),
		nodes:    nodes,
		log:      log,
	}
}

func copyConfig(cfg *Configuration) *Configuration {
	dup := *cfg
	dup.Payload = copyValue(cfg.Payload).(map[string]interface{})
	return &dup
}

// GetCurrent returns the current fragment for a node
func (s *MemoryStore) GetCurrent(ctx context.Context, nodeID string) (*Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.versions[nodeID]
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, nodeID)
	}
	return copyConfig(history[len(history)-1]), nil
}

// GetVersion returns one historical version
func (s *MemoryStore) GetVersion(ctx context.Context, nodeID string, version int) (*Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cfg := range s.versions[nodeID] {
		if cfg.Version == version {
			return copyConfig(cfg), nil
		}
	}
	return nil, fmt.Errorf("%w: %s version %d", ErrNotFound, nodeID, version)
}

// History returns fragments for a node, newest first
func (s *MemoryStore) History(ctx context.Context, nodeID string, limit int) ([]*Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.versions[nodeID]
	var configs []*Configuration
	for i := len(history) - 1; i >= 0; i-- {
		if limit > 0 && len(configs) == limit {
			break
		}
		configs = append(configs, copyConfig(history[i]))
	}
	return configs, nil
}

// CurrentVersions returns the current version per node for the given IDs
func (s *MemoryStore) CurrentVersions(ctx context.Context, nodeIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := make(map[string]int, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		if history := s.versions[nodeID]; len(history) > 0 {
			versions[nodeID] = history[len(history)-1].Version
		}
	}
	return versions, nil
}

// CurrentPayloads returns the current payload per node for the given IDs
func (s *MemoryStore) CurrentPayloads(ctx context.Context, nodeIDs []string) (map[string]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payloads := make(map[string]map[string]interface{}, len(nodeIDs))
	for _, nodeID := range nodeIDs {
		if history := s.versions[nodeID]; len(history) > 0 {
			payloads[nodeID] = copyValue(history[len(history)-1].Payload).(map[string]interface{})
		}
	}
	return payloads, nil
}

// Update writes version N+1 for a node. If the audit append fails the new
// version is not retained, mirroring the Postgres transaction rollback.
func (s *MemoryStore) Update(ctx context.Context, nodeID string, payload map[string]interface{}, actor, requestID string) (*Configuration, error) {
	if _, err := s.nodes.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.versions[nodeID]
	version := 1
	var before map[string]interface{}
	if len(history) > 0 {
		current := history[len(history)-1]
		version = current.Version + 1
		before = copyValue(current.Payload).(map[string]interface{})
	}

	cfg := &Configuration{
		NodeID:    nodeID,
		Version:   version,
		Payload:   copyValue(payload).(map[string]interface{}),
		UpdatedAt: time.Now().UTC(),
		UpdatedBy: actor,
	}

	if requestID == "" {
		requestID = contextkeys.GetRequestID(ctx)
	}
	entry := &audit.Entry{
		NodeID:    nodeID,
		Actor:     actor,
		Action:    audit.ActionConfigUpdate,
		Before:    before,
		After:     copyValue(payload).(map[string]interface{}),
		RequestID: requestID,
		CreatedAt: cfg.UpdatedAt,
	}
	if err := s.log.Append(ctx, nil, entry); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}

	s.versions[nodeID] = append(history, cfg)
	return copyConfig(cfg), nil
}
