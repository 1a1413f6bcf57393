package nodeconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/gantry/pkg/observability"
	"github.com/platinummonkey/gantry/pkg/rbac"
)

// EventSink receives configuration change notifications after a version
// commits. Delivery is best-effort and must not block the write path.
type EventSink interface {
	Emit(ctx context.Context, event string, data map[string]interface{})
}

// Service is the RBAC-gated surface over configuration fragments. Reads
// require config:read at or above the target node, writes config:write.
type Service struct {
	store    Store
	resolver *Resolver
	enforcer *rbac.Enforcer
	events   EventSink
	metrics  *observability.Metrics
}

// NewService creates a new configuration service. events may be nil.
func NewService(store Store, resolver *Resolver, enforcer *rbac.Enforcer, events EventSink, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		enforcer: enforcer,
		events:   events,
		metrics:  metrics,
	}
}

// GetConfig returns the node's own current fragment, not the merged view
func (s *Service) GetConfig(ctx context.Context, identity rbac.Identity, nodeID string) (*Configuration, error) {
	if err := s.enforcer.Require(ctx, identity, rbac.PermConfigRead, nodeID); err != nil {
		return nil, err
	}
	return s.store.GetCurrent(ctx, nodeID)
}

// GetConfigVersion returns one historical fragment version
func (s *Service) GetConfigVersion(ctx context.Context, identity rbac.Identity, nodeID string, version int) (*Configuration, error) {
	if err := s.enforcer.Require(ctx, identity, rbac.PermConfigRead, nodeID); err != nil {
		return nil, err
	}
	return s.store.GetVersion(ctx, nodeID, version)
}

// GetHistory returns a node's fragment versions, newest first
func (s *Service) GetHistory(ctx context.Context, identity rbac.Identity, nodeID string, limit int) ([]*Configuration, error) {
	if err := s.enforcer.Require(ctx, identity, rbac.PermConfigRead, nodeID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, nodeID, limit)
}

// GetEffective returns the deep-merged effective configuration for a node
func (s *Service) GetEffective(ctx context.Context, identity rbac.Identity, nodeID string) (*EffectiveConfig, error) {
	if err := s.enforcer.Require(ctx, identity, rbac.PermConfigRead, nodeID); err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, nodeID)
}

// UpdateConfig replaces the node's fragment wholesale with payload,
// writing a new version
func (s *Service) UpdateConfig(ctx context.Context, identity rbac.Identity, nodeID string, payload map[string]interface{}) (*Configuration, error) {
	if err := s.enforcer.Require(ctx, identity, rbac.PermConfigWrite, nodeID); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return s.write(ctx, identity, nodeID, payload)
}

// PatchConfig deep-merges patch into the node's current fragment and writes
// the result as a new version. A node without a fragment is patched from an
// empty map.
func (s *Service) PatchConfig(ctx context.Context, identity rbac.Identity, nodeID string, patch map[string]interface{}) (*Configuration, error) {
	if err := s.enforcer.Require(ctx, identity, rbac.PermConfigWrite, nodeID); err != nil {
		return nil, err
	}

	base := map[string]interface{}{}
	current, err := s.store.GetCurrent(ctx, nodeID)
	if err == nil {
		base = current.Payload
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to load current configuration: %w", err)
	}

	return s.write(ctx, identity, nodeID, Merge(base, patch))
}

func (s *Service) write(ctx context.Context, identity rbac.Identity, nodeID string, payload map[string]interface{}) (*Configuration, error) {
	cfg, err := s.store.Update(ctx, nodeID, payload, identity.ActorRef(), "")
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ConfigVersionsTotal.Inc()
	}
	if s.events != nil {
		s.events.Emit(ctx, "config.updated", map[string]interface{}{
			"node_id": cfg.NodeID,
			"version": cfg.Version,
			"actor":   cfg.UpdatedBy,
		})
	}
	return cfg, nil
}
