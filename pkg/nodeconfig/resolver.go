package nodeconfig

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gantry/pkg/observability"
	"github.com/platinummonkey/gantry/pkg/orgtree"
)

// ResolverConfig controls effective configuration caching
type ResolverConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultResolverConfig returns the default resolver configuration
func DefaultResolverConfig() *ResolverConfig {
	return &ResolverConfig{
		CacheSize: 4096,
		CacheTTL:  30 * time.Second,
	}
}

// Resolver derives effective configurations by deep-merging the current
// fragments along a node's lineage, root-first, so deeper nodes win on
// conflicting keys. Results are cached keyed by a fingerprint of the
// lineage's (node, version) pairs, which makes cache entries self-
// invalidating: any write anywhere on the path changes the fingerprint.
type Resolver struct {
	tree    orgtree.Store
	configs Store
	cache   *lru.LRU[string, *EffectiveConfig]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewResolver creates a new effective configuration resolver
func NewResolver(tree orgtree.Store, configs Store, config *ResolverConfig, metrics *observability.Metrics) *Resolver {
	if config == nil {
		config = DefaultResolverConfig()
	}

	return &Resolver{
		tree:    tree,
		configs: configs,
		cache:   lru.NewLRU[string, *EffectiveConfig](config.CacheSize, nil, config.CacheTTL),
		metrics: metrics,
	}
}

// Resolve returns the effective configuration for a node. The merge never
// mutates stored fragments; a node with no fragments anywhere on its path
// resolves to an empty map.
func (r *Resolver) Resolve(ctx context.Context, nodeID string) (*EffectiveConfig, error) {
	ctx, span := tracer.Start(ctx, "nodeconfig.Resolve")
	defer span.End()

	start := time.Now()

	lineage, err := r.tree.GetLineage(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve lineage: %w", err)
	}

	lineageIDs := make([]string, len(lineage))
	for i, node := range lineage {
		lineageIDs[i] = node.ID
	}

	versions, err := r.configs.CurrentVersions(ctx, lineageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve current versions: %w", err)
	}

	fingerprint := buildFingerprint(nodeID, lineageIDs, versions)

	if cached, ok := r.cache.Get(fingerprint); ok {
		if r.metrics != nil {
			r.metrics.CacheHitsTotal.WithLabelValues("effective_config").Inc()
			r.metrics.ResolutionsTotal.WithLabelValues("cache").Inc()
			r.metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
		}
		return copyEffective(cached), nil
	}
	if r.metrics != nil {
		r.metrics.CacheMissesTotal.WithLabelValues("effective_config").Inc()
	}

	// Collapse concurrent resolutions of the same fingerprint into one
	// merge; every waiter gets its own copy of the shared result.
	result, err, _ := r.group.Do(fingerprint, func() (interface{}, error) {
		return r.merge(ctx, nodeID, lineageIDs, fingerprint)
	})
	if err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.ResolutionsTotal.WithLabelValues("store").Inc()
		r.metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
	}
	return copyEffective(result.(*EffectiveConfig)), nil
}

func (r *Resolver) merge(ctx context.Context, nodeID string, lineageIDs []string, fingerprint string) (*EffectiveConfig, error) {
	payloads, err := r.configs.CurrentPayloads(ctx, lineageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load lineage payloads: %w", err)
	}

	effective := map[string]interface{}{}
	for _, id := range lineageIDs {
		if fragment, ok := payloads[id]; ok {
			effective = Merge(effective, fragment)
		}
	}

	resolved := &EffectiveConfig{
		NodeID:      nodeID,
		Payload:     effective,
		Fingerprint: fingerprint,
		ResolvedAt:  time.Now().UTC(),
	}
	r.cache.Add(fingerprint, resolved)
	return resolved, nil
}

// Invalidate drops every cached effective configuration. Fingerprint keying
// already invalidates on writes; this is for operational use only.
func (r *Resolver) Invalidate() {
	r.cache.Purge()
}

func buildFingerprint(nodeID string, lineageIDs []string, versions map[string]int) string {
	var b strings.Builder
	b.WriteString(nodeID)
	for _, id := range lineageIDs {
		b.WriteByte('|')
		b.WriteString(id)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(versions[id]))
	}
	return b.String()
}

func copyEffective(cfg *EffectiveConfig) *EffectiveConfig {
	dup := *cfg
	dup.Payload = copyValue(cfg.Payload).(map[string]interface{})
	return &dup
}
