package nodeconfig

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/orgtree"
	"github.com/platinummonkey/gantry/pkg/rbac"
)

type testIdentity struct {
	admin string
	scope string
	perms []string
}

func (i *testIdentity) IsGlobalAdmin() bool       { return i.admin != "" }
func (i *testIdentity) ScopeNodeID() string       { return i.scope }
func (i *testIdentity) HeldPermissions() []string { return i.perms }
func (i *testIdentity) ActorRef() string          { return "token:test" }

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Emit(ctx context.Context, event string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func serviceFixture(t *testing.T) (*orgtree.MemoryStore, *Service, *recordingSink) {
	t.Helper()
	tree := orgtree.NewMemoryStore()
	store := NewMemoryStore(tree, audit.NewMemoryLog())
	resolver := NewResolver(tree, store, nil, nil)
	sink := &recordingSink{}
	return tree, NewService(store, resolver, rbac.NewEnforcer(tree), sink, nil), sink
}

func TestUpdateConfigScopeEnforced(t *testing.T) {
	ctx := context.Background()
	tree, svc, _ := serviceFixture(t)

	org, err := tree.CreateNode(ctx, nil, orgtree.KindOrganization, "acme")
	require.NoError(t, err)
	checkout, err := tree.CreateNode(ctx, &org.ID, orgtree.KindTeam, "checkout")
	require.NoError(t, err)
	billing, err := tree.CreateNode(ctx, &org.ID, orgtree.KindTeam, "billing")
	require.NoError(t, err)

	checkoutWriter := &testIdentity{scope: checkout.ID, perms: []string{"config:write", "config:read"}}

	cfg, err := svc.UpdateConfig(ctx, checkoutWriter, checkout.ID, map[string]interface{}{"retention_days": 7})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "token:test", cfg.UpdatedBy)

	// A team-scoped writer cannot touch a sibling or its ancestor
	_, err = svc.UpdateConfig(ctx, checkoutWriter, billing.ID, map[string]interface{}{"retention_days": 1})
	assert.ErrorIs(t, err, rbac.ErrDenied)
	_, err = svc.UpdateConfig(ctx, checkoutWriter, org.ID, map[string]interface{}{"retention_days": 1})
	assert.ErrorIs(t, err, rbac.ErrDenied)

	// Missing permission denies even inside scope
	reader := &testIdentity{scope: checkout.ID, perms: []string{"config:read"}}
	_, err = svc.UpdateConfig(ctx, reader, checkout.ID, map[string]interface{}{"retention_days": 1})
	assert.ErrorIs(t, err, rbac.ErrDenied)
}

func TestPatchConfigDeepMerges(t *testing.T) {
	ctx := context.Background()
	tree, svc, _ := serviceFixture(t)

	org, err := tree.CreateNode(ctx, nil, orgtree.KindOrganization, "acme")
	require.NoError(t, err)
	admin := &testIdentity{admin: "root"}

	_, err = svc.UpdateConfig(ctx, admin, org.ID, map[string]interface{}{
		"retention_days": 30,
		"features":       map[string]interface{}{"alerts": true, "exports": false},
	})
	require.NoError(t, err)

	patched, err := svc.PatchConfig(ctx, admin, org.ID, map[string]interface{}{
		"features": map[string]interface{}{"exports": true},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, patched.Version)
	assert.Equal(t, map[string]interface{}{
		"retention_days": 30,
		"features":       map[string]interface{}{"alerts": true, "exports": true},
	}, patched.Payload)

	// PUT replaces wholesale where PATCH merges
	replaced, err := svc.UpdateConfig(ctx, admin, org.ID, map[string]interface{}{"retention_days": 14})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"retention_days": 14}, replaced.Payload)
}

func TestPatchConfigWithoutExistingFragment(t *testing.T) {
	ctx := context.Background()
	tree, svc, _ := serviceFixture(t)

	org, err := tree.CreateNode(ctx, nil, orgtree.KindOrganization, "acme")
	require.NoError(t, err)
	admin := &testIdentity{admin: "root"}

	patched, err := svc.PatchConfig(ctx, admin, org.ID, map[string]interface{}{"retention_days": 7})
	require.NoError(t, err)
	assert.Equal(t, 1, patched.Version)
	assert.Equal(t, map[string]interface{}{"retention_days": 7}, patched.Payload)
}

func TestGetEffectiveRequiresRead(t *testing.T) {
	ctx := context.Background()
	tree, svc, _ := serviceFixture(t)

	org, err := tree.CreateNode(ctx, nil, orgtree.KindOrganization, "acme")
	require.NoError(t, err)
	team, err := tree.CreateNode(ctx, &org.ID, orgtree.KindTeam, "checkout")
	require.NoError(t, err)

	admin := &testIdentity{admin: "root"}
	_, err = svc.UpdateConfig(ctx, admin, org.ID, map[string]interface{}{"retention_days": 30})
	require.NoError(t, err)

	orgReader := &testIdentity{scope: org.ID, perms: []string{"config:read"}}
	effective, err := svc.GetEffective(ctx, orgReader, team.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, effective.Payload["retention_days"])

	teamReader := &testIdentity{scope: team.ID, perms: []string{"config:read"}}
	_, err = svc.GetEffective(ctx, teamReader, org.ID)
	assert.ErrorIs(t, err, rbac.ErrDenied)
}

func TestUpdateConfigEmitsEvent(t *testing.T) {
	ctx := context.Background()
	tree, svc, sink := serviceFixture(t)

	org, err := tree.CreateNode(ctx, nil, orgtree.KindOrganization, "acme")
	require.NoError(t, err)
	admin := &testIdentity{admin: "root"}

	_, err = svc.UpdateConfig(ctx, admin, org.ID, map[string]interface{}{"retention_days": 30})
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []string{"config.updated"}, sink.events)
}
