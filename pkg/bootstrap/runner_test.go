package bootstrap

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/auth"
	"github.com/platinummonkey/gantry/pkg/nodeconfig"
	"github.com/platinummonkey/gantry/pkg/observability"
	"github.com/platinummonkey/gantry/pkg/orgtree"
	"github.com/platinummonkey/gantry/pkg/provisioning"
	"github.com/platinummonkey/gantry/pkg/rbac"
)

type runnerFixture struct {
	runner *Runner
	tree   *orgtree.MemoryStore
	log    *audit.MemoryLog
	out    *bytes.Buffer
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()

	tree := orgtree.NewMemoryStore()
	log := audit.NewMemoryLog()
	enforcer := rbac.NewEnforcer(tree)
	tokens := auth.NewService(auth.NewMemoryStore(log), tree, enforcer, nil, nil)
	configStore := nodeconfig.NewMemoryStore(tree, log)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	orch := provisioning.NewOrchestrator(
		provisioning.NewMemoryRunStore(),
		provisioning.NewMemoryLockManager(),
		tree, configStore, tokens, log, enforcer,
		nil, nil, logger, nil,
	)

	out := &bytes.Buffer{}
	return &runnerFixture{
		runner: NewRunner(tokens, orch, log, logger, out),
		tree:   tree,
		log:    log,
		out:    out,
	}
}

func TestRunMintsGlobalAdminOnce(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()
	seed := &Seed{GlobalAdmin: true}

	require.NoError(t, f.runner.Run(ctx, seed))
	first := f.out.String()
	assert.Contains(t, first, "gantry_")
	assert.Contains(t, first, "shown once")

	f.out.Reset()
	require.NoError(t, f.runner.Run(ctx, seed))
	assert.Empty(t, f.out.String())
}

func TestRunProvisionsOrgsAndTeams(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	seed := &Seed{
		GlobalAdmin: true,
		Orgs: []OrgSeed{
			{
				Name: "acme",
				Teams: []TeamSeed{
					{
						Name:             "checkout",
						Config:           map[string]interface{}{"retention_days": 30},
						TokenPermissions: []string{"config:read"},
					},
					{Name: "payments"},
				},
			},
		},
	}
	require.NoError(t, f.runner.Run(ctx, seed))

	org, err := f.tree.FindRoot(ctx, "acme")
	require.NoError(t, err)
	checkout, err := f.tree.FindChild(ctx, org.ID, orgtree.KindTeam, "checkout")
	require.NoError(t, err)
	_, err = f.tree.FindChild(ctx, org.ID, orgtree.KindTeam, "payments")
	require.NoError(t, err)

	// One minted token line per team plus the global admin line
	assert.Equal(t, 3, strings.Count(f.out.String(), "shown once"))
	assert.Contains(t, f.out.String(), "acme/checkout")

	entries, err := f.log.Query(ctx, audit.Filter{NodeID: checkout.ID, Action: audit.ActionNodeCreated})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunIsIdempotent(t *testing.T) {
	f := newRunnerFixture(t)
	ctx := context.Background()

	seed := &Seed{
		GlobalAdmin: true,
		Orgs: []OrgSeed{
			{Name: "acme", Teams: []TeamSeed{{Name: "checkout"}}},
		},
	}
	require.NoError(t, f.runner.Run(ctx, seed))

	org, err := f.tree.FindRoot(ctx, "acme")
	require.NoError(t, err)
	childrenBefore, err := f.tree.ListChildren(ctx, org.ID)
	require.NoError(t, err)

	f.out.Reset()
	require.NoError(t, f.runner.Run(ctx, seed))

	childrenAfter, err := f.tree.ListChildren(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, len(childrenBefore), len(childrenAfter))
	// Replays mint nothing
	assert.Empty(t, f.out.String())
}
