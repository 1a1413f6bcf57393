//go:build integration

package integration

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/gantry/pkg/api"
	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/auth"
	"github.com/platinummonkey/gantry/pkg/nodeconfig"
	"github.com/platinummonkey/gantry/pkg/observability"
	"github.com/platinummonkey/gantry/pkg/orgtree"
	"github.com/platinummonkey/gantry/pkg/provisioning"
	"github.com/platinummonkey/gantry/pkg/rbac"
	"github.com/platinummonkey/gantry/pkg/webhooks"
)

// setupPostgresTestDB creates a PostgreSQL test container. The stores create
// their own schema on construction, so no migrations run here.
func setupPostgresTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("gantry_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	t.Cleanup(func() {
		db.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgresContainer.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	return db
}

// controlPlane is the full service stack wired onto one PostgreSQL database
type controlPlane struct {
	server   *api.Server
	db       *sql.DB
	auditLog *audit.PostgresLog
	runs     *provisioning.PostgresRunStore
	tokens   *auth.Service
	tree     orgtree.Store
	rawAdmin string
}

func setupControlPlane(t *testing.T) *controlPlane {
	t.Helper()
	ctx := context.Background()

	db := setupPostgresTestDB(t)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	auditLog, err := audit.NewPostgresLog(db)
	require.NoError(t, err)
	tree, err := orgtree.NewPostgresStore(db)
	require.NoError(t, err)
	configStore, err := nodeconfig.NewPostgresStore(db, auditLog)
	require.NoError(t, err)
	tokenStore, err := auth.NewPostgresStore(db, auditLog)
	require.NoError(t, err)
	runStore, err := provisioning.NewPostgresRunStore(db)
	require.NoError(t, err)

	enforcer := rbac.NewEnforcer(tree)
	tokens := auth.NewService(tokenStore, tree, enforcer, nil, nil)
	resolver := nodeconfig.NewResolver(tree, configStore, nil, nil)
	configs := nodeconfig.NewService(configStore, resolver, enforcer, nil, nil)

	orch := provisioning.NewOrchestrator(
		runStore,
		provisioning.NewMemoryLockManager(),
		tree, configStore, tokens, auditLog, enforcer,
		nil, nil, logger, nil,
	)

	manager := webhooks.NewManager(logger)
	t.Cleanup(func() { _ = manager.Shutdown(time.Second) })

	server := api.NewServer(api.Dependencies{
		Tree:         tree,
		Configs:      configs,
		Tokens:       tokens,
		Audit:        auditLog,
		Orchestrator: orch,
		Enforcer:     enforcer,
		Webhooks:     manager,
		Health:       observability.NewHealthChecker(db, nil, "integration-test"),
		Logger:       logger,
	})

	rawAdmin, _, err := tokens.IssueBootstrap(ctx)
	require.NoError(t, err)

	return &controlPlane{
		server:   server,
		db:       db,
		auditLog: auditLog,
		runs:     runStore,
		tokens:   tokens,
		tree:     tree,
		rawAdmin: rawAdmin,
	}
}

func (cp *controlPlane) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	cp.server.ServeHTTP(rec, req)
	return rec
}

// TestProvisioningLifecycle provisions a team end to end against PostgreSQL,
// then verifies replay, token authority, and config inheritance through the
// HTTP surface.
func TestProvisioningLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cp := setupControlPlane(t)

	request := map[string]interface{}{
		"idempotency_key": "int-checkout-1",
		"org_name":        "acme",
		"team_name":       "checkout",
		"initial_config": map[string]interface{}{
			"limits": map[string]interface{}{"rps": 100},
		},
		"token_permissions": []string{"config:read", "config:write"},
	}

	rec := cp.do(t, http.MethodPost, "/api/v1/provision", cp.rawAdmin, request)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result provisioning.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.False(t, result.Replayed)
	assert.NotEmpty(t, result.OrgNodeID)
	assert.NotEmpty(t, result.TeamNodeID)
	assert.NotEmpty(t, result.RawToken)
	assert.Equal(t, 1, result.ConfigVersion)

	t.Run("ReplayReturnsStoredOutcome", func(t *testing.T) {
		rec := cp.do(t, http.MethodPost, "/api/v1/provision", cp.rawAdmin, request)
		require.Equal(t, http.StatusOK, rec.Code)

		var replay provisioning.Result
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&replay))
		assert.True(t, replay.Replayed)
		assert.Equal(t, result.TeamNodeID, replay.TeamNodeID)
		assert.Equal(t, result.TokenID, replay.TokenID)
		assert.Empty(t, replay.RawToken, "raw token must not be re-disclosed on replay")
	})

	t.Run("RunStatusVisible", func(t *testing.T) {
		rec := cp.do(t, http.MethodGet, "/api/v1/provision/int-checkout-1", cp.rawAdmin, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var run provisioning.Run
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&run))
		assert.Equal(t, provisioning.StatusCompleted, run.Status)
		assert.NotNil(t, run.CompletedAt)
	})

	t.Run("MintedTokenAuthenticates", func(t *testing.T) {
		rec := cp.do(t, http.MethodGet, "/api/v1/nodes/"+result.TeamNodeID+"/config", result.RawToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var cfg nodeconfig.Configuration
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&cfg))
		assert.Equal(t, 1, cfg.Version)
	})

	t.Run("MintedTokenScopedToOwnSubtree", func(t *testing.T) {
		rec := cp.do(t, http.MethodGet, "/api/v1/nodes/"+result.OrgNodeID+"/config", result.RawToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("EffectiveConfigInheritsFromOrg", func(t *testing.T) {
		orgConfig := map[string]interface{}{
			"region":    "us-east-1",
			"retention": map[string]interface{}{"days": 30},
		}
		rec := cp.do(t, http.MethodPut, "/api/v1/nodes/"+result.OrgNodeID+"/config", cp.rawAdmin, orgConfig)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = cp.do(t, http.MethodGet, "/api/v1/nodes/"+result.TeamNodeID+"/config/effective", result.RawToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var effective nodeconfig.EffectiveConfig
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&effective))
		assert.Equal(t, "us-east-1", effective.Payload["region"], "org value should be inherited")
		limits, ok := effective.Payload["limits"].(map[string]interface{})
		require.True(t, ok)
		assert.EqualValues(t, 100, limits["rps"], "team fragment should survive the merge")
		assert.NotEmpty(t, effective.Fingerprint)
	})

	t.Run("AuditTrailPersisted", func(t *testing.T) {
		rec := cp.do(t, http.MethodGet, "/api/v1/nodes/"+result.TeamNodeID+"/audit", cp.rawAdmin, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var payload struct {
			Entries []*audit.Entry `json:"entries"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))

		actions := make(map[audit.Action]int)
		for _, entry := range payload.Entries {
			actions[entry.Action]++
		}
		assert.GreaterOrEqual(t, actions[audit.ActionNodeCreated], 1)
		assert.GreaterOrEqual(t, actions[audit.ActionConfigUpdate], 1)
		assert.GreaterOrEqual(t, actions[audit.ActionTokenIssued], 1)
	})
}

// TestTokenRevocationPersists revokes a token and verifies the revocation
// survives a fresh store on the same database.
func TestTokenRevocationPersists(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cp := setupControlPlane(t)
	ctx := context.Background()

	rec := cp.do(t, http.MethodPost, "/api/v1/provision", cp.rawAdmin, map[string]interface{}{
		"idempotency_key": "int-revoke-1",
		"org_name":        "initech",
		"team_name":       "platform",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result provisioning.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))

	rec = cp.do(t, http.MethodDelete, "/api/v1/tokens/"+result.TokenID, cp.rawAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = cp.do(t, http.MethodGet, "/api/v1/nodes/"+result.TeamNodeID+"/config", result.RawToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "revoked token must stop authenticating")

	// A store built fresh on the same database sees the revocation
	freshLog, err := audit.NewPostgresLog(cp.db)
	require.NoError(t, err)
	freshStore, err := auth.NewPostgresStore(cp.db, freshLog)
	require.NoError(t, err)
	token, err := freshStore.GetByID(ctx, result.TokenID)
	require.NoError(t, err)
	require.NotNil(t, token.RevokedAt)
}

// TestStuckRunReclaim ages a pending run past the cutoff and verifies the
// janitor-side reclaim fails it so the key becomes retryable.
func TestStuckRunReclaim(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cp := setupControlPlane(t)
	ctx := context.Background()

	_, err := cp.db.ExecContext(ctx, `
		INSERT INTO provisioning_runs (idempotency_key, status, started_at)
		VALUES ($1, $2, NOW() - INTERVAL '1 hour')`,
		"int-stuck-1", provisioning.StatusPending)
	require.NoError(t, err)

	reclaimed, err := cp.runs.ReclaimStuck(ctx, time.Now().UTC().Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	run, err := cp.runs.Get(ctx, "int-stuck-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, provisioning.StatusFailed, run.Status)
}

// TestAuditSweep verifies retention deletion against real timestamps.
func TestAuditSweep(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cp := setupControlPlane(t)
	ctx := context.Background()

	// Two old entries, one recent
	for i, age := range []string{"100 days", "95 days", "1 day"} {
		_, err := cp.db.ExecContext(ctx, `
			INSERT INTO audit_log (node_id, actor, action, created_at)
			VALUES ($1, 'sweeper-test', $2, NOW() - $3::interval)`,
			"node-sweep", audit.ActionConfigUpdate, age)
		require.NoError(t, err, "seeding entry %d", i)
	}

	swept, err := cp.auditLog.Sweep(ctx, time.Now().UTC().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.EqualValues(t, 2, swept)

	remaining, err := cp.auditLog.Query(ctx, audit.Filter{NodeID: "node-sweep"})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
