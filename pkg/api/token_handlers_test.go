package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gantry/pkg/auth"
)

func TestIssueToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tokens", f.rawAdmin, map[string]interface{}{
		"kind":        "org_admin",
		"org_id":      f.orgID,
		"permissions": []string{"config:read", "config:write", "admin:provision"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Token    string      `json:"token"`
		Metadata *auth.Token `json:"metadata"`
	}
	decodeBody(t, rec, &resp)
	assert.True(t, strings.HasPrefix(resp.Token, "gantry_"))
	assert.Equal(t, auth.KindOrgAdmin, resp.Metadata.Kind)
	assert.Equal(t, f.orgID, resp.Metadata.OrgID)

	// The minted token authenticates immediately
	rec = f.do(t, http.MethodGet, "/api/v1/nodes/"+f.orgID, resp.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIssueTokenInvalidScope(t *testing.T) {
	f := newAPIFixture(t)

	// Global admin tokens carry no org
	rec := f.do(t, http.MethodPost, "/api/v1/tokens", f.rawAdmin, map[string]interface{}{
		"kind":   "global_admin",
		"org_id": f.orgID,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestIssueTokenDeniedForTeamTokens(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tokens", f.rawTeam, map[string]interface{}{
		"kind":        "team",
		"org_id":      f.orgID,
		"team_id":     f.teamID,
		"permissions": []string{"config:read"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetTokenMetadata(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tokens", f.rawAdmin, map[string]interface{}{
		"kind":        "team",
		"org_id":      f.orgID,
		"team_id":     f.teamID,
		"permissions": []string{"config:read"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued struct {
		Metadata *auth.Token `json:"metadata"`
	}
	decodeBody(t, rec, &issued)

	rec = f.do(t, http.MethodGet, "/api/v1/tokens/"+issued.Metadata.ID, f.rawAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var token auth.Token
	decodeBody(t, rec, &token)
	assert.Equal(t, issued.Metadata.ID, token.ID)
	assert.NotEmpty(t, token.Prefix)
	// The secret never leaves the service
	assert.NotContains(t, rec.Body.String(), "hash")
	assert.NotContains(t, rec.Body.String(), "salt")
}

func TestGetTokenUnknown(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/tokens/no-such-token", f.rawAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRevokeToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/tokens", f.rawAdmin, map[string]interface{}{
		"kind":        "team",
		"org_id":      f.orgID,
		"team_id":     f.teamID,
		"permissions": []string{"config:read"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var issued struct {
		Token    string      `json:"token"`
		Metadata *auth.Token `json:"metadata"`
	}
	decodeBody(t, rec, &issued)

	rec = f.do(t, http.MethodDelete, "/api/v1/tokens/"+issued.Metadata.ID, f.rawAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var revoked auth.Token
	decodeBody(t, rec, &revoked)
	assert.NotNil(t, revoked.RevokedAt)

	// Revocation cuts off the raw credential immediately
	rec = f.do(t, http.MethodGet, "/api/v1/nodes/"+f.teamID, issued.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListTokensForNode(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/nodes/"+f.teamID+"/tokens", f.rawAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tokens []*auth.Token `json:"tokens"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Tokens, 1) // the fixture's team token
	assert.Equal(t, f.teamID, body.Tokens[0].TeamID)
}
