package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gantry/pkg/audit"
	"github.com/platinummonkey/gantry/pkg/orgtree"
)

func TestGetNode(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/nodes/"+f.teamID, f.rawAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var node orgtree.Node
	decodeBody(t, rec, &node)
	assert.Equal(t, f.teamID, node.ID)
	assert.Equal(t, orgtree.KindTeam, node.Kind)
	assert.True(t, node.Active)
}

func TestGetNodeUnknown(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/nodes/no-such-node", f.rawAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetNodeScopeEnforced(t *testing.T) {
	f := newAPIFixture(t)

	// A team token reads its own node but not its parent org
	rec := f.do(t, http.MethodGet, "/api/v1/nodes/"+f.teamID, f.rawTeam, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/nodes/"+f.orgID, f.rawTeam, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetLineage(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/nodes/"+f.teamID+"/lineage", f.rawAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Lineage []*orgtree.Node `json:"lineage"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Lineage, 2)
	assert.Equal(t, f.orgID, body.Lineage[0].ID)
	assert.Equal(t, f.teamID, body.Lineage[1].ID)
}

func TestListChildrenAndDescendants(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()

	unit, err := f.tree.CreateNode(ctx, &f.orgID, orgtree.KindBusinessUnit, "engineering")
	require.NoError(t, err)
	_, err = f.tree.CreateNode(ctx, &unit.ID, orgtree.KindTeam, "infra")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/v1/nodes/"+f.orgID+"/children", f.rawAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var children struct {
		Children []*orgtree.Node `json:"children"`
	}
	decodeBody(t, rec, &children)
	assert.Len(t, children.Children, 2) // checkout team + engineering dept

	rec = f.do(t, http.MethodGet, "/api/v1/nodes/"+f.orgID+"/descendants", f.rawAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var descendants struct {
		Descendants []*orgtree.Node `json:"descendants"`
	}
	decodeBody(t, rec, &descendants)
	assert.Len(t, descendants.Descendants, 3) // checkout, engineering, infra
}

func TestDeactivateNode(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/nodes/"+f.teamID+"/deactivate", f.rawAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var node orgtree.Node
	decodeBody(t, rec, &node)
	assert.False(t, node.Active)
	assert.NotNil(t, node.DeactivatedAt)

	entries, err := f.log.Query(context.Background(), audit.Filter{
		NodeID: f.teamID,
		Action: audit.ActionNodeDeactivated,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "checkout", entries[0].Metadata["name"])
}

func TestDeactivateRequiresPermission(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/nodes/"+f.teamID+"/deactivate", f.rawTeam, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The node is untouched
	node, err := f.tree.GetNode(context.Background(), f.teamID)
	require.NoError(t, err)
	assert.True(t, node.Active)
}
