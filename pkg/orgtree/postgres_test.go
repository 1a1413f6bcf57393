package orgtree

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS org_nodes").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewPostgresStore(db)
	require.NoError(t, err)

	return store, mock
}

func nodeRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "parent_id", "kind", "name", "lineage", "active", "created_at", "deactivated_at",
	})
}

func TestPostgresGetNode(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, parent_id, kind, name, lineage, active, created_at, deactivated_at FROM org_nodes WHERE id = $1`)).
		WithArgs("node-1").
		WillReturnRows(nodeRows().AddRow(
			"node-1", nil, "organization", "acme",
			"{node-1}", true, time.Now(), nil,
		))

	node, err := store.GetNode(context.Background(), "node-1")
	require.NoError(t, err)
	assert.Equal(t, "node-1", node.ID)
	assert.Equal(t, KindOrganization, node.Kind)
	assert.Equal(t, []string{"node-1"}, node.Lineage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNodeNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, parent_id, kind, name, lineage, active, created_at, deactivated_at FROM org_nodes WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(nodeRows())

	_, err := store.GetNode(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateNodeRoot(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO org_nodes (id, parent_id, kind, name, lineage, active)`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	node, err := store.CreateNode(context.Background(), nil, KindOrganization, "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{node.ID}, node.Lineage)
	assert.True(t, node.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateNodeUnderParent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs("org-1").
		WillReturnRows(nodeRows().AddRow(
			"org-1", nil, "organization", "acme",
			"{org-1}", true, time.Now(), nil,
		))
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO org_nodes`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	parentID := "org-1"
	node, err := store.CreateNode(context.Background(), &parentID, KindTeam, "checkout")
	require.NoError(t, err)
	require.Len(t, node.Lineage, 2)
	assert.Equal(t, "org-1", node.Lineage[0])
	assert.Equal(t, node.ID, node.Lineage[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateNodeKindViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`FOR UPDATE`)).
		WithArgs("team-1").
		WillReturnRows(nodeRows().AddRow(
			"team-1", "org-1", "team", "checkout",
			"{org-1,team-1}", true, time.Now(), nil,
		))
	mock.ExpectRollback()

	parentID := "team-1"
	_, err := store.CreateNode(context.Background(), &parentID, KindTeam, "nested")
	assert.ErrorIs(t, err, ErrInvalidHierarchy)
	assert.NoError(t, mock.ExpectationsWereMet())
}
