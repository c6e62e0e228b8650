package sqlite

import (
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// postgresDSN returns the test database, skipping when none is configured.
// mage test:postgres provides one.
func postgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("ENTITYMAP_TEST_POSTGRES_DSN")
	if dsn == "" || testing.Short() {
		t.Skip("ENTITYMAP_TEST_POSTGRES_DSN not set")
	}
	db, err := sql.Open(postgresDialect.driver, dsn)
	require.NoError(t, err)
	defer db.Close()

	order, err := types.DependencyOrder(types.Schemas())
	require.NoError(t, err)
	for i := len(order) - 1; i >= 0; i-- {
		_, err := db.Exec("DROP TABLE IF EXISTS " + quote(string(order[i])) + " CASCADE")
		require.NoError(t, err)
	}
	return dsn
}

func TestPostgresStore(t *testing.T) {
	s := NewPostgres(postgresDSN(t), WithClock(fixedClock))
	t.Cleanup(func() { _ = s.Close() })

	counter, err := s.ChangeCounter()
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter)

	res, err := s.Persist(types.PersistRequest{Commit: commitRecord("add"), ExpectCounter: 1, Ops: []types.Operation{
		{Kind: types.OpAdd, Type: types.EntityClassType, ID: -1, Row: types.Row{"name": "fish", "hidden": true}},
		{Kind: types.OpAdd, Type: types.EntityType, ID: -2, Row: types.Row{"class_id": int64(-1), "name": "Nemo"}},
		{Kind: types.OpAdd, Type: types.AlternativeType, ID: -3, Row: types.Row{"name": "low"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.CommitID)
	assert.Greater(t, res.IDs[-3], int64(types.BaseAlternativeID), "sequence moved past the seeded Base")

	rows, err := s.Fetch(types.EntityClassType, types.Filter{"name": "fish"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0]["hidden"])

	_, err = s.Persist(types.PersistRequest{Commit: commitRecord("dup"), ExpectCounter: 2, Ops: []types.Operation{
		{Kind: types.OpAdd, Type: types.EntityType, ID: -1, Row: types.Row{"class_id": res.IDs[-1], "name": "Nemo"}},
	}})
	assert.ErrorIs(t, err, types.ErrUniqueViolate)

	_, err = s.Persist(types.PersistRequest{Commit: commitRecord("dangling"), ExpectCounter: 2, Ops: []types.Operation{
		{Kind: types.OpAdd, Type: types.EntityType, ID: -1, Row: types.Row{"class_id": int64(999), "name": "lost"}},
	}})
	assert.ErrorIs(t, err, types.ErrRowNotFound)

	_, err = s.Persist(types.PersistRequest{Commit: commitRecord("stale"), ExpectCounter: 1})
	assert.ErrorIs(t, err, types.ErrStaleCounter)

	counter, err = s.ChangeCounter()
	require.NoError(t, err)
	assert.Equal(t, int64(2), counter)
}
