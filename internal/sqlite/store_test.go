package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/entitymap/internal/mapping"
	"github.com/mesh-intelligence/entitymap/pkg/types"
)

var testTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func fixedClock() time.Time { return testTime }

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	s := NewSQLite(filepath.Join(dir, DBFile), WithClock(fixedClock))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func commitRecord(msg string) types.CommitRecord {
	return types.CommitRecord{Comment: msg, Date: testTime, User: "tester"}
}

func TestOpenSeedsEmptyDatabase(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)

	counter, err := s.ChangeCounter()
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter)
	assert.FileExists(t, filepath.Join(dir, DBFile))

	alts, err := s.Fetch(types.AlternativeType, nil)
	require.NoError(t, err)
	require.Len(t, alts, 1)
	assert.Equal(t, int64(types.BaseAlternativeID), alts[0].ID())
	assert.Equal(t, types.BaseAlternativeName, alts[0]["name"])
	assert.Equal(t, int64(1), alts[0]["commit_id"])

	commits, err := s.Fetch(types.CommitType, nil)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, SeedComment, commits[0]["comment"])
	assert.Equal(t, SeedUser, commits[0]["user"])
	assert.True(t, testTime.Equal(commits[0]["date"].(time.Time)))
}

func TestReopenDoesNotReseed(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(t, dir)
	_, err := s.ChangeCounter()
	require.NoError(t, err)
	require.NoError(t, s.Close())

	again := newTestStore(t, dir)
	commits, err := again.Fetch(types.CommitType, nil)
	require.NoError(t, err)
	assert.Len(t, commits, 1)
}

func TestPersistBindsProvisionalReferences(t *testing.T) {
	s := newTestStore(t, t.TempDir())

	res, err := s.Persist(types.PersistRequest{
		Commit:        commitRecord("add classes"),
		ExpectCounter: 1,
		Ops: []types.Operation{
			{Kind: types.OpAdd, Type: types.EntityClassType, ID: -1, Row: types.Row{"name": "unit"}},
			{Kind: types.OpAdd, Type: types.EntityClassType, ID: -2, Row: types.Row{"name": "node"}},
			{Kind: types.OpAdd, Type: types.EntityClassType, ID: -3, Row: types.Row{
				"name": "unit__node", "dimension_id_list": []int64{-1, -2},
			}},
			{Kind: types.OpAdd, Type: types.EntityType, ID: -4, Row: types.Row{"class_id": int64(-1), "name": "u1"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.CommitID)
	assert.Equal(t, int64(2), res.Counter)
	require.Len(t, res.IDs, 4)

	rows, err := s.Fetch(types.EntityClassType, types.Filter{"name": "unit__node"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []int64{res.IDs[-1], res.IDs[-2]}, rows[0]["dimension_id_list"])

	entities, err := s.Fetch(types.EntityType, types.Filter{"class_id": res.IDs[-1]})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, res.CommitID, entities[0]["commit_id"])
}

func TestPersistUpdateAndRemove(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	res, err := s.Persist(types.PersistRequest{Commit: commitRecord("add"), ExpectCounter: 1, Ops: []types.Operation{
		{Kind: types.OpAdd, Type: types.ScenarioType, ID: -1, Row: types.Row{"name": "low"}},
		{Kind: types.OpAdd, Type: types.ScenarioType, ID: -2, Row: types.Row{"name": "high"}},
	}})
	require.NoError(t, err)
	low, high := res.IDs[-1], res.IDs[-2]

	res, err = s.Persist(types.PersistRequest{Commit: commitRecord("edit"), ExpectCounter: 2, Ops: []types.Operation{
		{Kind: types.OpRemove, Type: types.ScenarioType, ID: high},
		{Kind: types.OpUpdate, Type: types.ScenarioType, ID: low, Row: types.Row{"name": "lowest", "active": true}},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Counter)

	rows, err := s.Fetch(types.ScenarioType, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, low, rows[0].ID())
	assert.Equal(t, "lowest", rows[0]["name"])
	assert.Equal(t, true, rows[0]["active"])
	assert.Equal(t, int64(3), rows[0]["commit_id"])
}

func TestPersistFailures(t *testing.T) {
	tests := []struct {
		name    string
		req     types.PersistRequest
		wantErr error
	}{
		{
			name:    "stale counter",
			req:     types.PersistRequest{Commit: commitRecord("x"), ExpectCounter: 7},
			wantErr: types.ErrStaleCounter,
		},
		{
			name: "duplicate unique key",
			req: types.PersistRequest{Commit: commitRecord("x"), ExpectCounter: 1, Ops: []types.Operation{
				{Kind: types.OpAdd, Type: types.AlternativeType, ID: -1, Row: types.Row{"name": "Base"}},
			}},
			wantErr: types.ErrUniqueViolate,
		},
		{
			name: "remove missing row",
			req: types.PersistRequest{Commit: commitRecord("x"), ExpectCounter: 1, Ops: []types.Operation{
				{Kind: types.OpRemove, Type: types.ScenarioType, ID: 42},
			}},
			wantErr: types.ErrRowNotFound,
		},
		{
			name: "update missing row",
			req: types.PersistRequest{Commit: commitRecord("x"), ExpectCounter: 1, Ops: []types.Operation{
				{Kind: types.OpUpdate, Type: types.ScenarioType, ID: 42, Row: types.Row{"name": "gone"}},
			}},
			wantErr: types.ErrRowNotFound,
		},
		{
			name: "dangling reference",
			req: types.PersistRequest{Commit: commitRecord("x"), ExpectCounter: 1, Ops: []types.Operation{
				{Kind: types.OpAdd, Type: types.EntityType, ID: -1, Row: types.Row{"class_id": int64(999), "name": "lost"}},
			}},
			wantErr: types.ErrRowNotFound,
		},
		{
			name: "unbound provisional reference",
			req: types.PersistRequest{Commit: commitRecord("x"), ExpectCounter: 1, Ops: []types.Operation{
				{Kind: types.OpAdd, Type: types.EntityType, ID: -1, Row: types.Row{"class_id": int64(-9), "name": "lost"}},
			}},
			wantErr: types.ErrRowNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, t.TempDir())
			_, err := s.Persist(tt.req)
			require.ErrorIs(t, err, tt.wantErr)

			counter, err := s.ChangeCounter()
			require.NoError(t, err)
			assert.Equal(t, int64(1), counter, "failed commit leaves nothing behind")
			scenarios, err := s.Fetch(types.ScenarioType, nil)
			require.NoError(t, err)
			assert.Empty(t, scenarios)
		})
	}
}

func TestFetchFilters(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	res, err := s.Persist(types.PersistRequest{Commit: commitRecord("add"), ExpectCounter: 1, Ops: []types.Operation{
		{Kind: types.OpAdd, Type: types.AlternativeType, ID: -1, Row: types.Row{"name": "low"}},
		{Kind: types.OpAdd, Type: types.AlternativeType, ID: -2, Row: types.Row{"name": "high"}},
	}})
	require.NoError(t, err)

	rows, err := s.Fetch(types.AlternativeType, types.Filter{"id": []int64{res.IDs[-2], types.BaseAlternativeID}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(types.BaseAlternativeID), rows[0].ID(), "ordered by id")
	assert.Equal(t, "high", rows[1]["name"])

	rows, err = s.Fetch(types.AlternativeType, types.Filter{"id": []int64{}})
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = s.Fetch(types.AlternativeType, types.Filter{"nope": 1})
	assert.ErrorIs(t, err, types.ErrUnknownField)

	_, err = s.Fetch("nope", nil)
	assert.ErrorIs(t, err, types.ErrUnknownItemType)
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Fetch(types.AlternativeType, nil)
	assert.ErrorIs(t, err, types.ErrStoreClosed)
	_, err = s.ChangeCounter()
	assert.ErrorIs(t, err, types.ErrStoreClosed)
	_, err = s.Persist(types.PersistRequest{Commit: commitRecord("x"), ExpectCounter: 1})
	assert.ErrorIs(t, err, types.ErrStoreClosed)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(types.Config{Backend: types.BackendSQLite, DataDir: dir})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, filepath.Join(dir, DBFile), s.dsn)

	s, err = Open(types.Config{Backend: types.BackendPostgres, DSN: "postgres://localhost/entitymap"})
	require.NoError(t, err)
	assert.Equal(t, "pgx", s.dialect.driver)

	_, err = Open(types.Config{Backend: types.BackendMemory})
	assert.ErrorIs(t, err, types.ErrBackendUnknown)

	_, err = Open(types.Config{Backend: types.BackendPostgres})
	assert.ErrorIs(t, err, types.ErrDSNEmpty)
}

// TestMappingOverSQLite drives the cache against a database file and reads
// the result back through a second store on the same file.
func TestMappingOverSQLite(t *testing.T) {
	dir := t.TempDir()
	m, err := mapping.New(newTestStore(t, dir), mapping.WithUser("tester"))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Add(types.EntityClassType, types.Fields{"name": "fish"})
	require.NoError(t, err)
	nemo, err := m.Add(types.EntityType, types.Fields{"entity_class_name": "fish", "name": "Nemo"})
	require.NoError(t, err)
	_, err = m.Add(types.ParameterDefinitionType, types.Fields{"entity_class_name": "fish", "name": "color"})
	require.NoError(t, err)
	_, err = m.Add(types.ParameterValueType, types.Fields{
		"entity_class_name":         "fish",
		"parameter_definition_name": "color",
		"entity_name":               "Nemo",
		"alternative_name":          "Base",
		"value":                     []byte(`"orange"`),
		"type":                      "str",
	})
	require.NoError(t, err)

	commitID, err := m.Commit("add fish")
	require.NoError(t, err)
	assert.Equal(t, int64(2), commitID)
	assert.True(t, nemo.ID().Persistent())

	other, err := mapping.New(newTestStore(t, dir))
	require.NoError(t, err)
	defer other.Close()
	value, err := other.Get(types.ParameterValueType, types.Key{
		"parameter_definition_name": "color",
		"entity_name":               "Nemo",
		"alternative_name":          "Base",
	})
	require.NoError(t, err)
	fields := value.Fields()
	assert.Equal(t, []byte(`"orange"`), fields["value"])
	assert.Equal(t, nemo.ID().Value(), fields["entity_id"])
	assert.Equal(t, "fish", fields["entity_class_name"])

	_, err = other.Remove(types.EntityType, types.Key{"entity_class_name": "fish", "name": "Nemo"})
	require.NoError(t, err)
	_, err = other.Commit("drop Nemo")
	require.NoError(t, err)

	_, err = m.Update(types.EntityType, nemo.ID(), types.Fields{"description": "clownfish"})
	require.NoError(t, err)
	_, err = m.Commit("describe Nemo")
	require.ErrorIs(t, err, types.ErrConflict)
}

func TestDumpLoadRoundTrip(t *testing.T) {
	src := newTestStore(t, t.TempDir())
	res, err := src.Persist(types.PersistRequest{Commit: commitRecord("add"), ExpectCounter: 1, Ops: []types.Operation{
		{Kind: types.OpAdd, Type: types.EntityClassType, ID: -1, Row: types.Row{"name": "fish"}},
		{Kind: types.OpAdd, Type: types.EntityType, ID: -2, Row: types.Row{"class_id": int64(-1), "name": "Nemo"}},
		{Kind: types.OpAdd, Type: types.ParameterDefinitionType, ID: -3, Row: types.Row{
			"entity_class_id": int64(-1), "name": "color", "default_value": []byte{0, 1, 2},
		}},
		{Kind: types.OpAdd, Type: types.ParameterValueType, ID: -4, Row: types.Row{
			"entity_class_id": int64(-1), "parameter_definition_id": int64(-3), "entity_id": int64(-2),
			"alternative_id": int64(types.BaseAlternativeID), "value": []byte(`"orange"`), "type": "str",
		}},
	}})
	require.NoError(t, err)

	snap := t.TempDir()
	require.NoError(t, Dump(src, snap))
	for _, typ := range types.StandardItemTypes {
		assert.FileExists(t, filepath.Join(snap, FileName(typ)))
	}

	f, err := os.OpenFile(filepath.Join(snap, FileName(types.ScenarioType)), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	dst := newTestStore(t, t.TempDir())
	n, err := Load(dst, snap)
	require.NoError(t, err)
	assert.Equal(t, 5, n, "seed commit and Base alternative already present")

	for _, typ := range types.StandardItemTypes {
		want, err := src.Fetch(typ, nil)
		require.NoError(t, err)
		got, err := dst.Fetch(typ, nil)
		require.NoError(t, err)
		require.Len(t, got, len(want), "%s rows", typ)
		schema := types.MustSchema(typ)
		for i := range want {
			assert.Equal(t, want[i].ID(), got[i].ID())
			assert.True(t, types.SameFields(schema, want[i], got[i]), "%s %d", typ, want[i].ID())
		}
	}

	counter, err := dst.ChangeCounter()
	require.NoError(t, err)
	assert.Equal(t, res.Counter, counter)

	next, err := dst.Persist(types.PersistRequest{Commit: commitRecord("after load"), ExpectCounter: counter, Ops: []types.Operation{
		{Kind: types.OpAdd, Type: types.EntityType, ID: -1, Row: types.Row{"class_id": res.IDs[-1], "name": "Dory"}},
	}})
	require.NoError(t, err)
	assert.Greater(t, next.IDs[-1], res.IDs[-2])
}

func TestDDL(t *testing.T) {
	stmts, err := sqliteDialect.ddl()
	require.NoError(t, err)
	require.NotEmpty(t, stmts)
	assert.Contains(t, stmts[0], `CREATE TABLE IF NOT EXISTS "commit"`)

	pg := postgresDialect.createTable(types.MustSchema(types.ParameterValueType))
	assert.Contains(t, pg, "id BIGSERIAL PRIMARY KEY")
	assert.Contains(t, pg, `"value" BYTEA`)
	assert.Contains(t, pg, `UNIQUE ("parameter_definition_id", "entity_id", "alternative_id")`)

	assert.Equal(t, "SELECT $1, $2", postgresDialect.rebind("SELECT ?, ?"))
	assert.Equal(t, "SELECT ?, ?", sqliteDialect.rebind("SELECT ?, ?"))
	assert.Empty(t, sqliteDialect.resetSequence("entity"))
}
