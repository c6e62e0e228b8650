package memstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

func commitRecord(msg string) types.CommitRecord {
	return types.CommitRecord{Comment: msg, Date: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), User: "tester"}
}

func TestNewSeedsBaseAlternative(t *testing.T) {
	s := New()

	counter, err := s.ChangeCounter()
	require.NoError(t, err)
	assert.Equal(t, int64(1), counter)

	rows, err := s.Fetch(types.AlternativeType, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(types.BaseAlternativeID), rows[0].ID())
	assert.Equal(t, types.BaseAlternativeName, rows[0]["name"])

	commits, err := s.Fetch(types.CommitType, nil)
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, SeedComment, commits[0]["comment"])
}

func TestPersistBindsProvisionalReferences(t *testing.T) {
	s := New()
	res, err := s.Persist(types.PersistRequest{
		Commit:        commitRecord("add fish"),
		ExpectCounter: 1,
		Ops: []types.Operation{
			{Kind: types.OpAdd, Type: types.EntityClassType, ID: -1, Row: types.Row{"name": "fish"}},
			{Kind: types.OpAdd, Type: types.EntityType, ID: -2, Row: types.Row{"class_id": int64(-1), "name": "Nemo"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.CommitID)
	assert.Equal(t, int64(2), res.Counter)
	require.Contains(t, res.IDs, int64(-1))
	require.Contains(t, res.IDs, int64(-2))

	rows, err := s.Fetch(types.EntityType, types.Filter{"name": "Nemo"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, res.IDs[-1], rows[0]["class_id"])
	assert.Equal(t, res.CommitID, rows[0]["commit_id"])
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
			name: "dangling reference",
			req: types.PersistRequest{Commit: commitRecord("x"), ExpectCounter: 1, Ops: []types.Operation{
				{Kind: types.OpAdd, Type: types.EntityType, ID: -1, Row: types.Row{"class_id": int64(99), "name": "orphan"}},
			}},
			wantErr: types.ErrRowNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			_, err := s.Persist(tt.req)
			require.ErrorIs(t, err, tt.wantErr)

			counter, err := s.ChangeCounter()
			require.NoError(t, err)
			assert.Equal(t, int64(1), counter, "failed commit must not advance the counter")
			commits, err := s.Fetch(types.CommitType, nil)
			require.NoError(t, err)
			assert.Len(t, commits, 1)
		})
	}
}

func TestFetchFilterWithIDList(t *testing.T) {
	s := New()
	_, err := s.Persist(types.PersistRequest{Commit: commitRecord("alts"), ExpectCounter: 1, Ops: []types.Operation{
		{Kind: types.OpAdd, Type: types.AlternativeType, ID: -1, Row: types.Row{"name": "low"}},
		{Kind: types.OpAdd, Type: types.AlternativeType, ID: -2, Row: types.Row{"name": "high"}},
	}})
	require.NoError(t, err)

	rows, err := s.Fetch(types.AlternativeType, types.Filter{"id": []int64{1, 3}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Base", rows[0]["name"])
	assert.Equal(t, "high", rows[1]["name"])
}

func TestFetchReturnsCopies(t *testing.T) {
	s := New()
	rows, err := s.Fetch(types.AlternativeType, nil)
	require.NoError(t, err)
	rows[0]["name"] = "mutated"

	again, err := s.Fetch(types.AlternativeType, nil)
	require.NoError(t, err)
	assert.Equal(t, "Base", again[0]["name"])
}

func TestClosedStore(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Fetch(types.AlternativeType, nil)
	assert.ErrorIs(t, err, types.ErrStoreClosed)
	_, err = s.ChangeCounter()
	assert.ErrorIs(t, err, types.ErrStoreClosed)
}
