package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/entitymap/internal/memstore"
	"github.com/mesh-intelligence/entitymap/pkg/types"
)

func TestCommitNothingToCommit(t *testing.T) {
	store := &countingStore{Store: memstore.New()}
	m := newTestMapping(t, store)

	_, err := m.Commit("empty")
	require.ErrorIs(t, err, types.ErrNothingToCommit)
	assert.Zero(t, store.calls(), "a clean mapping must not contact the store")
}

func TestCommitRequiresMessage(t *testing.T) {
	store := &countingStore{Store: memstore.New()}
	m := newTestMapping(t, store)
	_, err := m.Add(types.ScenarioType, types.Fields{"name": "s"})
	require.NoError(t, err)
	before := store.calls()

	_, err = m.Commit("  ")
	require.ErrorIs(t, err, types.ErrIntegrity)
	assert.Equal(t, before, store.calls())
	assert.True(t, m.Dirty())
}

func TestCommitPersistenceRoundTrip(t *testing.T) {
	store := memstore.New()
	m := newTestMapping(t, store)
	class, nemo, def, value := addFishGraph(t, m)

	commitID, err := m.Commit("add fish")
	require.NoError(t, err)
	assert.Equal(t, int64(2), commitID)
	assert.False(t, m.Dirty())

	for _, it := range []types.Item{class, nemo, def, value} {
		assert.True(t, it.ID().Persistent(), "%s bound", it.Type())
		assert.Equal(t, types.StatusUnchanged, it.Status())
		assert.Equal(t, commitID, it.CommitID())
	}
	ref, _ := value.Get("entity_id")
	assert.Equal(t, nemo.ID().Value(), ref.(types.ID).Value())

	fresh := newTestMapping(t, store)
	values, err := fresh.Find(types.ParameterValueType, nil)
	require.NoError(t, err)
	require.Len(t, values, 1)
	got := values[0].Fields()
	assert.Equal(t, value.ID().Value(), got["id"])
	assert.Equal(t, nemo.ID().Value(), got["entity_id"])
	assert.Equal(t, def.ID().Value(), got["parameter_definition_id"])
	assert.Equal(t, class.ID().Value(), got["entity_class_id"])
	assert.Equal(t, int64(types.BaseAlternativeID), got["alternative_id"])
	assert.Equal(t, []byte(`"orange"`), got["value"])
	assert.Equal(t, "Nemo", got["entity_name"])
	assert.Equal(t, commitID, got["commit_id"])

	commits, err := fresh.Find(types.CommitType, types.Fields{"comment": "add fish"})
	require.NoError(t, err)
	require.Len(t, commits, 1)
	user, _ := commits[0].Get("user")
	assert.Equal(t, "tester", user)
}

// TestNemoRemoveRestore follows a value through commit, cascade removal and
// restore of its entity.
func TestNemoRemoveRestore(t *testing.T) {
	m := newTestMapping(t, memstore.New())
	addFishGraph(t, m)
	_, err := m.Commit("add fish")
	require.NoError(t, err)

	nemoKey := types.Key{"entity_class_name": "fish", "name": "Nemo"}
	byColor := types.Fields{"parameter_definition_name": "color", "entity_name": "Nemo"}

	_, err = m.Remove(types.EntityType, nemoKey)
	require.NoError(t, err)
	values, err := m.Find(types.ParameterValueType, byColor)
	require.NoError(t, err)
	assert.Empty(t, values)

	_, err = m.Restore(types.EntityType, nemoKey)
	require.NoError(t, err)
	values, err = m.Find(types.ParameterValueType, byColor)
	require.NoError(t, err)
	require.Len(t, values, 1)
	v, _ := values[0].Get("value")
	assert.Equal(t, []byte(`"orange"`), v)
	assert.False(t, m.Dirty(), "restoring committed items leaves nothing to commit")
}

func TestCommitRemovesUnfetchedDependents(t *testing.T) {
	store := memstore.New()
	writer := newTestMapping(t, store)
	addFishGraph(t, writer)
	_, err := writer.Commit("add fish")
	require.NoError(t, err)

	m := newTestMapping(t, store)
	removed, err := m.Remove(types.EntityClassType, types.Key{"name": "fish"})
	require.NoError(t, err)
	require.Len(t, removed, 4, "dependents are fetched before the cascade")
	var removedTypes []types.ItemType
	for _, it := range removed {
		removedTypes = append(removedTypes, it.Type())
	}
	assert.Equal(t, types.EntityClassType, removedTypes[0])
	assert.ElementsMatch(t, []types.ItemType{
		types.EntityClassType, types.EntityType, types.ParameterDefinitionType, types.ParameterValueType,
	}, removedTypes)
	_, err = m.Commit("drop fish")
	require.NoError(t, err)

	for _, tt := range []types.ItemType{types.EntityClassType, types.EntityType, types.ParameterDefinitionType, types.ParameterValueType} {
		rows, err := store.Fetch(tt, nil)
		require.NoError(t, err)
		assert.Empty(t, rows, "%s rows left behind", tt)
	}
}

func TestRollback(t *testing.T) {
	m := newTestMapping(t, memstore.New())
	scen, err := m.Add(types.ScenarioType, types.Fields{"name": "keep"})
	require.NoError(t, err)
	_, err = m.Commit("scenario")
	require.NoError(t, err)

	base, err := m.Get(types.AlternativeType, types.Key{"name": types.BaseAlternativeName})
	require.NoError(t, err)
	original, _ := base.Get("description")

	low, err := m.Add(types.AlternativeType, types.Fields{"name": "low"})
	require.NoError(t, err)
	_, err = m.Update(types.AlternativeType, base.ID(), types.Fields{"description": "edited"})
	require.NoError(t, err)
	_, err = m.Remove(types.ScenarioType, scen.ID())
	require.NoError(t, err)

	require.NoError(t, m.Rollback())
	assert.False(t, m.Dirty())

	_, err = m.Get(types.AlternativeType, low.ID())
	assert.ErrorIs(t, err, types.ErrUnresolvedReference)
	_, err = m.Get(types.AlternativeType, types.Key{"name": "low"})
	assert.ErrorIs(t, err, types.ErrUnresolvedReference)

	desc, _ := base.Get("description")
	assert.Equal(t, original, desc)
	assert.Equal(t, types.StatusUnchanged, base.Status())

	got, err := m.Get(types.ScenarioType, types.Key{"name": "keep"})
	require.NoError(t, err)
	assert.True(t, got.Valid())

	assert.ErrorIs(t, m.Rollback(), types.ErrNothingToRollback)
}

func TestCommitStaleUpdateConflict(t *testing.T) {
	store := memstore.New()
	a := newTestMapping(t, store)
	b := newTestMapping(t, store)

	_, err := a.Get(types.AlternativeType, types.RawID(types.BaseAlternativeID))
	require.NoError(t, err)
	_, err = b.Get(types.AlternativeType, types.RawID(types.BaseAlternativeID))
	require.NoError(t, err)

	_, err = a.Update(types.AlternativeType, types.RawID(types.BaseAlternativeID), types.Fields{"description": "from a"})
	require.NoError(t, err)
	_, err = a.Commit("a edits base")
	require.NoError(t, err)

	external, err := b.HasExternalCommits()
	require.NoError(t, err)
	assert.True(t, external)

	_, err = b.Update(types.AlternativeType, types.RawID(types.BaseAlternativeID), types.Fields{"description": "from b"})
	require.NoError(t, err)
	counter, err := store.ChangeCounter()
	require.NoError(t, err)

	_, err = b.Commit("b edits base")
	require.ErrorIs(t, err, types.ErrConflict)
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, types.AlternativeType, conflict.Conflicts[0].Type)
	assert.Equal(t, int64(types.BaseAlternativeID), conflict.Conflicts[0].ID)
	assert.Equal(t, "from a", conflict.Conflicts[0].Remote["description"])

	after, err := store.ChangeCounter()
	require.NoError(t, err)
	assert.Equal(t, counter, after, "conflicting commit must not write")
	rows, err := store.Fetch(types.AlternativeType, types.Filter{"id": int64(types.BaseAlternativeID)})
	require.NoError(t, err)
	assert.Equal(t, "from a", rows[0]["description"])
	assert.True(t, b.Dirty())
}

// TestCommitKeepsReconcilingAfterStaleCommit commits an unrelated change on
// top of another writer's commit, then edits the row that writer changed.
func TestCommitKeepsReconcilingAfterStaleCommit(t *testing.T) {
	store := memstore.New()
	a := newTestMapping(t, store)
	b := newTestMapping(t, store)
	base := types.RawID(types.BaseAlternativeID)

	_, err := a.Get(types.AlternativeType, base)
	require.NoError(t, err)
	_, err = b.Get(types.AlternativeType, base)
	require.NoError(t, err)

	_, err = a.Update(types.AlternativeType, base, types.Fields{"description": "from a"})
	require.NoError(t, err)
	_, err = a.Commit("a edits base")
	require.NoError(t, err)

	_, err = b.Add(types.ScenarioType, types.Fields{"name": "future"})
	require.NoError(t, err)
	_, err = b.Commit("b adds scenario")
	require.NoError(t, err)

	external, err := b.HasExternalCommits()
	require.NoError(t, err)
	assert.True(t, external, "a's commit is still not in b's view")

	_, err = b.Update(types.AlternativeType, base, types.Fields{"description": "from b"})
	require.NoError(t, err)
	_, err = b.Commit("b edits base")
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, "changed by another commit", conflict.Conflicts[0].Reason)

	rows, err := store.Fetch(types.AlternativeType, types.Filter{"id": int64(types.BaseAlternativeID)})
	require.NoError(t, err)
	assert.Equal(t, "from a", rows[0]["description"])

	require.NoError(t, b.Reset())
	_, err = b.Update(types.AlternativeType, base, types.Fields{"description": "from b"})
	require.NoError(t, err)
	_, err = b.Commit("b edits base again")
	require.NoError(t, err, "a fresh view sees a's commit")
}

// TestCommitCascadeOverNewerRow removes a class after another writer added
// an entity to it.
func TestCommitCascadeOverNewerRow(t *testing.T) {
	store := memstore.New()
	seed := newTestMapping(t, store)
	_, err := seed.Add(types.EntityClassType, types.Fields{"name": "fish"})
	require.NoError(t, err)
	_, err = seed.Commit("add fish")
	require.NoError(t, err)

	a := newTestMapping(t, store)
	_, err = a.Get(types.EntityClassType, types.Key{"name": "fish"})
	require.NoError(t, err)

	b := newTestMapping(t, store)
	_, err = b.Add(types.EntityType, types.Fields{"entity_class_name": "fish", "name": "Nemo"})
	require.NoError(t, err)
	_, err = b.Commit("add Nemo")
	require.NoError(t, err)

	removed, err := a.Remove(types.EntityClassType, types.Key{"name": "fish"})
	require.NoError(t, err)
	require.Len(t, removed, 2)

	_, err = a.Commit("drop fish")
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, types.EntityType, conflict.Conflicts[0].Type)

	rows, err := store.Fetch(types.EntityType, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "Nemo survives")
}

// TestCommitStaleReferenceConflict renames class fish to trout in one view
// while another view, still holding fish, edits an entity of that class.
func TestCommitStaleReferenceConflict(t *testing.T) {
	store := memstore.New()
	seed := newTestMapping(t, store)
	addFishGraph(t, seed)
	_, err := seed.Commit("add fish")
	require.NoError(t, err)

	a := newTestMapping(t, store)
	b := newTestMapping(t, store)
	nemoKey := types.Key{"entity_class_name": "fish", "name": "Nemo"}
	_, err = b.Get(types.EntityType, nemoKey)
	require.NoError(t, err)

	_, err = a.Update(types.EntityClassType, types.Key{"name": "fish"}, types.Fields{"name": "trout"})
	require.NoError(t, err)
	_, err = a.Commit("rename fish")
	require.NoError(t, err)

	_, err = b.Update(types.EntityType, nemoKey, types.Fields{"description": "clownfish"})
	require.NoError(t, err)
	_, err = b.Commit("describe nemo")

	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Conflicts, 1)
	c := conflict.Conflicts[0]
	assert.Equal(t, types.EntityClassType, c.Type)
	assert.Equal(t, map[string]any{"name": "fish"}, c.Key)
	assert.Equal(t, "fish", c.Local["name"])
	assert.Equal(t, "trout", c.Remote["name"])
	assert.Contains(t, err.Error(), "name=fish")
}

func TestCommitUniqueKeyTakenUpstream(t *testing.T) {
	store := memstore.New()
	a := newTestMapping(t, store)
	b := newTestMapping(t, store)

	_, err := b.Add(types.AlternativeType, types.Fields{"name": "peak"})
	require.NoError(t, err)
	_, err = a.Add(types.AlternativeType, types.Fields{"name": "peak"})
	require.NoError(t, err)
	_, err = a.Commit("a adds peak")
	require.NoError(t, err)

	_, err = b.Commit("b adds peak")
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Conflicts, 1)
	assert.Equal(t, "unique key taken by another commit", conflict.Conflicts[0].Reason)
}

// racingStore lets another writer commit between the mapping's counter
// check and its persist call.
type racingStore struct {
	types.Store
	raced bool
}

func (r *racingStore) Persist(req types.PersistRequest) (types.PersistResult, error) {
	if !r.raced {
		r.raced = true
		if _, err := r.Store.Persist(types.PersistRequest{
			Commit:        types.CommitRecord{Comment: "racer", Date: req.Commit.Date.Add(-1)},
			ExpectCounter: req.ExpectCounter,
			Ops: []types.Operation{
				{Kind: types.OpAdd, Type: types.ScenarioType, ID: -1, Row: types.Row{"name": "racer"}},
			},
		}); err != nil {
			return types.PersistResult{}, err
		}
	}
	return r.Store.Persist(req)
}

func TestCommitLosesRace(t *testing.T) {
	store := &racingStore{Store: memstore.New()}
	m := newTestMapping(t, store)
	_, err := m.Add(types.ScenarioType, types.Fields{"name": "mine"})
	require.NoError(t, err)

	_, err = m.Commit("mine")
	require.ErrorIs(t, err, types.ErrConflict)
	require.ErrorIs(t, err, types.ErrStaleCounter)
	assert.True(t, m.Dirty())

	_, err = m.Commit("mine again")
	require.NoError(t, err, "the second attempt reconciles and succeeds")
}
