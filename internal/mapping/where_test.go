package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/entitymap/internal/memstore"
	"github.com/mesh-intelligence/entitymap/pkg/types"
)

func TestFindWhere(t *testing.T) {
	m := newTestMapping(t, memstore.New())
	addFishGraph(t, m)
	for _, name := range []string{"Dory", "Bruce"} {
		_, err := m.Add(types.EntityType, types.Fields{"entity_class_name": "fish", "name": name})
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		t     types.ItemType
		expr  string
		names []string
	}{
		{"equality", types.EntityType, `name == "Dory"`, []string{"Dory"}},
		{"external field", types.EntityType, `entity_class_name == "fish" && name != "Nemo"`, []string{"Dory", "Bruce"}},
		{"string operator", types.EntityType, `name startsWith "N"`, []string{"Nemo"}},
		{"numeric default", types.EntityClassType, `display_order > 10`, []string{"fish"}},
		{"undefined name is nil", types.AlternativeType, `colour == nil`, []string{"Base"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := m.FindWhere(tt.t, tt.expr)
			require.NoError(t, err)
			var got []string
			for _, it := range items {
				name, _ := it.Get("name")
				got = append(got, name.(string))
			}
			assert.Equal(t, tt.names, got)
		})
	}
}

func TestFindWhereSkipsRemoved(t *testing.T) {
	m := newTestMapping(t, memstore.New())
	_, nemo, _, _ := addFishGraph(t, m)
	_, err := m.Remove(types.EntityType, nemo.ID())
	require.NoError(t, err)

	items, err := m.FindWhere(types.EntityType, `name == "Nemo"`)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFindWhereErrors(t *testing.T) {
	m := newTestMapping(t, memstore.New())

	for _, expr := range []string{"", "name ==", "name"} {
		t.Run(expr, func(t *testing.T) {
			_, err := m.FindWhere(types.AlternativeType, expr)
			assert.ErrorIs(t, err, types.ErrInvalidExpression)
		})
	}

	_, err := m.FindWhere(types.ItemType("nope"), "true")
	assert.ErrorIs(t, err, types.ErrUnknownItemType)
}
