package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyOrderStandard(t *testing.T) {
	order, err := DependencyOrder(Schemas())
	require.NoError(t, err)
	require.Len(t, order, len(StandardItemTypes))

	pos := make(map[ItemType]int, len(order))
	for i, typ := range order {
		pos[typ] = i
	}
	for _, s := range Schemas() {
		for _, dep := range s.DependsOn() {
			assert.Less(t, pos[dep], pos[s.Type], "%s must follow %s", s.Type, dep)
		}
	}
}

func TestDependencyOrderErrors(t *testing.T) {
	a := &Schema{Type: "a", Fields: []FieldSpec{{Name: "b_id", Kind: KindRef, RefType: "b"}}}
	b := &Schema{Type: "b", Fields: []FieldSpec{{Name: "a_id", Kind: KindRef, RefType: "a"}}}
	self := &Schema{Type: "self", Fields: []FieldSpec{{Name: "parent_id", Kind: KindRef, RefType: "self"}}}

	tests := []struct {
		name    string
		schemas []*Schema
		wantErr error
	}{
		{"cycle", []*Schema{a, b}, ErrDependencyCycle},
		{"undeclared referent", []*Schema{a}, ErrUnknownItemType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DependencyOrder(tt.schemas)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	order, err := DependencyOrder([]*Schema{self})
	require.NoError(t, err, "self references do not form a cycle")
	assert.Equal(t, []ItemType{"self"}, order)
}
