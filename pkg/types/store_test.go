package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRow(t *testing.T) {
	s := MustSchema(EntityType)
	row, err := NormalizeRow(s, Row{
		"id":              float64(4),
		"commit_id":       int64(2),
		"class_id":        int64(1),
		"name":            []byte("Nemo"),
		"element_id_list": "",
		"description":     nil,
		"stray":           true,
	})
	require.NoError(t, err)
	assert.Equal(t, Row{
		"id":              int64(4),
		"commit_id":       int64(2),
		"class_id":        int64(1),
		"name":            "Nemo",
		"element_id_list": []int64{},
		"description":     "",
	}, row)

	_, err = NormalizeRow(s, Row{"id": 1, "class_id": "one"})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestToRow_KeepsProvisionalIDs(t *testing.T) {
	class := NewProvisionalID(EntityClassType, -1)
	elem := NewPersistentID(EntityType, 9)
	row := ToRow(MustSchema(EntityType), &Entity{ClassID: class, Name: "n", ElementIDs: []ID{elem}})
	assert.Equal(t, int64(-1), row["class_id"])
	assert.Equal(t, []int64{9}, row["element_id_list"])

	require.NoError(t, class.Bind(3))
	assert.Equal(t, int64(3), ToRow(MustSchema(EntityType), &Entity{ClassID: class})["class_id"])
}

func TestValuesEqual(t *testing.T) {
	id := NewPersistentID(EntityType, 5)
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"id vs int", id, int64(5), true},
		{"int vs id", 5, id, true},
		{"id vs other int", id, 6, false},
		{"id list vs ints", []ID{id}, []int64{5}, true},
		{"id list vs json list", []ID{id}, []any{float64(5)}, true},
		{"empty bytes vs nil", []byte{}, nil, true},
		{"bytes vs string", []byte("x"), "x", true},
		{"strings vs any list", []string{"a", "b"}, []any{"a", "b"}, true},
		{"strings differ", []string{"a"}, []any{"b"}, false},
		{"float vs int", float64(3), int64(3), true},
		{"bool", true, false, false},
		{"empty string vs nil", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValuesEqual(tt.a, tt.b))
		})
	}
}

func TestSameFields_IgnoresIDColumns(t *testing.T) {
	s := MustSchema(AlternativeType)
	a := Row{"id": int64(1), "commit_id": int64(1), "name": "Base", "description": ""}
	b := Row{"id": int64(1), "commit_id": int64(7), "name": "Base", "description": ""}
	assert.True(t, SameFields(s, a, b))
	b["description"] = "changed"
	assert.False(t, SameFields(s, a, b))
}
