package sqlite

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// createTable renders the CREATE TABLE statement of one item type. Every
// table has an integer id; all but commit carry the commit_id of their last
// write. Reference lists are stored as comma-separated ids without foreign
// keys.
func (d dialect) createTable(s *types.Schema) string {
	cols := []string{"id " + d.idColumn}
	if s.Type != types.CommitType {
		cols = append(cols, fmt.Sprintf("commit_id %s REFERENCES %s(id)", d.intType, quote(string(types.CommitType))))
	}
	for _, f := range s.Fields {
		cols = append(cols, d.column(f))
	}
	for _, key := range s.UniqueKeys {
		if s.Type == types.CommitType {
			break
		}
		quoted := make([]string, len(key))
		for i, k := range key {
			quoted[i] = quote(k)
		}
		cols = append(cols, "UNIQUE ("+strings.Join(quoted, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)", quote(string(s.Type)), strings.Join(cols, ",\n    "))
}

func (d dialect) column(f types.FieldSpec) string {
	var typ string
	switch f.Kind {
	case types.KindString, types.KindTime, types.KindRefList:
		typ = "TEXT"
	case types.KindInt, types.KindRef:
		typ = d.intType
	case types.KindBool:
		typ = d.boolType
	case types.KindBytes:
		typ = d.bytesType
	}
	col := quote(f.Name) + " " + typ
	if f.Required && f.Kind != types.KindBytes {
		col += " NOT NULL"
	}
	if f.Kind == types.KindRef {
		col += fmt.Sprintf(" REFERENCES %s(id)", quote(string(f.RefType)))
	}
	return col
}

// indexes returns one index per reference column, for the scoped fetches
// and the cascade lookups that filter on them.
func (d dialect) indexes(s *types.Schema) []string {
	var out []string
	for _, f := range s.Fields {
		if f.Kind != types.KindRef {
			continue
		}
		name := fmt.Sprintf("idx_%s_%s", s.Type, f.Name)
		out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)", quote(name), quote(string(s.Type)), quote(f.Name)))
	}
	return out
}

// ddl lists every statement that creates the schema, tables in dependency
// order.
func (d dialect) ddl() ([]string, error) {
	order, err := types.DependencyOrder(types.Schemas())
	if err != nil {
		return nil, err
	}
	var stmts []string
	for _, t := range order {
		s := types.MustSchema(t)
		stmts = append(stmts, d.createTable(s))
		stmts = append(stmts, d.indexes(s)...)
	}
	return stmts, nil
}
