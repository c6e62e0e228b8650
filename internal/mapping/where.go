package mapping

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// FindWhere returns the valid items of t for which expression evaluates to
// true. The expression sees every own and external field by name, with
// references as integer ids, plus id and commit_id. Names that the type
// does not define evaluate to nil.
func (m *Mapping) FindWhere(t types.ItemType, expression string) ([]types.Item, error) {
	tbl, err := m.table(t)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(expression) == "" {
		return nil, fmt.Errorf("%w: expression must not be empty", types.ErrInvalidExpression)
	}
	program, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidExpression, err)
	}
	if err := m.fetchAll(tbl); err != nil {
		return nil, err
	}

	var out []types.Item
	for _, it := range tbl.valid() {
		result, err := expr.Run(program, whereEnv(it))
		if err != nil {
			return nil, fmt.Errorf("%w: %s %d: %v", types.ErrInvalidExpression, t, it.id.Value(), err)
		}
		ok, isBool := result.(bool)
		if !isBool {
			return nil, fmt.Errorf("%w: %q yields %T, not bool", types.ErrInvalidExpression, expression, result)
		}
		if ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func whereEnv(it *mappedItem) map[string]any {
	fields := it.Fields()
	env := make(map[string]any, len(fields))
	for k, v := range fields {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		env[k] = v
	}
	return env
}
