package mapping

import "github.com/mesh-intelligence/entitymap/pkg/types"

// referrerIndex maps each item type to the types that reference it,
// itself included when it is self-referencing.
func referrerIndex(schemas []*types.Schema) map[types.ItemType][]types.ItemType {
	out := make(map[types.ItemType][]types.ItemType)
	for _, s := range schemas {
		seen := map[types.ItemType]bool{}
		for _, f := range s.References() {
			if seen[f.RefType] {
				continue
			}
			seen[f.RefType] = true
			out[f.RefType] = append(out[f.RefType], s.Type)
		}
	}
	return out
}

// referrerClosure returns every type whose items can be removed by a
// cascade starting in one of roots, in dependency order.
func (m *Mapping) referrerClosure(roots map[types.ItemType]bool) []types.ItemType {
	reach := make(map[types.ItemType]bool)
	queue := make([]types.ItemType, 0, len(roots))
	for t := range roots {
		queue = append(queue, t)
	}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		for _, r := range m.referrers[t] {
			if !reach[r] {
				reach[r] = true
				queue = append(queue, r)
			}
		}
	}
	var out []types.ItemType
	for _, t := range m.order {
		if reach[t] {
			out = append(out, t)
		}
	}
	return out
}
