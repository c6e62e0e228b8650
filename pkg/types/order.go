package types

import (
	"fmt"
	"strings"
)

// DependencyOrder sorts item types so that every type follows the types it
// references. Ties keep declaration order. Self references are ignored.
func DependencyOrder(schemas []*Schema) ([]ItemType, error) {
	declared := make(map[ItemType]int, len(schemas))
	for i, s := range schemas {
		declared[s.Type] = i
	}

	indegree := make(map[ItemType]int, len(schemas))
	next := make(map[ItemType][]ItemType)
	for _, s := range schemas {
		for _, dep := range s.DependsOn() {
			if _, ok := declared[dep]; !ok {
				return nil, fmt.Errorf("%w: %s references undeclared %s", ErrUnknownItemType, s.Type, dep)
			}
			indegree[s.Type]++
			next[dep] = append(next[dep], s.Type)
		}
	}

	order := make([]ItemType, 0, len(schemas))
	done := make(map[ItemType]bool, len(schemas))
	for len(order) < len(schemas) {
		picked := false
		for _, s := range schemas {
			if done[s.Type] || indegree[s.Type] > 0 {
				continue
			}
			done[s.Type] = true
			order = append(order, s.Type)
			for _, n := range next[s.Type] {
				indegree[n]--
			}
			picked = true
			break
		}
		if !picked {
			var stuck []string
			for _, s := range schemas {
				if !done[s.Type] {
					stuck = append(stuck, string(s.Type))
				}
			}
			return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(stuck, ", "))
		}
	}
	return order, nil
}
