package mapping

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// link records it as a dependent of every item its record references.
func (m *Mapping) link(it *mappedItem) {
	for _, f := range it.tbl.schema.References() {
		for _, id := range refsOf(it.rec, f) {
			deps, ok := m.dependents[id]
			if !ok {
				deps = make(map[*mappedItem]struct{})
				m.dependents[id] = deps
			}
			deps[it] = struct{}{}
		}
	}
}

// unlink undoes link for the current record of it.
func (m *Mapping) unlink(it *mappedItem) {
	for _, f := range it.tbl.schema.References() {
		for _, id := range refsOf(it.rec, f) {
			if deps, ok := m.dependents[id]; ok {
				delete(deps, it)
				if len(deps) == 0 {
					delete(m.dependents, id)
				}
			}
		}
	}
}

// dependentsOf returns the cached items referencing it, in dependency order
// of their types and insertion order within a type.
func (m *Mapping) dependentsOf(it *mappedItem) []*mappedItem {
	deps := m.dependents[it.id]
	out := make([]*mappedItem, 0, len(deps))
	for d := range deps {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := m.rank[out[i].Type()], m.rank[out[j].Type()]
		if ri != rj {
			return ri < rj
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// referents returns the items referenced by it.
func (m *Mapping) referents(it *mappedItem) []*mappedItem {
	var out []*mappedItem
	for _, f := range it.tbl.schema.References() {
		for _, id := range refsOf(it.rec, f) {
			if target := m.itemByID(id); target != nil {
				out = append(out, target)
			}
		}
	}
	return out
}

// cascadeRemove invalidates it and, depth-first, its valid dependents.
// source is the item whose removal caused this one.
func (m *Mapping) cascadeRemove(it, source *mappedItem, out *[]*mappedItem) {
	if !it.valid {
		return
	}
	it.valid = false
	it.statusBeforeRemoval = it.status
	it.status = types.StatusRemoved
	it.removedBy = source
	*out = append(*out, it)
	for _, dep := range m.dependentsOf(it) {
		m.cascadeRemove(dep, it, out)
	}
}

// blockers returns the referents of it that are invalid and not about to be
// restored.
func (m *Mapping) blockers(it *mappedItem, planned map[*mappedItem]bool) []*mappedItem {
	var out []*mappedItem
	for _, f := range it.tbl.schema.References() {
		for _, id := range refsOf(it.rec, f) {
			target := m.itemByID(id)
			if target == nil || (!target.valid && !planned[target]) {
				out = append(out, target)
			}
		}
	}
	return out
}

// restore plans the restoration of target and the dependents its removal
// took down, checks it, then applies it. A dependent that still has another
// invalid referent stays removed and is re-attributed to that referent.
func (m *Mapping) restore(target *mappedItem) ([]*mappedItem, error) {
	if target.valid {
		return nil, nil
	}
	if blocked := m.blockers(target, nil); len(blocked) > 0 {
		names := make([]string, len(blocked))
		for i, b := range blocked {
			if b == nil {
				names[i] = "missing item"
				continue
			}
			names[i] = fmt.Sprintf("%s %v", b.Type(), b.displayName())
		}
		return nil, &types.RestoreBlockedError{Type: target.Type(), ID: target.id.Value(), BlockedBy: names}
	}

	plan := []*mappedItem{target}
	planned := map[*mappedItem]bool{target: true}
	reassign := map[*mappedItem]*mappedItem{}
	var walk func(it *mappedItem)
	walk = func(it *mappedItem) {
		for _, dep := range m.dependentsOf(it) {
			source := dep.removedBy
			if by, ok := reassign[dep]; ok {
				source = by
			}
			if dep.valid || planned[dep] || source != it {
				continue
			}
			if blocked := m.blockers(dep, planned); len(blocked) > 0 && blocked[0] != nil {
				reassign[dep] = blocked[0]
				continue
			}
			delete(reassign, dep)
			planned[dep] = true
			plan = append(plan, dep)
			walk(dep)
		}
	}
	walk(target)

	claimed := map[string]*mappedItem{}
	for _, it := range plan {
		if holder, k := it.tbl.collision(it.rec, it); holder != nil {
			return nil, &types.IntegrityError{
				Type:   it.Type(),
				Reason: fmt.Sprintf("cannot restore %d: unique key (%s) taken by %d", it.id.Value(), strings.Join(it.tbl.schema.UniqueKeys[k], ", "), holder.id.Value()),
			}
		}
		for k := range it.tbl.schema.UniqueKeys {
			enc, ok := it.tbl.keyOf(it.rec, k)
			if !ok {
				continue
			}
			slot := fmt.Sprintf("%s/%d/%s", it.Type(), k, enc)
			if other, taken := claimed[slot]; taken {
				return nil, &types.IntegrityError{
					Type:   it.Type(),
					Reason: fmt.Sprintf("cannot restore %d and %d together: same unique key", other.id.Value(), it.id.Value()),
				}
			}
			claimed[slot] = it
		}
	}

	for _, it := range plan {
		it.valid = true
		it.status = it.statusBeforeRemoval
		it.removedBy = nil
		it.tbl.index(it)
	}
	for dep, by := range reassign {
		dep.removedBy = by
	}
	m.logger.Debug("item restored", "type", target.Type(), "id", target.id.Value(), "cascade", len(plan)-1)
	return plan, nil
}
