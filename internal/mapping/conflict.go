package mapping

import (
	"fmt"
	"sort"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// conflictSet collects conflicts once per item, in discovery order.
type conflictSet struct {
	seen map[string]bool
	list []types.Conflict
}

func (c *conflictSet) add(it *mappedItem, remote types.Row, reason string) {
	k := fmt.Sprintf("%s/%d", it.Type(), it.id.Value())
	if c.seen[k] {
		return
	}
	c.seen[k] = true
	c.list = append(c.list, types.Conflict{
		Type:   it.Type(),
		ID:     it.id.Value(),
		Key:    it.displayKey(),
		Local:  it.row(),
		Remote: remote,
		Reason: reason,
	})
}

// reconcile compares the dirty set against the store's current rows. It is
// called only when the change counter moved past the baseline. The checks:
//   - an updated or removed item whose row was deleted or changed upstream;
//   - a cascaded removal of a row another writer committed after the
//     baseline;
//   - a stored referent of an added or updated item that was deleted or
//     changed upstream;
//   - a unique key of an added or updated item now held by another row.
func (m *Mapping) reconcile(d *dirtySet) ([]types.Conflict, error) {
	cs := &conflictSet{seen: make(map[string]bool)}

	touched := append(append([]*mappedItem(nil), d.updated...), d.removed...)
	if err := m.checkRows(cs, touched); err != nil {
		return nil, err
	}
	for _, it := range d.removed {
		if it.removedBy != nil && m.writtenElsewhere(it) {
			cs.add(it, it.baseline, "written by another commit since the view was loaded")
		}
	}

	writes := append(append([]*mappedItem(nil), d.updated...), d.added...)
	var referents []*mappedItem
	seen := map[*mappedItem]bool{}
	for _, it := range writes {
		for _, ref := range m.referents(it) {
			if seen[ref] || !ref.id.Persistent() || ref.pending() {
				continue
			}
			seen[ref] = true
			referents = append(referents, ref)
		}
	}
	sort.SliceStable(referents, func(i, j int) bool {
		ri, rj := m.rank[referents[i].Type()], m.rank[referents[j].Type()]
		if ri != rj {
			return ri < rj
		}
		return referents[i].seq < referents[j].seq
	})
	if err := m.checkRows(cs, referents); err != nil {
		return nil, err
	}

	for _, it := range writes {
		if err := m.checkKeys(cs, it); err != nil {
			return nil, err
		}
	}
	return cs.list, nil
}

// writtenElsewhere reports whether the stored row of it was last written by
// a commit of another writer after the baseline.
func (m *Mapping) writtenElsewhere(it *mappedItem) bool {
	return it.id.Persistent() && it.commitID > m.baseline && !m.ownCommits[it.commitID]
}

// checkRows reports items whose store row is gone or no longer matches the
// baseline.
func (m *Mapping) checkRows(cs *conflictSet, items []*mappedItem) error {
	byType := map[types.ItemType][]*mappedItem{}
	for _, it := range items {
		if it.baseline == nil || !it.id.Persistent() {
			continue
		}
		byType[it.Type()] = append(byType[it.Type()], it)
	}
	for _, t := range m.order {
		group := byType[t]
		if len(group) == 0 {
			continue
		}
		ids := make([]int64, len(group))
		for i, it := range group {
			ids[i] = it.id.Value()
		}
		remote, err := m.remoteRows(t, types.Filter{"id": ids})
		if err != nil {
			return err
		}
		byID := make(map[int64]types.Row, len(remote))
		for _, row := range remote {
			byID[row.ID()] = row
		}
		schema := m.tables[t].schema
		for _, it := range group {
			row, ok := byID[it.id.Value()]
			switch {
			case !ok:
				cs.add(it, nil, "deleted by another commit")
			case !types.SameFields(schema, it.baseline, row):
				cs.add(it, row, "changed by another commit")
			}
		}
	}
	return nil
}

// checkKeys reports a unique key of it that a store row other than it holds.
// Rows this mapping removed, or renamed away from the key, do not count.
func (m *Mapping) checkKeys(cs *conflictSet, it *mappedItem) error {
	tbl := it.tbl
	for k, key := range tbl.schema.UniqueKeys {
		f, ok := m.keyFilter(tbl, k, it.rec)
		if !ok {
			continue
		}
		rows, err := m.remoteRows(tbl.itemType(), f)
		if err != nil {
			return err
		}
		enc, _ := tbl.keyOf(it.rec, k)
		for _, row := range rows {
			if it.id.Persistent() && row.ID() == it.id.Value() {
				continue
			}
			if local := tbl.byValue[row.ID()]; local != nil {
				if !local.valid {
					continue
				}
				if other, ok := tbl.keyOf(local.rec, k); ok && other != enc {
					continue
				}
			}
			m.logger.Debug("unique key taken upstream", "type", tbl.itemType(), "key", key, "row", row.ID())
			cs.add(it, row, "unique key taken by another commit")
			break
		}
	}
	return nil
}

// keyFilter builds the store filter for unique key k of rec. ok is false
// when a component cannot be matched in the store.
func (m *Mapping) keyFilter(tbl *table, k int, rec types.Record) (types.Filter, bool) {
	f := types.Filter{}
	for _, name := range tbl.schema.UniqueKeys[k] {
		spec, _ := tbl.schema.Field(name)
		if spec.Kind == types.KindRefList {
			return nil, false
		}
		v, _ := rec.Get(name)
		if id, isID := v.(types.ID); isID {
			if !id.Persistent() {
				return nil, false
			}
			f[name] = id.Value()
			continue
		}
		f[name] = v
	}
	return f, true
}

// remoteRows reads rows straight from the store without touching the cache.
func (m *Mapping) remoteRows(t types.ItemType, f types.Filter) ([]types.Row, error) {
	raw, err := m.store.Fetch(t, f)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", t, err)
	}
	m.observer.Fetched(t, len(raw))
	schema := m.tables[t].schema
	rows := make([]types.Row, 0, len(raw))
	for _, r := range raw {
		row, err := types.NormalizeRow(schema, r)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", t, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
