package mapping

import (
	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// mappedItem is one cached item. It implements types.Item as a live view.
type mappedItem struct {
	tbl *table
	id  types.ID
	rec types.Record
	seq uint64

	status types.Status
	valid  bool

	// removedBy is the item whose removal cascaded into this one; nil for a
	// direct removal. statusBeforeRemoval is what restore returns to.
	removedBy           *mappedItem
	statusBeforeRemoval types.Status

	// backup and baseline hold the last fetched or committed version, as a
	// record for rollback and as a store row for conflict detection. Both
	// are nil for items added in this session.
	backup   types.Record
	baseline types.Row
	commitID int64
}

var _ types.Item = (*mappedItem)(nil)

func (it *mappedItem) Type() types.ItemType { return it.tbl.itemType() }
func (it *mappedItem) ID() types.ID         { return it.id }
func (it *mappedItem) Status() types.Status { return it.status }
func (it *mappedItem) Valid() bool          { return it.valid }
func (it *mappedItem) CommitID() int64      { return it.commitID }
func (it *mappedItem) Record() types.Record { return it.rec.Clone() }

// pending reports whether it would take part in a commit or rollback.
func (it *mappedItem) pending() bool {
	return it.status != types.StatusUnchanged && !it.dropped()
}

// dropped reports an item added and removed within one session. It never
// reaches the store.
func (it *mappedItem) dropped() bool {
	return it.status == types.StatusRemoved && it.statusBeforeRemoval == types.StatusAdded
}

// Get returns an own field, or an external field resolved through the
// referenced items.
func (it *mappedItem) Get(field string) (any, bool) {
	if v, ok := it.rec.Get(field); ok {
		return v, true
	}
	ext, ok := it.tbl.schema.ExternalField(field)
	if !ok {
		return nil, false
	}
	via, _ := it.rec.Get(ext.Via)
	m := it.tbl.m
	switch ref := via.(type) {
	case types.ID:
		target := m.itemByID(ref)
		if target == nil {
			return nil, false
		}
		return target.Get(ext.Field)
	case []types.ID:
		values := make([]any, 0, len(ref))
		allStrings := true
		for _, id := range ref {
			target := m.itemByID(id)
			if target == nil {
				return nil, false
			}
			v, _ := target.Get(ext.Field)
			if _, isString := v.(string); !isString {
				allStrings = false
			}
			values = append(values, v)
		}
		if !allStrings {
			return values, true
		}
		names := make([]string, len(values))
		for i, v := range values {
			names[i] = v.(string)
		}
		return names, true
	}
	return nil, false
}

// Fields renders own and external fields with references as integers.
func (it *mappedItem) Fields() types.Fields {
	s := it.tbl.schema
	out := make(types.Fields, len(s.Fields)+len(s.External)+1)
	out["id"] = it.id.Value()
	row := types.ToRow(s, it.rec)
	for name, v := range row {
		out[name] = v
	}
	if it.commitID != 0 {
		out["commit_id"] = it.commitID
	}
	for _, ext := range s.External {
		if v, ok := it.Get(ext.Name); ok {
			out[ext.Name] = v
		}
	}
	return out
}

// row is the store form of the current record with the id columns.
func (it *mappedItem) row() types.Row {
	row := types.ToRow(it.tbl.schema, it.rec)
	row["id"] = it.id.Value()
	if it.tbl.itemType() != types.CommitType {
		row["commit_id"] = it.commitID
	}
	return row
}

// displayName is how conflict reports show a referenced item.
func (it *mappedItem) displayName() any {
	if name, ok := it.rec.Get("name"); ok {
		if s, _ := name.(string); s != "" {
			return s
		}
	}
	return it.id.Value()
}

// displayKey renders the first unique key of it with references replaced by
// the referent's name under the external field that exposes it.
func (it *mappedItem) displayKey() map[string]any {
	s := it.tbl.schema
	out := make(map[string]any)
	if len(s.UniqueKeys) == 0 {
		return out
	}
	for _, field := range s.UniqueKeys[0] {
		v, _ := it.rec.Get(field)
		id, isID := v.(types.ID)
		if !isID {
			out[field] = v
			continue
		}
		name := field
		for _, ext := range s.External {
			if ext.Via == field && ext.Field == "name" {
				name = ext.Name
				break
			}
		}
		if target := it.tbl.m.itemByID(id); target != nil {
			out[name] = target.displayName()
		} else {
			out[name] = id.Value()
		}
	}
	return out
}

func publicItems(items []*mappedItem) []types.Item {
	out := make([]types.Item, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}
