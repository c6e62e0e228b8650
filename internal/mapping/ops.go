package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// Add validates fields and inserts a new item with a provisional ID and
// status added. Nothing changes when validation fails.
func (m *Mapping) Add(t types.ItemType, fields types.Fields) (types.Item, error) {
	tbl, err := m.table(t)
	if err != nil {
		return nil, err
	}
	if tbl.schema.ReadOnly {
		return nil, &types.IntegrityError{Type: t, Reason: "items are written by commit only"}
	}

	in := make(types.Fields, len(fields)+1)
	for k, v := range fields {
		in[k] = v
	}
	if h := hooksFor(t); h.defaults != nil {
		h.defaults(in)
	}
	own, err := m.resolveInputs(tbl, in, true)
	if err != nil {
		return nil, dangling(t, err)
	}

	rec, err := types.NewRecord(t)
	if err != nil {
		return nil, err
	}
	for _, f := range tbl.schema.Fields {
		if f.Default != nil {
			if err := rec.Set(f.Name, f.Default); err != nil {
				return nil, err
			}
		}
	}
	if err := setAll(t, rec, own); err != nil {
		return nil, err
	}
	if err := m.validate(tbl, rec, nil); err != nil {
		return nil, err
	}

	it := &mappedItem{
		tbl:    tbl,
		id:     m.newProvisionalID(t),
		rec:    rec,
		seq:    m.nextSeq(),
		status: types.StatusAdded,
		valid:  true,
	}
	tbl.insert(it)
	m.link(it)
	m.logger.Debug("item added", "type", t, "id", it.id.Value())
	return it, nil
}

// Update merges fields into the selected valid item. The ID never changes.
// An update that brings every field back to the last committed value
// returns the item to unchanged.
func (m *Mapping) Update(t types.ItemType, sel types.Selector, fields types.Fields) (types.Item, error) {
	tbl, err := m.table(t)
	if err != nil {
		return nil, err
	}
	if tbl.schema.ReadOnly {
		return nil, &types.IntegrityError{Type: t, Reason: "items are written by commit only"}
	}
	it, err := m.selectItem(tbl, sel, false)
	if err != nil {
		return nil, err
	}
	own, err := m.resolveInputs(tbl, fields, true)
	if err != nil {
		return nil, dangling(t, err)
	}
	for name, v := range own {
		f, _ := tbl.schema.Field(name)
		if !f.Immutable {
			continue
		}
		current, _ := it.rec.Get(name)
		if !types.ValuesEqual(current, v) {
			return nil, &types.IntegrityError{Type: t, Reason: fmt.Sprintf("%s cannot be changed", name)}
		}
	}

	cand := it.rec.Clone()
	if err := setAll(t, cand, own); err != nil {
		return nil, err
	}
	if err := m.validate(tbl, cand, it); err != nil {
		return nil, err
	}

	tbl.unindex(it)
	m.unlink(it)
	it.rec = cand
	tbl.index(it)
	m.link(it)

	if it.status != types.StatusAdded {
		if it.backup != nil && types.SameFields(tbl.schema, types.ToRow(tbl.schema, cand), types.ToRow(tbl.schema, it.backup)) {
			it.status = types.StatusUnchanged
		} else {
			it.status = types.StatusUpdated
		}
	}
	m.logger.Debug("item updated", "type", t, "id", it.id.Value(), "status", it.status.String())
	return it, nil
}

// Remove invalidates the selected item and, depth-first, every item that
// depends on it. Tables the removal can cascade into are fetched first, so
// the returned items, in removal order, are the full invalidated set.
func (m *Mapping) Remove(t types.ItemType, sel types.Selector) ([]types.Item, error) {
	tbl, err := m.table(t)
	if err != nil {
		return nil, err
	}
	if tbl.schema.ReadOnly {
		return nil, &types.IntegrityError{Type: t, Reason: "items are written by commit only"}
	}
	it, err := m.selectItem(tbl, sel, false)
	if err != nil {
		return nil, err
	}
	if isBase(it) {
		return nil, &types.IntegrityError{Type: t, Reason: "the Base alternative cannot be removed"}
	}
	if err := m.fetchReferrers(t); err != nil {
		return nil, err
	}
	var removed []*mappedItem
	m.cascadeRemove(it, nil, &removed)
	m.logger.Debug("item removed", "type", t, "id", it.id.Value(), "cascade", len(removed)-1)
	return publicItems(removed), nil
}

// Purge removes every valid item of t along with its dependents and returns
// them in removal order. The Base alternative is kept.
func (m *Mapping) Purge(t types.ItemType) ([]types.Item, error) {
	tbl, err := m.table(t)
	if err != nil {
		return nil, err
	}
	if tbl.schema.ReadOnly {
		return nil, &types.IntegrityError{Type: t, Reason: "items are written by commit only"}
	}
	if err := m.fetchAll(tbl); err != nil {
		return nil, err
	}
	if err := m.fetchReferrers(t); err != nil {
		return nil, err
	}
	var removed []*mappedItem
	for _, it := range tbl.valid() {
		if !isBase(it) {
			m.cascadeRemove(it, nil, &removed)
		}
	}
	m.logger.Debug("items purged", "type", t, "removed", len(removed))
	return publicItems(removed), nil
}

// AddUpdate updates the valid item holding the unique key given in fields,
// or adds a new item when there is none. added reports which happened.
func (m *Mapping) AddUpdate(t types.ItemType, fields types.Fields) (it types.Item, added bool, err error) {
	tbl, err := m.table(t)
	if err != nil {
		return nil, false, err
	}
	holder, err := m.keyHolder(tbl, fields)
	if err != nil {
		return nil, false, err
	}
	if holder == nil {
		it, err = m.Add(t, fields)
		return it, err == nil, err
	}
	it, err = m.Update(t, holder.id, fields)
	return it, false, err
}

// keyHolder returns the valid item whose unique key fields carries, or nil
// when fields cover no unique key or no item holds it.
func (m *Mapping) keyHolder(tbl *table, fields types.Fields) (*mappedItem, error) {
	in := make(types.Fields, len(fields)+1)
	for k, v := range fields {
		in[k] = v
	}
	if h := hooksFor(tbl.itemType()); h.defaults != nil {
		h.defaults(in)
	}
	own, err := m.resolveInputs(tbl, in, false)
	if err != nil {
		return nil, dangling(tbl.itemType(), err)
	}
	k := tbl.keyFor(own)
	if k < 0 {
		return nil, nil
	}
	key := make(types.Fields, len(tbl.schema.UniqueKeys[k]))
	for _, name := range tbl.schema.UniqueKeys[k] {
		key[name] = own[name]
	}
	it, err := m.lookupKey(tbl, key, false)
	var unresolved *types.UnresolvedReferenceError
	if errors.As(err, &unresolved) {
		return nil, nil
	}
	return it, err
}

// fetchReferrers loads every table a removal in t can cascade into.
func (m *Mapping) fetchReferrers(t types.ItemType) error {
	for _, rt := range m.referrerClosure(map[types.ItemType]bool{t: true}) {
		if err := m.fetchAll(m.tables[rt]); err != nil {
			return err
		}
	}
	return nil
}

func isBase(it *mappedItem) bool {
	return it.Type() == types.AlternativeType && it.id.Value() == types.BaseAlternativeID
}

// Restore revalidates a removed item and the dependents that were removed
// only because of it.
func (m *Mapping) Restore(t types.ItemType, sel types.Selector) ([]types.Item, error) {
	tbl, err := m.table(t)
	if err != nil {
		return nil, err
	}
	it, err := m.selectItem(tbl, sel, true)
	if err != nil {
		return nil, err
	}
	restored, err := m.restore(it)
	if err != nil {
		return nil, err
	}
	return publicItems(restored), nil
}

// Get returns the valid item selected by sel.
func (m *Mapping) Get(t types.ItemType, sel types.Selector) (types.Item, error) {
	tbl, err := m.table(t)
	if err != nil {
		return nil, err
	}
	it, err := m.selectItem(tbl, sel, false)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Find returns the valid items of t matching every entry of where. The
// table is fetched in full first.
func (m *Mapping) Find(t types.ItemType, where types.Fields) ([]types.Item, error) {
	tbl, err := m.table(t)
	if err != nil {
		return nil, err
	}
	for name := range where {
		if name != "id" && !tbl.schema.Known(name) {
			return nil, fmt.Errorf("%w: %s.%s", types.ErrUnknownField, t, name)
		}
	}
	if err := m.fetchAll(tbl); err != nil {
		return nil, err
	}
	var out []types.Item
	for _, it := range tbl.valid() {
		if matches(it, where) {
			out = append(out, it)
		}
	}
	return out, nil
}

func matches(it *mappedItem, where types.Fields) bool {
	for name, want := range where {
		if want == types.Any {
			continue
		}
		var got any
		if name == "id" {
			got = it.id
		} else {
			v, ok := it.Get(name)
			if !ok {
				return false
			}
			got = v
		}
		if !types.ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

func setAll(t types.ItemType, rec types.Record, own map[string]any) error {
	for name, v := range own {
		if err := rec.Set(name, v); err != nil {
			return &types.IntegrityError{Type: t, Reason: "invalid field", Err: err}
		}
	}
	return nil
}

// validate runs the type hooks on rec and checks required fields, referents
// and unique keys. self is the item being updated, nil on add.
func (m *Mapping) validate(tbl *table, rec types.Record, self *mappedItem) error {
	t := tbl.itemType()
	if h := hooksFor(t); h.complete != nil {
		if err := h.complete(m, rec); err != nil {
			return err
		}
	}

	var missing []string
	for _, f := range tbl.schema.Fields {
		if !f.Required {
			continue
		}
		v, _ := rec.Get(f.Name)
		if isUnset(f, v) {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return &types.IntegrityError{Type: t, Reason: "missing required field " + strings.Join(missing, ", ")}
	}

	for _, f := range tbl.schema.References() {
		for _, id := range refsOf(rec, f) {
			target := m.itemByID(id)
			if target == nil || id.Type() != f.RefType {
				return &types.IntegrityError{Type: t, Reason: fmt.Sprintf("dangling reference %s", f.Name)}
			}
			if !target.valid {
				return &types.IntegrityError{Type: t, Reason: fmt.Sprintf("%s references removed %s %v", f.Name, f.RefType, target.displayName())}
			}
			if target == self {
				return &types.IntegrityError{Type: t, Reason: fmt.Sprintf("%s references the item itself", f.Name)}
			}
		}
	}

	for k := range tbl.schema.UniqueKeys {
		if tbl.state == fetchComplete {
			break
		}
		if err := m.fetchKey(tbl, k, rec); err != nil {
			return err
		}
	}
	if holder, k := tbl.collision(rec, self); holder != nil {
		return &types.IntegrityError{
			Type:   t,
			Reason: fmt.Sprintf("unique key (%s) already taken by %d", strings.Join(tbl.schema.UniqueKeys[k], ", "), holder.id.Value()),
		}
	}
	return nil
}

func isUnset(f types.FieldSpec, v any) bool {
	switch f.Kind {
	case types.KindString:
		s, _ := v.(string)
		return s == ""
	case types.KindRef:
		id, _ := v.(types.ID)
		return id.IsZero()
	case types.KindBytes:
		b, _ := v.([]byte)
		return b == nil
	}
	return v == nil
}

// refsOf returns the handles held by reference field f of rec.
func refsOf(rec types.Record, f types.FieldSpec) []types.ID {
	v, _ := rec.Get(f.Name)
	switch x := v.(type) {
	case types.ID:
		if x.IsZero() {
			return nil
		}
		return []types.ID{x}
	case []types.ID:
		return x
	}
	return nil
}
