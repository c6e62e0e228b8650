package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// itemByID dereferences a handle. Handles issued by another mapping are
// matched by store id.
func (m *Mapping) itemByID(id types.ID) *mappedItem {
	if id.IsZero() {
		return nil
	}
	tbl, ok := m.tables[id.Type()]
	if !ok {
		return nil
	}
	if it, ok := tbl.items[id]; ok {
		return it
	}
	if id.Persistent() {
		return tbl.byValue[id.Value()]
	}
	return nil
}

// resolveRaw finds the item with integer id n, fetching it from the store
// on a miss.
func (m *Mapping) resolveRaw(tbl *table, n int64) (*mappedItem, error) {
	if it := tbl.byValue[n]; it != nil {
		return it, nil
	}
	if n > 0 && tbl.state != fetchComplete {
		if err := m.fetchFiltered(tbl, types.Filter{"id": n}); err != nil {
			return nil, err
		}
		if it := tbl.byValue[n]; it != nil {
			return it, nil
		}
	}
	return nil, &types.UnresolvedReferenceError{Type: tbl.itemType(), Ref: fmt.Sprintf("id %d", n)}
}

// refItem resolves a reference value given by a client: an ID handle or an
// integer id.
func (m *Mapping) refItem(t types.ItemType, v any) (*mappedItem, error) {
	tbl, err := m.table(t)
	if err != nil {
		return nil, err
	}
	if id, ok := v.(types.ID); ok {
		if id.Type() != t {
			return nil, &types.UnresolvedReferenceError{Type: t, Ref: fmt.Sprintf("%s handle %s", id.Type(), id)}
		}
		if it := m.itemByID(id); it != nil {
			return it, nil
		}
		if id.Persistent() {
			return m.resolveRaw(tbl, id.Value())
		}
		return nil, &types.UnresolvedReferenceError{Type: t, Ref: "handle " + id.String()}
	}
	n, ok := types.AsInt(v)
	if !ok {
		return nil, fmt.Errorf("%w: reference to %s must be an id, got %T", types.ErrTypeMismatch, t, v)
	}
	return m.resolveRaw(tbl, n)
}

// lookupKey finds the item of tbl whose unique key matches key. Key fields
// may be own or external names; external names are resolved to references
// first. A miss fetches the key from the store unless the table is
// complete.
func (m *Mapping) lookupKey(tbl *table, key types.Fields, includeRemoved bool) (*mappedItem, error) {
	own, err := m.resolveInputs(tbl, key, false)
	if err != nil {
		return nil, err
	}
	k := tbl.keyFor(own)
	if k < 0 {
		return m.matchKey(tbl, key, includeRemoved)
	}
	keyRec, err := types.NewRecord(tbl.itemType())
	if err != nil {
		return nil, err
	}
	for _, name := range tbl.schema.UniqueKeys[k] {
		if err := keyRec.Set(name, own[name]); err != nil {
			return nil, err
		}
	}
	enc, ok := tbl.keyOf(keyRec, k)
	if !ok {
		return nil, &types.UnresolvedReferenceError{Type: tbl.itemType(), Ref: "key " + describeKey(key)}
	}
	accept := func(it *mappedItem) bool { return it != nil && (it.valid || includeRemoved) }
	if it := tbl.lookupKey(k, enc); accept(it) {
		return it, nil
	}
	if tbl.state != fetchComplete {
		if err := m.fetchKey(tbl, k, keyRec); err != nil {
			return nil, err
		}
		if it := tbl.lookupKey(k, enc); accept(it) {
			return it, nil
		}
	}
	return nil, &types.UnresolvedReferenceError{Type: tbl.itemType(), Ref: "key " + describeKey(key)}
}

// matchKey finds the one item whose fields match key when key does not
// cover a unique key through own fields, such as a parameter value named by
// definition, entity and alternative names without the class. Valid items
// win over removed ones.
func (m *Mapping) matchKey(tbl *table, key types.Fields, includeRemoved bool) (*mappedItem, error) {
	if err := m.fetchAll(tbl); err != nil {
		return nil, err
	}
	var valid, removed []*mappedItem
	for _, it := range tbl.all() {
		if !matches(it, key) {
			continue
		}
		if it.valid {
			valid = append(valid, it)
		} else if includeRemoved && !it.dropped() {
			removed = append(removed, it)
		}
	}
	candidates := valid
	if len(candidates) == 0 {
		candidates = removed
	}
	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		return nil, &types.UnresolvedReferenceError{Type: tbl.itemType(), Ref: "key " + describeKey(key)}
	}
	return nil, &types.UnresolvedReferenceError{Type: tbl.itemType(), Ref: fmt.Sprintf("key %s matches %d items", describeKey(key), len(candidates))}
}

// selectItem resolves a selector within tbl.
func (m *Mapping) selectItem(tbl *table, sel types.Selector, includeRemoved bool) (*mappedItem, error) {
	var it *mappedItem
	var err error
	switch s := sel.(type) {
	case types.ID:
		it, err = m.refItem(tbl.itemType(), s)
	case types.RawID:
		it, err = m.resolveRaw(tbl, int64(s))
	case types.Key:
		return m.lookupKey(tbl, types.Fields(s), includeRemoved)
	default:
		return nil, fmt.Errorf("%w: selector %T", types.ErrInvalidID, sel)
	}
	if err != nil {
		return nil, err
	}
	if !it.valid && !includeRemoved {
		return nil, &types.UnresolvedReferenceError{Type: tbl.itemType(), Ref: fmt.Sprintf("id %d (removed)", it.id.Value())}
	}
	return it, nil
}

// resolveInputs converts client fields into own-field values: resolvers
// turn external names into references, reference values become the
// referent's canonical handle. With strict set, unknown names are an
// error; otherwise they are ignored.
func (m *Mapping) resolveInputs(tbl *table, fields types.Fields, strict bool) (map[string]any, error) {
	s := tbl.schema
	in := make(types.Fields, len(fields))
	for k, v := range fields {
		in[k] = v
	}

	for _, r := range s.Resolvers {
		if _, has := in[r.Target]; has {
			continue
		}
		target, _ := s.Field(r.Target)
		refTbl, err := m.table(target.RefType)
		if err != nil {
			return nil, err
		}
		if r.List {
			var input string
			for _, name := range r.Inputs {
				input = name
			}
			raw, ok := in[input]
			if !ok {
				continue
			}
			list, ok := asList(raw)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a list", types.ErrTypeMismatch, input)
			}
			ids := make([]types.ID, 0, len(list))
			for _, elem := range list {
				key := types.Fields{}
				for keyField := range r.Inputs {
					key[keyField] = elem
				}
				ref, err := m.lookupKey(refTbl, key, false)
				if err != nil {
					return nil, err
				}
				ids = append(ids, ref.id)
			}
			in[r.Target] = ids
			continue
		}
		key := types.Fields{}
		complete := true
		for keyField, input := range r.Inputs {
			v, ok := in[input]
			if !ok {
				complete = false
				break
			}
			key[keyField] = v
		}
		if !complete {
			continue
		}
		ref, err := m.lookupKey(refTbl, key, false)
		if err != nil {
			return nil, err
		}
		in[r.Target] = ref.id
	}

	if h := hooksFor(s.Type); h.resolve != nil {
		if err := h.resolve(m, in); err != nil {
			return nil, err
		}
	}

	own := make(map[string]any, len(in))
	for name, v := range in {
		f, ok := s.Field(name)
		if !ok {
			if name == "id" || name == "commit_id" || s.Known(name) || !strict {
				continue
			}
			return nil, fmt.Errorf("%w: %s.%s", types.ErrUnknownField, s.Type, name)
		}
		switch f.Kind {
		case types.KindRef:
			if v == nil {
				own[name] = types.ID{}
				continue
			}
			ref, err := m.refItem(f.RefType, v)
			if err != nil {
				return nil, err
			}
			own[name] = ref.id
		case types.KindRefList:
			list, ok := asList(v)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a list", types.ErrTypeMismatch, name)
			}
			ids := make([]types.ID, 0, len(list))
			for _, e := range list {
				ref, err := m.refItem(f.RefType, e)
				if err != nil {
					return nil, err
				}
				ids = append(ids, ref.id)
			}
			own[name] = ids
		default:
			own[name] = v
		}
	}
	return own, nil
}

// asList accepts the list shapes clients and JSON produce.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case nil:
		return nil, true
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []int64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	case []types.ID:
		out := make([]any, len(l))
		for i, id := range l {
			out[i] = id
		}
		return out, true
	}
	return nil, false
}

func describeKey(key types.Fields) string {
	names := make([]string, 0, len(key))
	for k := range key {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%v", k, key[k])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// dangling wraps a resolution failure met while validating an add or update.
func dangling(t types.ItemType, err error) error {
	var unresolved *types.UnresolvedReferenceError
	if errors.As(err, &unresolved) {
		return &types.IntegrityError{Type: t, Reason: "dangling reference", Err: err}
	}
	if errors.Is(err, types.ErrTypeMismatch) || errors.Is(err, types.ErrUnknownField) {
		return &types.IntegrityError{Type: t, Reason: "invalid field", Err: err}
	}
	return err
}
