package mapping

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

type fetchState int

const (
	fetchNotStarted fetchState = iota
	fetchInProgress
	fetchComplete
)

// table is the mapped table of one item type. Removed items stay in items
// and keep their unique-key entries until a valid item claims the key, so
// restore by key keeps working.
type table struct {
	m      *Mapping
	schema *types.Schema

	items   map[types.ID]*mappedItem
	byValue map[int64]*mappedItem // store ids and provisional ids
	keys    []map[string]*mappedItem

	state   fetchState
	fetched map[string]bool // encoded scoped filters already fetched
}

func newTable(m *Mapping, s *types.Schema) *table {
	t := &table{
		m:       m,
		schema:  s,
		items:   make(map[types.ID]*mappedItem),
		byValue: make(map[int64]*mappedItem),
		keys:    make([]map[string]*mappedItem, len(s.UniqueKeys)),
		fetched: make(map[string]bool),
	}
	for i := range t.keys {
		t.keys[i] = make(map[string]*mappedItem)
	}
	return t
}

func (t *table) itemType() types.ItemType { return t.schema.Type }

// insert adds it to the identifier and unique-key indexes. Callers check
// collisions first.
func (t *table) insert(it *mappedItem) {
	t.items[it.id] = it
	t.byValue[it.id.Value()] = it
	if tmp := it.id.Temp(); tmp != 0 {
		t.byValue[tmp] = it
	}
	t.index(it)
}

// index points every unique key of it at it.
func (t *table) index(it *mappedItem) {
	for k := range t.schema.UniqueKeys {
		if enc, ok := t.keyOf(it.rec, k); ok {
			t.keys[k][enc] = it
		}
	}
}

// unindex drops the unique-key entries that point at it. A removed item
// with the same key takes the entry back.
func (t *table) unindex(it *mappedItem) {
	for k := range t.schema.UniqueKeys {
		enc, ok := t.keyOf(it.rec, k)
		if !ok || t.keys[k][enc] != it {
			continue
		}
		delete(t.keys[k], enc)
		if prev := t.removedHolder(k, enc, it); prev != nil {
			t.keys[k][enc] = prev
		}
	}
}

// removedHolder returns the most recently cached removed item other than
// skip whose key k encodes to enc.
func (t *table) removedHolder(k int, enc string, skip *mappedItem) *mappedItem {
	var found *mappedItem
	for _, it := range t.items {
		if it == skip || it.valid {
			continue
		}
		if other, ok := t.keyOf(it.rec, k); ok && other == enc && (found == nil || it.seq > found.seq) {
			found = it
		}
	}
	return found
}

// evict forgets it entirely.
func (t *table) evict(it *mappedItem) {
	t.unindex(it)
	delete(t.items, it.id)
	for v, held := range t.byValue {
		if held == it {
			delete(t.byValue, v)
		}
	}
}

// collision returns a valid item other than self that holds one of rec's
// unique keys, with the index of that key.
func (t *table) collision(rec types.Record, self *mappedItem) (*mappedItem, int) {
	for k := range t.schema.UniqueKeys {
		enc, ok := t.keyOf(rec, k)
		if !ok {
			continue
		}
		if holder := t.keys[k][enc]; holder != nil && holder != self && holder.valid {
			return holder, k
		}
	}
	return nil, -1
}

// lookupKey returns the item indexed under key k.
func (t *table) lookupKey(k int, enc string) *mappedItem {
	return t.keys[k][enc]
}

// keyFor returns the unique key whose fields are exactly covered by own, or
// -1.
func (t *table) keyFor(own map[string]any) int {
	for k, key := range t.schema.UniqueKeys {
		covered := true
		for _, f := range key {
			if _, ok := own[f]; !ok {
				covered = false
				break
			}
		}
		if covered {
			return k
		}
	}
	return -1
}

// keyOf encodes unique key k of rec. ok is false when a reference component
// is unset.
func (t *table) keyOf(rec types.Record, k int) (string, bool) {
	parts := make([]string, 0, len(t.schema.UniqueKeys[k]))
	for _, name := range t.schema.UniqueKeys[k] {
		v, _ := rec.Get(name)
		if id, isID := v.(types.ID); isID && id.IsZero() {
			return "", false
		}
		parts = append(parts, encodeValue(v))
	}
	return strings.Join(parts, "\x1f"), true
}

// all returns every cached item, removed ones included, in insertion order.
func (t *table) all() []*mappedItem {
	out := make([]*mappedItem, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// valid returns the valid items in insertion order.
func (t *table) valid() []*mappedItem {
	var out []*mappedItem
	for _, it := range t.all() {
		if it.valid {
			out = append(out, it)
		}
	}
	return out
}

func encodeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case types.ID:
		return x.Key()
	case []types.ID:
		parts := make([]string, len(x))
		for i, id := range x {
			parts[i] = id.Key()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case string:
		return strconv.Quote(x)
	case []byte:
		return "x" + hex.EncodeToString(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return fmt.Sprint(v)
}

func encodeFilter(f types.Filter) string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + encodeValue(f[k])
	}
	return strings.Join(parts, "&")
}
