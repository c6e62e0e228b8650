package mapping

import (
	"errors"
	"fmt"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// errSelfPending marks a row whose same-type referent has not been loaded
// yet in the current batch.
var errSelfPending = errors.New("same-type referent pending")

// FetchAll loads every row of the given types, or of all types when none are
// given. Tables already complete are skipped.
func (m *Mapping) FetchAll(ts ...types.ItemType) error {
	if m.closed {
		return types.ErrMappingClosed
	}
	if len(ts) == 0 {
		ts = m.order
	}
	for _, t := range ts {
		tbl, err := m.table(t)
		if err != nil {
			return err
		}
		if err := m.fetchAll(tbl); err != nil {
			return err
		}
	}
	return nil
}

// fetchAll loads the whole table once; afterwards lookups never reach the
// store for this type.
func (m *Mapping) fetchAll(tbl *table) error {
	if tbl.state != fetchNotStarted {
		return nil
	}
	tbl.state = fetchInProgress
	if err := m.fetch(tbl, nil); err != nil {
		tbl.state = fetchNotStarted
		return err
	}
	tbl.state = fetchComplete
	return nil
}

// fetchFiltered loads the rows matching f unless the same filter was
// fetched before.
func (m *Mapping) fetchFiltered(tbl *table, f types.Filter) error {
	if tbl.state == fetchComplete {
		return nil
	}
	enc := encodeFilter(f)
	if tbl.fetched[enc] {
		return nil
	}
	if err := m.fetch(tbl, f); err != nil {
		return err
	}
	tbl.fetched[enc] = true
	return nil
}

// fetchKey loads the row holding unique key k of rec. Keys with a
// provisional component cannot exist in the store and are not queried.
func (m *Mapping) fetchKey(tbl *table, k int, rec types.Record) error {
	if tbl.state != fetchNotStarted {
		return nil
	}
	f, ok := m.keyFilter(tbl, k, rec)
	if !ok {
		return nil
	}
	return m.fetchFiltered(tbl, f)
}

func (m *Mapping) fetch(tbl *table, f types.Filter) error {
	if err := m.sync(); err != nil {
		return err
	}
	t := tbl.itemType()
	rows, err := m.store.Fetch(t, f)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", t, err)
	}
	m.observer.Fetched(t, len(rows))
	m.logger.Debug("fetched rows", "type", t, "rows", len(rows), "filter", encodeFilter(f))
	return m.load(tbl, rows)
}

// load inserts fetched rows as unchanged items. Local items always win: a
// row whose id is already cached, or whose unique key is held by a valid
// local item, is discarded. A row referencing a locally removed item is
// inserted and then removed by cascade, as if it had been cached before the
// removal.
func (m *Mapping) load(tbl *table, rows []types.Row) error {
	pending := make([]types.Row, 0, len(rows))
	for _, raw := range rows {
		row, err := types.NormalizeRow(tbl.schema, raw)
		if err != nil {
			m.logger.Warn("skipping malformed row", "type", tbl.itemType(), "id", raw["id"], "error", err)
			continue
		}
		pending = append(pending, row)
	}

	for len(pending) > 0 {
		var deferred []types.Row
		for _, row := range pending {
			err := m.loadRow(tbl, row)
			switch {
			case errors.Is(err, errSelfPending):
				deferred = append(deferred, row)
			case err != nil:
				var unresolved *types.UnresolvedReferenceError
				if !errors.As(err, &unresolved) {
					return err
				}
				m.logger.Warn("skipping row with dangling reference", "type", tbl.itemType(), "id", row.ID(), "error", err)
			}
		}
		if len(deferred) == len(pending) {
			for _, row := range deferred {
				m.logger.Warn("skipping row with dangling reference", "type", tbl.itemType(), "id", row.ID())
			}
			break
		}
		pending = deferred
	}
	return nil
}

func (m *Mapping) loadRow(tbl *table, row types.Row) error {
	t := tbl.itemType()
	id := row.ID()
	if id <= 0 {
		return &types.UnresolvedReferenceError{Type: t, Ref: fmt.Sprintf("row id %d", id)}
	}
	if tbl.byValue[id] != nil {
		return nil
	}

	rec, err := types.NewRecord(t)
	if err != nil {
		return err
	}
	var removedReferent *mappedItem
	for _, f := range tbl.schema.Fields {
		v := row[f.Name]
		switch f.Kind {
		case types.KindRef:
			n, _ := types.AsInt(v)
			if n == 0 {
				continue
			}
			ref, err := m.storeRef(tbl, f.RefType, n)
			if err != nil {
				return err
			}
			if !ref.valid && removedReferent == nil {
				removedReferent = ref
			}
			v = ref.id
		case types.KindRefList:
			ns, _ := v.([]int64)
			ids := make([]types.ID, len(ns))
			for i, n := range ns {
				ref, err := m.storeRef(tbl, f.RefType, n)
				if err != nil {
					return err
				}
				if !ref.valid && removedReferent == nil {
					removedReferent = ref
				}
				ids[i] = ref.id
			}
			v = ids
		}
		if err := rec.Set(f.Name, v); err != nil {
			return fmt.Errorf("load %s %d: %w", t, id, err)
		}
	}

	if holder, _ := tbl.collision(rec, nil); holder != nil {
		m.logger.Debug("discarding fetched row, key held locally", "type", t, "id", id, "local", holder.id.Value())
		return nil
	}

	commitID, _ := types.AsInt(row["commit_id"])
	it := &mappedItem{
		tbl:      tbl,
		id:       types.NewPersistentID(t, id),
		rec:      rec,
		seq:      m.nextSeq(),
		status:   types.StatusUnchanged,
		valid:    true,
		backup:   rec.Clone(),
		baseline: row,
		commitID: commitID,
	}
	tbl.insert(it)
	m.link(it)
	if removedReferent != nil {
		var removed []*mappedItem
		m.cascadeRemove(it, removedReferent, &removed)
		m.logger.Debug("fetched row references removed item", "type", t, "id", id, "referent", removedReferent.id.Value())
	}
	return nil
}

// storeRef resolves a store id found in a row of tbl. Referent tables are
// fetched in full on a miss; same-type referents wait for the rest of the
// batch.
func (m *Mapping) storeRef(tbl *table, t types.ItemType, n int64) (*mappedItem, error) {
	refTbl := m.tables[t]
	if it := refTbl.byValue[n]; it != nil {
		return it, nil
	}
	if refTbl == tbl {
		if tbl.state == fetchInProgress {
			return nil, errSelfPending
		}
		if err := m.fetchFiltered(tbl, types.Filter{"id": n}); err != nil {
			return nil, err
		}
	} else if err := m.fetchAll(refTbl); err != nil {
		return nil, err
	}
	if it := refTbl.byValue[n]; it != nil {
		return it, nil
	}
	if refTbl == tbl && tbl.state != fetchInProgress {
		return nil, errSelfPending
	}
	return nil, &types.UnresolvedReferenceError{Type: t, Ref: fmt.Sprintf("id %d", n)}
}
