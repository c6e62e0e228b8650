package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// dirtySet is the collected state of one commit attempt, grouped by kind
// and kept in dependency order of types, insertion order within a type.
type dirtySet struct {
	removed []*mappedItem
	updated []*mappedItem
	added   []*mappedItem
	dropped []*mappedItem
}

func (d *dirtySet) empty() bool {
	return len(d.removed)+len(d.updated)+len(d.added) == 0
}

func (m *Mapping) collect() *dirtySet {
	d := &dirtySet{}
	for _, t := range m.order {
		for _, it := range m.tables[t].all() {
			switch {
			case it.dropped():
				d.dropped = append(d.dropped, it)
			case it.status == types.StatusRemoved:
				d.removed = append(d.removed, it)
			case it.status == types.StatusUpdated:
				d.updated = append(d.updated, it)
			case it.status == types.StatusAdded:
				d.added = append(d.added, it)
			}
		}
	}
	return d
}

// fetchRemovalReferrers loads every table that a pending removal can
// cascade into, so rows not cached yet are removed along with their
// referents.
func (m *Mapping) fetchRemovalReferrers() error {
	roots := map[types.ItemType]bool{}
	for _, t := range m.order {
		for _, it := range m.tables[t].items {
			if it.status == types.StatusRemoved && !it.dropped() {
				roots[t] = true
				break
			}
		}
	}
	if len(roots) == 0 {
		return nil
	}
	for _, t := range m.referrerClosure(roots) {
		if err := m.fetchAll(m.tables[t]); err != nil {
			return err
		}
	}
	return nil
}

// Commit persists every dirty item in one store transaction and returns the
// new commit id. When another writer committed since the baseline, dirty
// items are first checked against the store's current rows; any divergence
// aborts the commit with a *types.ConflictError and writes nothing.
func (m *Mapping) Commit(message string) (int64, error) {
	if m.closed {
		return 0, types.ErrMappingClosed
	}
	if strings.TrimSpace(message) == "" {
		return 0, &types.IntegrityError{Type: types.CommitType, Reason: "commit message must not be empty"}
	}
	if !m.Dirty() {
		return 0, types.ErrNothingToCommit
	}
	if err := m.fetchRemovalReferrers(); err != nil {
		return 0, err
	}
	dirty := m.collect()
	if dirty.empty() {
		return 0, types.ErrNothingToCommit
	}

	counter, err := m.store.ChangeCounter()
	if err != nil {
		return 0, fmt.Errorf("read change counter: %w", err)
	}
	stale := m.synced && counter != m.baseline
	if !m.synced || stale {
		m.logger.Info("store advanced, reconciling", "baseline", m.baseline, "counter", counter)
		conflicts, err := m.reconcile(dirty)
		if err != nil {
			return 0, err
		}
		if len(conflicts) > 0 {
			m.observer.Conflicted(len(conflicts))
			for _, c := range conflicts {
				m.logger.Warn("commit conflict", "type", c.Type, "id", c.ID, "reason", c.Reason)
			}
			return 0, &types.ConflictError{Conflicts: conflicts}
		}
	}

	ops := m.operations(dirty)
	record := types.CommitRecord{Comment: message, Date: m.now().UTC(), User: m.user}
	res, err := m.store.Persist(types.PersistRequest{Commit: record, ExpectCounter: counter, Ops: ops})
	if err != nil {
		if errors.Is(err, types.ErrStaleCounter) || errors.Is(err, types.ErrUniqueViolate) {
			m.observer.Conflicted(1)
			m.logger.Warn("commit lost a race with another writer", "error", err)
			return 0, &types.ConflictError{Err: err}
		}
		return 0, fmt.Errorf("persist commit: %w", err)
	}
	if err := m.finalize(dirty, res, record, stale); err != nil {
		return 0, err
	}
	m.observer.Committed(ops)
	m.logger.Info("committed", "commit_id", res.CommitID, "operations", len(ops), "user", m.user)
	return res.CommitID, nil
}

// operations orders the writes of a commit: removals first, referrers
// before referents; then, type by type in dependency order, updates
// followed by additions in creation order.
func (m *Mapping) operations(d *dirtySet) []types.Operation {
	var ops []types.Operation

	removed := append([]*mappedItem(nil), d.removed...)
	sort.SliceStable(removed, func(i, j int) bool {
		ri, rj := m.rank[removed[i].Type()], m.rank[removed[j].Type()]
		if ri != rj {
			return ri > rj
		}
		return removed[i].seq > removed[j].seq
	})
	for _, it := range removed {
		ops = append(ops, types.Operation{Kind: types.OpRemove, Type: it.Type(), ID: it.id.Value()})
	}

	byType := func(items []*mappedItem, t types.ItemType) []*mappedItem {
		var out []*mappedItem
		for _, it := range items {
			if it.Type() == t {
				out = append(out, it)
			}
		}
		return out
	}
	for _, t := range m.order {
		for _, it := range byType(d.updated, t) {
			ops = append(ops, types.Operation{Kind: types.OpUpdate, Type: t, ID: it.id.Value(), Row: types.ToRow(it.tbl.schema, it.rec)})
		}
		for _, it := range byType(d.added, t) {
			ops = append(ops, types.Operation{Kind: types.OpAdd, Type: t, ID: it.id.Value(), Row: types.ToRow(it.tbl.schema, it.rec)})
		}
	}
	return ops
}

// finalize binds provisional ids, marks touched items clean and forgets
// removed ones. A stale view keeps its baseline: cached rows still predate
// the other writers' commits, so later commits must keep reconciling.
func (m *Mapping) finalize(d *dirtySet, res types.PersistResult, record types.CommitRecord, stale bool) error {
	for _, it := range d.added {
		if _, ok := res.IDs[it.id.Value()]; !ok {
			return fmt.Errorf("persist commit: store assigned no id to %s %d", it.Type(), it.id.Value())
		}
	}
	for _, it := range d.added {
		db := res.IDs[it.id.Value()]
		if err := it.id.Bind(db); err != nil {
			return fmt.Errorf("bind %s: %w", it.Type(), err)
		}
		it.tbl.byValue[db] = it
	}
	for _, group := range [][]*mappedItem{d.added, d.updated} {
		for _, it := range group {
			it.status = types.StatusUnchanged
			it.commitID = res.CommitID
			it.backup = it.rec.Clone()
			it.baseline = it.row()
		}
	}
	for _, group := range [][]*mappedItem{d.removed, d.dropped} {
		for _, it := range group {
			m.evict(it)
		}
	}

	commits := m.tables[types.CommitType]
	if commits.byValue[res.CommitID] == nil {
		rec := &types.Commit{Comment: record.Comment, Date: record.Date, User: record.User}
		it := &mappedItem{
			tbl:    commits,
			id:     types.NewPersistentID(types.CommitType, res.CommitID),
			rec:    rec,
			seq:    m.nextSeq(),
			status: types.StatusUnchanged,
			valid:  true,
			backup: rec.Clone(),
		}
		it.baseline = it.row()
		commits.insert(it)
	}

	m.ownCommits[res.CommitID] = true
	if !stale {
		m.baseline = res.Counter
	}
	m.synced = true
	return nil
}

func (m *Mapping) evict(it *mappedItem) {
	it.tbl.evict(it)
	m.unlink(it)
	delete(m.dependents, it.id)
}

// Rollback discards added items, restores removed ones and reverts updated
// ones to their last fetched or committed values.
func (m *Mapping) Rollback() error {
	if m.closed {
		return types.ErrMappingClosed
	}
	var changed bool
	var discard []*mappedItem
	for _, t := range m.order {
		for _, it := range m.tables[t].all() {
			if it.status == types.StatusUnchanged {
				continue
			}
			changed = true
			if it.status == types.StatusAdded || it.dropped() {
				discard = append(discard, it)
				continue
			}
			it.rec = it.backup.Clone()
			it.status = types.StatusUnchanged
			it.valid = true
			it.removedBy = nil
		}
	}
	if !changed {
		return types.ErrNothingToRollback
	}
	for _, it := range discard {
		m.evict(it)
	}
	m.reindex()
	m.observer.RolledBack()
	m.logger.Info("rolled back", "discarded", len(discard))
	return nil
}

// reindex rebuilds every unique-key index and the dependents index from
// the cached records. Removed items are indexed first so valid ones win.
func (m *Mapping) reindex() {
	m.dependents = make(map[types.ID]map[*mappedItem]struct{})
	for _, t := range m.order {
		tbl := m.tables[t]
		for k := range tbl.keys {
			tbl.keys[k] = make(map[string]*mappedItem)
		}
		items := tbl.all()
		for _, it := range items {
			if !it.valid {
				tbl.index(it)
			}
		}
		for _, it := range items {
			if it.valid {
				tbl.index(it)
			}
			m.link(it)
		}
	}
}
