// Package mapping implements the in-memory mapped-item cache: per-type mapped
// tables indexed by identifier and unique key, cascading remove and restore,
// lazy fetching from a types.Store, and the commit engine that reconciles
// local edits with concurrent writers before persisting them.
//
// A Mapping is not safe for concurrent use.
package mapping

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// Option configures a Mapping.
type Option func(*Mapping)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mapping) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver registers an observer for fetch, commit and conflict events.
func WithObserver(o Observer) Option {
	return func(m *Mapping) {
		if o != nil {
			m.observer = o
		}
	}
}

// WithUser sets the user recorded on commits.
func WithUser(user string) Option {
	return func(m *Mapping) { m.user = user }
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Mapping) {
		if now != nil {
			m.now = now
		}
	}
}

// Mapping is the in-memory view over a types.Store.
type Mapping struct {
	store     types.Store
	order     []types.ItemType
	rank      map[types.ItemType]int
	referrers map[types.ItemType][]types.ItemType
	tables    map[types.ItemType]*table

	// dependents is the backward reference index: for every referenced
	// handle, the items whose records hold it.
	dependents map[types.ID]map[*mappedItem]struct{}

	nextTemp int64
	seq      uint64

	baseline   int64
	synced     bool
	ownCommits map[int64]bool

	session  uuid.UUID
	user     string
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
	closed   bool
}

var _ types.Mapping = (*Mapping)(nil)

// New returns an empty mapping over store. The store is not contacted until
// the first lookup that needs it.
func New(store types.Store, opts ...Option) (*Mapping, error) {
	schemas := types.Schemas()
	order, err := types.DependencyOrder(schemas)
	if err != nil {
		return nil, err
	}

	session, err := uuid.NewV7()
	if err != nil {
		session = uuid.New()
	}

	m := &Mapping{
		store:      store,
		order:      order,
		rank:       make(map[types.ItemType]int, len(order)),
		referrers:  referrerIndex(schemas),
		ownCommits: make(map[int64]bool),
		session:    session,
		now:        time.Now,
		logger:     slog.New(slog.DiscardHandler),
		observer:   nopObserver{},
	}
	for i, t := range order {
		m.rank[t] = i
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.user == "" {
		m.user = "session-" + m.session.String()
	}
	m.logger = m.logger.With("session", m.session.String())
	m.resetTables()
	return m, nil
}

// Session returns the id stamped on this mapping's log lines.
func (m *Mapping) Session() uuid.UUID { return m.session }

// Order returns the dependency order of item types.
func (m *Mapping) Order() []types.ItemType {
	return append([]types.ItemType(nil), m.order...)
}

func (m *Mapping) resetTables() {
	m.tables = make(map[types.ItemType]*table, len(m.order))
	for _, t := range m.order {
		m.tables[t] = newTable(m, types.MustSchema(t))
	}
	m.dependents = make(map[types.ID]map[*mappedItem]struct{})
}

func (m *Mapping) table(t types.ItemType) (*table, error) {
	if m.closed {
		return nil, types.ErrMappingClosed
	}
	tbl, ok := m.tables[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownItemType, t)
	}
	return tbl, nil
}

func (m *Mapping) newProvisionalID(t types.ItemType) types.ID {
	m.nextTemp--
	return types.NewProvisionalID(t, m.nextTemp)
}

func (m *Mapping) nextSeq() uint64 {
	m.seq++
	return m.seq
}

// sync records the store's change counter as the baseline the first time
// the mapping reads from the store.
func (m *Mapping) sync() error {
	if m.synced {
		return nil
	}
	counter, err := m.store.ChangeCounter()
	if err != nil {
		return fmt.Errorf("read change counter: %w", err)
	}
	m.baseline = counter
	m.synced = true
	return nil
}

// Dirty reports whether any item carries an uncommitted change.
func (m *Mapping) Dirty() bool {
	for _, t := range m.order {
		for _, it := range m.tables[t].items {
			if it.pending() {
				return true
			}
		}
	}
	return false
}

// HasExternalCommits reports whether the store's change counter moved past
// the baseline.
func (m *Mapping) HasExternalCommits() (bool, error) {
	if m.closed {
		return false, types.ErrMappingClosed
	}
	if !m.synced {
		return false, m.sync()
	}
	counter, err := m.store.ChangeCounter()
	if err != nil {
		return false, fmt.Errorf("read change counter: %w", err)
	}
	return counter != m.baseline, nil
}

// Reset drops every cached item, uncommitted changes included, so the next
// lookup reads the store afresh.
func (m *Mapping) Reset() error {
	if m.closed {
		return types.ErrMappingClosed
	}
	m.resetTables()
	m.synced = false
	m.logger.Debug("mapping reset")
	return nil
}

// Close releases the store. Idempotent.
func (m *Mapping) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	if err := m.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
