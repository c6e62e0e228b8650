// Package memstore provides an in-memory types.Store used by tests and by
// the "memory" backend for ephemeral sessions.
package memstore

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

var _ types.Store = (*Store)(nil)

// Seed values written by New, matching a freshly created database.
const (
	SeedComment = "Create the database"
	SeedUser    = "entitymap"
)

type state struct {
	rows    map[types.ItemType]map[int64]types.Row
	next    map[types.ItemType]int64
	counter int64
}

func newState() state {
	st := state{
		rows: make(map[types.ItemType]map[int64]types.Row, len(types.StandardItemTypes)),
		next: make(map[types.ItemType]int64, len(types.StandardItemTypes)),
	}
	for _, t := range types.StandardItemTypes {
		st.rows[t] = make(map[int64]types.Row)
	}
	return st
}

// clone copies the table maps. Stored rows are never mutated in place, so
// they are shared.
func (st state) clone() state {
	out := state{
		rows:    make(map[types.ItemType]map[int64]types.Row, len(st.rows)),
		next:    make(map[types.ItemType]int64, len(st.next)),
		counter: st.counter,
	}
	for t, rows := range st.rows {
		cp := make(map[int64]types.Row, len(rows))
		for id, row := range rows {
			cp[id] = row
		}
		out.rows[t] = cp
	}
	for t, n := range st.next {
		out.next[t] = n
	}
	return out
}

func (st state) nextID(t types.ItemType) int64 {
	st.next[t]++
	return st.next[t]
}

// Store keeps every table in maps guarded by one lock. Persist applies a
// commit to a copy of the state and swaps it in only when every operation
// succeeded.
type Store struct {
	mu     sync.RWMutex
	state  state
	closed bool
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock sets the timestamp of the seed commit.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New returns a store holding the seed commit and the Base alternative.
func New(opts ...Option) *Store {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	st := newState()
	commitID := st.nextID(types.CommitType)
	st.rows[types.CommitType][commitID] = types.Row{
		"id":      commitID,
		"comment": SeedComment,
		"date":    o.now().UTC(),
		"user":    SeedUser,
	}
	baseID := st.nextID(types.AlternativeType)
	st.rows[types.AlternativeType][baseID] = types.Row{
		"id":          baseID,
		"name":        types.BaseAlternativeName,
		"description": "Base alternative",
		"commit_id":   commitID,
	}
	st.counter = commitID
	return &Store{state: st}
}

// Fetch returns copies of the rows of t matching f, ordered by id.
func (s *Store) Fetch(t types.ItemType, f types.Filter) ([]types.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.ErrStoreClosed
	}
	if _, err := types.SchemaOf(t); err != nil {
		return nil, err
	}
	rows := s.state.rows[t]
	ids := make([]int64, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []types.Row
	for _, id := range ids {
		row := rows[id]
		if matches(row, f) {
			out = append(out, cloneRow(row))
		}
	}
	return out, nil
}

// ChangeCounter returns the id of the latest commit.
func (s *Store) ChangeCounter() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, types.ErrStoreClosed
	}
	return s.state.counter, nil
}

// Persist writes the commit record and applies req.Ops in order.
func (s *Store) Persist(req types.PersistRequest) (types.PersistResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.PersistResult{}, types.ErrStoreClosed
	}
	if req.ExpectCounter != s.state.counter {
		return types.PersistResult{}, fmt.Errorf("%w: expected %d, store at %d", types.ErrStaleCounter, req.ExpectCounter, s.state.counter)
	}

	st := s.state.clone()
	commitID := st.nextID(types.CommitType)
	st.rows[types.CommitType][commitID] = types.Row{
		"id":      commitID,
		"comment": req.Commit.Comment,
		"date":    req.Commit.Date.UTC(),
		"user":    req.Commit.User,
	}

	ids := make(map[int64]int64)
	touched := map[types.ItemType]bool{}
	for i, op := range req.Ops {
		if err := apply(st, op, commitID, ids); err != nil {
			return types.PersistResult{}, fmt.Errorf("op %d (%s %s %d): %w", i, op.Kind, op.Type, op.ID, err)
		}
		touched[op.Type] = true
	}
	for t := range touched {
		if err := checkUnique(st, t); err != nil {
			return types.PersistResult{}, err
		}
	}
	if err := checkReferences(st); err != nil {
		return types.PersistResult{}, err
	}

	st.counter = commitID
	s.state = st
	return types.PersistResult{CommitID: commitID, IDs: ids, Counter: commitID}, nil
}

// Close marks the store closed. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func apply(st state, op types.Operation, commitID int64, ids map[int64]int64) error {
	schema, err := types.SchemaOf(op.Type)
	if err != nil {
		return err
	}
	if schema.ReadOnly {
		return fmt.Errorf("%s is written by commit only", op.Type)
	}
	rows := st.rows[op.Type]

	switch op.Kind {
	case types.OpRemove:
		if _, ok := rows[op.ID]; !ok {
			return types.ErrRowNotFound
		}
		delete(rows, op.ID)
		return nil
	case types.OpUpdate:
		if _, ok := rows[op.ID]; !ok {
			return types.ErrRowNotFound
		}
		row, err := bind(schema, op.Row, ids)
		if err != nil {
			return err
		}
		row["id"] = op.ID
		row["commit_id"] = commitID
		rows[op.ID] = row
		return nil
	case types.OpAdd:
		row, err := bind(schema, op.Row, ids)
		if err != nil {
			return err
		}
		id := st.nextID(op.Type)
		row["id"] = id
		row["commit_id"] = commitID
		rows[id] = row
		if op.ID < 0 {
			ids[op.ID] = id
		}
		return nil
	}
	return fmt.Errorf("unknown operation %s", op.Kind)
}

// bind normalizes row and replaces provisional references with the ids
// assigned earlier in the same commit.
func bind(schema *types.Schema, in types.Row, ids map[int64]int64) (types.Row, error) {
	row, err := types.NormalizeRow(schema, in)
	if err != nil {
		return nil, err
	}
	resolve := func(n int64) (int64, error) {
		if n >= 0 {
			return n, nil
		}
		db, ok := ids[n]
		if !ok {
			return 0, fmt.Errorf("%w: unbound provisional id %d", types.ErrRowNotFound, n)
		}
		return db, nil
	}
	for _, f := range schema.References() {
		switch v := row[f.Name].(type) {
		case int64:
			n, err := resolve(v)
			if err != nil {
				return nil, err
			}
			row[f.Name] = n
		case []int64:
			for i, n := range v {
				db, err := resolve(n)
				if err != nil {
					return nil, err
				}
				v[i] = db
			}
		}
	}
	return row, nil
}

func checkUnique(st state, t types.ItemType) error {
	schema := types.MustSchema(t)
	for _, key := range schema.UniqueKeys {
		seen := make(map[string]int64)
		for id, row := range st.rows[t] {
			enc := encodeKey(row, key)
			if other, dup := seen[enc]; dup {
				return fmt.Errorf("%w: %s (%s) held by %d and %d", types.ErrUniqueViolate, t, strings.Join(key, ", "), other, id)
			}
			seen[enc] = id
		}
	}
	return nil
}

// checkReferences rejects a state where a row points at a missing row.
func checkReferences(st state) error {
	for _, t := range types.StandardItemTypes {
		schema := types.MustSchema(t)
		for id, row := range st.rows[t] {
			for _, f := range schema.References() {
				var refs []int64
				switch v := row[f.Name].(type) {
				case int64:
					refs = []int64{v}
				case []int64:
					refs = v
				}
				for _, n := range refs {
					if _, ok := st.rows[f.RefType][n]; !ok {
						return fmt.Errorf("%w: %s %d references missing %s %d", types.ErrRowNotFound, t, id, f.RefType, n)
					}
				}
			}
		}
	}
	return nil
}

func encodeKey(row types.Row, key []string) string {
	parts := make([]string, len(key))
	for i, name := range key {
		switch v := row[name].(type) {
		case []int64:
			parts[i] = types.JoinIDs(v)
		case []byte:
			parts[i] = string(v)
		case time.Time:
			parts[i] = v.UTC().Format(time.RFC3339Nano)
		default:
			parts[i] = fmt.Sprintf("%T:%v", v, v)
		}
	}
	return strings.Join(parts, "\x1f")
}

func matches(row types.Row, f types.Filter) bool {
	for col, want := range f {
		got := row[col]
		if list, ok := want.([]int64); ok {
			n, isInt := types.AsInt(got)
			if !isInt || !contains(list, n) {
				return false
			}
			continue
		}
		if !types.ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

func contains(list []int64, n int64) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}

func cloneRow(row types.Row) types.Row {
	out := make(types.Row, len(row))
	for k, v := range row {
		switch x := v.(type) {
		case []int64:
			out[k] = append([]int64{}, x...)
		case []byte:
			out[k] = bytes.Clone(x)
		default:
			out[k] = v
		}
	}
	return out
}
