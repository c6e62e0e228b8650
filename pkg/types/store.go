package types

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is the store form of an item: own fields plus "id" and, for every type
// but commit, "commit_id". References are int64 ids (negative while
// provisional), reference lists are []int64.
type Row map[string]any

// ID returns the row's "id" column.
func (r Row) ID() int64 {
	n, _ := AsInt(r["id"])
	return n
}

// Filter selects rows by equality on store-form columns. A []int64 value
// matches any of its elements. An empty filter selects every row.
type Filter map[string]any

// OpKind is the kind of a persistence operation.
type OpKind int

const (
	OpRemove OpKind = iota
	OpUpdate
	OpAdd
)

func (k OpKind) String() string {
	switch k {
	case OpRemove:
		return "remove"
	case OpUpdate:
		return "update"
	case OpAdd:
		return "add"
	}
	return "op(" + strconv.Itoa(int(k)) + ")"
}

// Operation is one write within a commit. For OpAdd, ID is the provisional
// id and Row may reference other provisional ids added earlier in the same
// request.
type Operation struct {
	Kind OpKind
	Type ItemType
	ID   int64
	Row  Row
}

// CommitRecord is the commit row written ahead of a commit's operations.
type CommitRecord struct {
	Comment string
	Date    time.Time
	User    string
}

// PersistRequest carries one commit. The store applies it in a single
// transaction and fails with ErrStaleCounter when its change counter no
// longer equals ExpectCounter.
type PersistRequest struct {
	Commit        CommitRecord
	ExpectCounter int64
	Ops           []Operation
}

// PersistResult reports the commit id, the store ids assigned to provisional
// ids, and the change counter after the commit.
type PersistResult struct {
	CommitID int64
	IDs      map[int64]int64
	Counter  int64
}

// Store is the relational backend consumed by a Mapping.
type Store interface {
	// Fetch returns the rows of t matching f, ordered by id.
	Fetch(t ItemType, f Filter) ([]Row, error)

	// ChangeCounter returns a value that increases with every commit.
	ChangeCounter() (int64, error)

	// Persist applies a commit atomically.
	Persist(req PersistRequest) (PersistResult, error)

	// Close releases the connection. Idempotent.
	Close() error
}

// ToRow returns the store form of rec. References that are still
// provisional keep their negative value.
func ToRow(s *Schema, rec Record) Row {
	row := make(Row, len(s.Fields))
	for _, f := range s.Fields {
		v, _ := rec.Get(f.Name)
		row[f.Name] = toStoreValue(f, v)
	}
	return row
}

func toStoreValue(f FieldSpec, v any) any {
	switch f.Kind {
	case KindRef:
		id, _ := v.(ID)
		if id.IsZero() {
			return nil
		}
		return id.Value()
	case KindRefList:
		ids, _ := v.([]ID)
		out := make([]int64, len(ids))
		for i, id := range ids {
			out[i] = id.Value()
		}
		return out
	case KindBytes:
		b, _ := v.([]byte)
		return bytes.Clone(b)
	}
	return v
}

// NormalizeValue converts a driver or JSON value to the canonical store form
// of kind: string, int64, bool, []byte, time.Time, int64 or []int64.
func NormalizeValue(f FieldSpec, v any) (any, error) {
	if v == nil {
		switch f.Kind {
		case KindRefList:
			return []int64{}, nil
		case KindBool:
			return false, nil
		case KindString:
			return "", nil
		}
		return nil, nil
	}
	switch f.Kind {
	case KindString:
		return asString(f.Name, v)
	case KindInt, KindRef:
		return asInt(f.Name, v)
	case KindBool:
		return asBool(f.Name, v)
	case KindBytes:
		return asBytes(f.Name, v)
	case KindTime:
		return asTime(f.Name, v)
	case KindRefList:
		return asIntList(f.Name, v)
	}
	return nil, fmt.Errorf("%w: %s has unknown kind %d", ErrTypeMismatch, f.Name, f.Kind)
}

func asIntList(field string, v any) ([]int64, error) {
	switch l := v.(type) {
	case []int64:
		return append([]int64{}, l...), nil
	case []any:
		out := make([]int64, 0, len(l))
		for _, e := range l {
			n, ok := AsInt(e)
			if !ok {
				return nil, mismatch(field, "integer list", v)
			}
			out = append(out, n)
		}
		return out, nil
	case []byte:
		return asIntList(field, string(l))
	case string:
		out := []int64{}
		if l == "" {
			return out, nil
		}
		for _, part := range strings.Split(l, ",") {
			n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrTypeMismatch, field, err)
			}
			out = append(out, n)
		}
		return out, nil
	}
	return nil, mismatch(field, "integer list", v)
}

// JoinIDs renders an id list in the comma-separated column form.
func JoinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// NormalizeRow returns a copy of row with every own field and the id columns
// in canonical form. Unknown columns are dropped.
func NormalizeRow(s *Schema, row Row) (Row, error) {
	out := make(Row, len(s.Fields)+2)
	for _, col := range []string{"id", "commit_id"} {
		if v, ok := row[col]; ok && v != nil {
			n, ok := AsInt(v)
			if !ok {
				return nil, mismatch(col, "integer", v)
			}
			out[col] = n
		}
	}
	for _, f := range s.Fields {
		v, err := NormalizeValue(f, row[f.Name])
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

// SameFields reports whether a and b agree on every own field of s.
func SameFields(s *Schema, a, b Row) bool {
	for _, f := range s.Fields {
		if !ValuesEqual(a[f.Name], b[f.Name]) {
			return false
		}
	}
	return true
}

// ValuesEqual compares two field values in client or store form.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return isEmpty(a) && isEmpty(b)
	}
	switch av := a.(type) {
	case ID:
		if bv, ok := b.(ID); ok {
			return av == bv || (!av.IsZero() && av.Value() == bv.Value())
		}
		n, ok := AsInt(b)
		return ok && av.Value() == n
	case []ID:
		switch bv := b.(type) {
		case []ID:
			if len(av) != len(bv) {
				return false
			}
			for i := range av {
				if !ValuesEqual(av[i], bv[i]) {
					return false
				}
			}
			return true
		case []int64:
			if len(av) != len(bv) {
				return false
			}
			for i := range av {
				if av[i].Value() != bv[i] {
					return false
				}
			}
			return true
		}
		ids := make([]int64, len(av))
		for i, id := range av {
			ids[i] = id.Value()
		}
		return ValuesEqual(ids, b)
	case []int64:
		if _, ok := b.([]ID); ok {
			return ValuesEqual(b, a)
		}
		bv, err := asIntList("", b)
		if err != nil || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case []byte:
		bv, err := asBytes("", b)
		return err == nil && bytes.Equal(av, bv)
	case time.Time:
		bv, err := asTime("", b)
		return err == nil && av.Equal(bv)
	case string:
		switch bv := b.(type) {
		case string:
			return av == bv
		case []byte:
			return av == string(bv)
		}
		return false
	case []string:
		bo, ok := anySlice(b)
		if !ok || len(av) != len(bo) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bo[i]) {
				return false
			}
		}
		return true
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	if an, ok := AsInt(a); ok {
		if _, isID := b.(ID); isID {
			return ValuesEqual(b, a)
		}
		bn, ok := AsInt(b)
		return ok && an == bn
	}
	if ao, ok := anySlice(a); ok {
		bo, ok := anySlice(b)
		if !ok || len(ao) != len(bo) {
			return false
		}
		for i := range ao {
			if !ValuesEqual(ao[i], bo[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

func anySlice(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []byte:
		return len(x) == 0
	case []int64:
		return len(x) == 0
	case []ID:
		return len(x) == 0
	case string:
		return x == ""
	case ID:
		return x.IsZero()
	}
	return false
}
