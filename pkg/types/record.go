package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Record is the typed field set of one item. Each item type has its own
// struct; Get and Set give generic access by schema field name so the cache
// can cascade, index and persist without knowing the concrete type.
type Record interface {
	ItemType() ItemType
	Get(field string) (any, bool)
	Set(field string, value any) error
	Clone() Record
}

// Fields is a client-facing field map. Keys may name own fields
// ("class_id") or external fields ("entity_class_name").
type Fields map[string]any

type anyValue struct{}

func (anyValue) String() string { return "*" }

// Any is a wildcard value for Find: it matches every value of a field.
var Any any = anyValue{}

// Selector picks one item: an ID handle, a raw integer id, or a unique key.
type Selector interface {
	selector()
}

// RawID selects by integer id, provisional (negative) or persistent.
type RawID int64

// Key selects by unique key. Fields may use external names.
type Key Fields

func (ID) selector()    {}
func (RawID) selector() {}
func (Key) selector()   {}

// NewRecord returns the zero record for t.
func NewRecord(t ItemType) (Record, error) {
	switch t {
	case CommitType:
		return &Commit{}, nil
	case AlternativeType:
		return &Alternative{}, nil
	case ScenarioType:
		return &Scenario{}, nil
	case ScenarioAlternativeType:
		return &ScenarioAlternative{}, nil
	case EntityClassType:
		return &EntityClass{}, nil
	case EntityType:
		return &Entity{}, nil
	case EntityAlternativeType:
		return &EntityAlternative{}, nil
	case ParameterDefinitionType:
		return &ParameterDefinition{}, nil
	case ParameterValueType:
		return &ParameterValue{}, nil
	case MetadataType:
		return &Metadata{}, nil
	case EntityMetadataType:
		return &EntityMetadata{}, nil
	case EntityGroupType:
		return &EntityGroup{}, nil
	case ParameterValueMetadataType:
		return &ParameterValueMetadata{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownItemType, t)
}

func mismatch(field string, want string, v any) error {
	return fmt.Errorf("%w: %s wants %s, got %T", ErrTypeMismatch, field, want, v)
}

func asString(field string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	case []byte:
		return string(s), nil
	}
	return "", mismatch(field, "string", v)
}

// AsInt converts the integer forms produced by JSON, SQL drivers and Go
// literals to int64.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case RawID:
		return int64(n), true
	case ID:
		return n.Value(), !n.IsZero()
	}
	return 0, false
}

func asInt(field string, v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	n, ok := AsInt(v)
	if !ok {
		return 0, mismatch(field, "integer", v)
	}
	return n, nil
}

func asBool(field string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return false, nil
	case int64:
		return b != 0, nil
	case int:
		return b != 0, nil
	case float64:
		return b != 0, nil
	}
	return false, mismatch(field, "bool", v)
}

func asBytes(field string, v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return bytes.Clone(b), nil
	case string:
		return []byte(b), nil
	case nil:
		return nil, nil
	}
	return nil, mismatch(field, "bytes", v)
}

func asTime(field string, v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case nil:
		return time.Time{}, nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s: %v", ErrTypeMismatch, field, err)
		}
		return parsed, nil
	}
	return time.Time{}, mismatch(field, "time", v)
}

func asID(field string, v any) (ID, error) {
	switch id := v.(type) {
	case ID:
		return id, nil
	case nil:
		return ID{}, nil
	}
	return ID{}, mismatch(field, "ID", v)
}

func asIDList(field string, v any) ([]ID, error) {
	switch ids := v.(type) {
	case []ID:
		return append([]ID(nil), ids...), nil
	case nil:
		return nil, nil
	}
	return nil, mismatch(field, "[]ID", v)
}

func cloneIDs(ids []ID) []ID {
	if ids == nil {
		return nil
	}
	return append([]ID(nil), ids...)
}
