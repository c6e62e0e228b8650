package types

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// handle is the shared identity cell behind an ID. Every record that refers
// to an item holds a copy of the same ID, so binding the handle once makes
// the persistent value visible everywhere.
type handle struct {
	itemType ItemType
	temp     int64
	value    int64
}

// ID identifies a mapped item. It is either provisional (negative, allocated
// by a mapping) or persistent (positive, assigned by the store). IDs compare
// by handle: two IDs are == only if they were copied from the same handle.
// The zero ID refers to nothing.
type ID struct {
	h *handle
}

// NewProvisionalID allocates a handle for an item not yet in the store.
// temp must be negative.
func NewProvisionalID(t ItemType, temp int64) ID {
	if temp >= 0 {
		panic(fmt.Sprintf("provisional id must be negative, got %d", temp))
	}
	return ID{h: &handle{itemType: t, temp: temp, value: temp}}
}

// NewPersistentID allocates a handle for a row that already exists in the
// store.
func NewPersistentID(t ItemType, value int64) ID {
	if value <= 0 {
		panic(fmt.Sprintf("persistent id must be positive, got %d", value))
	}
	return ID{h: &handle{itemType: t, value: value}}
}

// IsZero reports whether id refers to nothing.
func (id ID) IsZero() bool { return id.h == nil }

// Type is the item type of the referenced item.
func (id ID) Type() ItemType {
	if id.h == nil {
		return ""
	}
	return id.h.itemType
}

// Value returns the current integer value: the store id once persistent,
// otherwise the negative provisional id.
func (id ID) Value() int64 {
	if id.h == nil {
		return 0
	}
	return id.h.value
}

// Temp returns the provisional value the handle was created with, or 0 for
// handles created from store rows.
func (id ID) Temp() int64 {
	if id.h == nil {
		return 0
	}
	return id.h.temp
}

// Provisional reports whether the item has not been persisted yet.
func (id ID) Provisional() bool { return id.h != nil && id.h.value < 0 }

// Persistent reports whether the item has a store id.
func (id ID) Persistent() bool { return id.h != nil && id.h.value > 0 }

// Bind records the store id assigned to a provisional item.
func (id ID) Bind(value int64) error {
	if id.h == nil || value <= 0 {
		return fmt.Errorf("%w: bind %d", ErrInvalidID, value)
	}
	if id.h.value > 0 {
		return fmt.Errorf("%w: %s %d", ErrAlreadyBound, id.h.itemType, id.h.value)
	}
	id.h.value = value
	return nil
}

// key is stable across Bind, which makes it usable inside unique-key
// encodings.
func (id ID) key() string {
	if id.h == nil {
		return "nil"
	}
	if id.h.temp != 0 {
		return "t" + strconv.FormatInt(id.h.temp, 10)
	}
	return "d" + strconv.FormatInt(id.h.value, 10)
}

// Key returns a string that identifies the handle for the lifetime of the
// mapping that issued it.
func (id ID) Key() string { return id.key() }

func (id ID) String() string {
	if id.h == nil {
		return "<nil>"
	}
	return strconv.FormatInt(id.h.value, 10)
}

// MarshalJSON encodes the current integer value.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.h == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.h.value)
}
