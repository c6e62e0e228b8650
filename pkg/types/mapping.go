package types

import "strings"

// Item is a live view of one mapped item. Its values change as the mapping
// is updated, committed or rolled back.
type Item interface {
	Type() ItemType
	ID() ID
	Status() Status
	Valid() bool
	CommitID() int64

	// Get returns an own or external field in client form.
	Get(field string) (any, bool)

	// Record returns a copy of the own fields.
	Record() Record

	// Fields returns own and external fields in client form, references
	// rendered as integer ids.
	Fields() Fields
}

// Mapping is the transactional in-memory view over a Store. A Mapping is
// not safe for concurrent use; callers serialize access.
type Mapping interface {
	// Add validates fields and inserts a new item with a provisional ID.
	Add(t ItemType, fields Fields) (Item, error)

	// Update merges fields into a valid item.
	Update(t ItemType, sel Selector, fields Fields) (Item, error)

	// Remove invalidates an item and its dependents, returning them in
	// removal order.
	Remove(t ItemType, sel Selector) ([]Item, error)

	// AddUpdate updates the item holding the unique key given in fields, or
	// adds one when there is none. added reports which happened.
	AddUpdate(t ItemType, fields Fields) (item Item, added bool, err error)

	// Purge removes every item of t and their dependents.
	Purge(t ItemType) ([]Item, error)

	// Restore revalidates a removed item and the dependents it took down.
	Restore(t ItemType, sel Selector) ([]Item, error)

	// Get returns the valid item selected by sel.
	Get(t ItemType, sel Selector) (Item, error)

	// Find returns valid items whose fields equal every entry of where. A
	// value of Any matches everything; an empty where returns all items.
	Find(t ItemType, where Fields) ([]Item, error)

	// FindWhere returns valid items for which expression evaluates to true.
	FindWhere(t ItemType, expression string) ([]Item, error)

	// FetchAll loads every row of the given types, or of all types when
	// none are given.
	FetchAll(types ...ItemType) error

	// Commit persists all dirty items and returns the commit id.
	Commit(message string) (int64, error)

	// Rollback discards every uncommitted change.
	Rollback() error

	// Reset drops the cache, uncommitted changes included.
	Reset() error

	// Dirty reports whether there are uncommitted changes.
	Dirty() bool

	// HasExternalCommits reports whether another writer committed since the
	// mapping last synchronized with the store.
	HasExternalCommits() (bool, error)

	// Close releases the store. Idempotent.
	Close() error
}

// NameFromElements derives the default name of a multi-dimensional entity
// or class from the names of its elements or dimensions.
func NameFromElements(names []string) string {
	if len(names) == 1 {
		return names[0] + "__"
	}
	return strings.Join(names, "__")
}
