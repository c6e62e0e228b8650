package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Cache errors. The structured errors below unwrap to these so callers can
// test with errors.Is.
var (
	ErrIntegrity           = errors.New("integrity error")
	ErrUnresolvedReference = errors.New("unresolved reference")
	ErrRestoreBlocked      = errors.New("restore blocked")
	ErrConflict            = errors.New("conflict with backing store")
	ErrNothingToCommit     = errors.New("nothing to commit")
	ErrNothingToRollback   = errors.New("nothing to rollback")
	ErrDependencyCycle     = errors.New("item type dependency cycle")
	ErrMappingClosed       = errors.New("mapping is closed")
	ErrInvalidExpression   = errors.New("invalid find expression")
)

// Store errors.
var (
	ErrStaleCounter  = errors.New("change counter advanced during persist")
	ErrStoreClosed   = errors.New("store is closed")
	ErrRowNotFound   = errors.New("row not found")
	ErrUniqueViolate = errors.New("unique constraint violated")
)

// Record and identifier errors.
var (
	ErrUnknownItemType = errors.New("unknown item type")
	ErrUnknownField    = errors.New("unknown field")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrInvalidID       = errors.New("invalid identifier")
	ErrAlreadyBound    = errors.New("identifier is already persistent")
)

// IntegrityError reports a local validation failure: a unique-key collision,
// a dangling reference, a missing required field or a protected item. It is
// raised before anything reaches the backing store.
type IntegrityError struct {
	Type   ItemType
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both ErrIntegrity and the underlying cause.
func (e *IntegrityError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrIntegrity}
	}
	return []error{ErrIntegrity, e.Err}
}

// UnresolvedReferenceError reports an identifier or unique key that does not
// match any item of the given type, neither cached nor in the store.
type UnresolvedReferenceError struct {
	Type ItemType
	Ref  string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Type, e.Ref, ErrUnresolvedReference)
}

func (e *UnresolvedReferenceError) Unwrap() error { return ErrUnresolvedReference }

// RestoreBlockedError names the invalid dependencies that keep an item
// removed.
type RestoreBlockedError struct {
	Type      ItemType
	ID        int64
	BlockedBy []string
}

func (e *RestoreBlockedError) Error() string {
	return fmt.Sprintf("%s %d: %s by %s", e.Type, e.ID, ErrRestoreBlocked, strings.Join(e.BlockedBy, ", "))
}

func (e *RestoreBlockedError) Unwrap() error { return ErrRestoreBlocked }

// Conflict describes one dirty item (or one of its referents) whose backing
// row diverged from the version the mapping last saw.
type Conflict struct {
	Type   ItemType
	ID     int64
	Key    map[string]any
	Local  Row
	Remote Row
	Reason string
}

func (c Conflict) String() string {
	keys := make([]string, 0, len(c.Key))
	for k := range c.Key {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c.Key[k]))
	}
	return fmt.Sprintf("%s %d (%s): %s", c.Type, c.ID, strings.Join(parts, ", "), c.Reason)
}

// ConflictError aborts a commit. Nothing was written to the store.
type ConflictError struct {
	Conflicts []Conflict
	Err       error
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s", ErrConflict, e.Err)
		}
		return ErrConflict.Error()
	}
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, c.String())
	}
	return fmt.Sprintf("%s: %s", ErrConflict, strings.Join(parts, "; "))
}

func (e *ConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConflict}
	}
	return []error{ErrConflict, e.Err}
}
