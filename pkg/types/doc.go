// Package types defines the item types, identifiers, records, schemas and
// error values shared by the entitymap cache and its backing stores.
//
// A Mapping is the in-memory view clients read and mutate; a Store is the
// relational backend the mapping fetches from and commits to. Both are
// interfaces here so that the cache in internal/mapping can run against the
// SQL store, the in-memory store, or a test double.
package types
