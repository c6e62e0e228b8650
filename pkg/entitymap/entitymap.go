// Package entitymap opens a mapped-item cache over one of the supported
// backends.
//
// Example:
//
//	m, err := entitymap.Open(types.Config{Backend: types.BackendSQLite, DataDir: ".entitymap-db"})
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//	_, err = m.Add(types.EntityClassType, types.Fields{"name": "fish"})
//	...
//	_, err = m.Commit("add fish")
package entitymap

import (
	"fmt"
	"log/slog"

	"github.com/mesh-intelligence/entitymap/internal/mapping"
	"github.com/mesh-intelligence/entitymap/internal/memstore"
	"github.com/mesh-intelligence/entitymap/internal/sqlite"
	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// Version is the release of this module.
const Version = "0.3.0"

// ModulePath is the import path of this module.
const ModulePath = "github.com/mesh-intelligence/entitymap"

// Observer receives cache events: fetches, commits, conflicts and
// rollbacks.
type Observer interface {
	Fetched(t types.ItemType, rows int)
	Committed(ops []types.Operation)
	Conflicted(conflicts int)
	RolledBack()
}

type options struct {
	logger   *slog.Logger
	observer Observer
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger shared by the store and the mapping.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver registers an observer on the mapping.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// OpenStore returns the backing store selected by cfg without a cache in
// front of it.
func OpenStore(cfg types.Config, opts ...Option) (types.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := collect(opts)
	if cfg.Backend == types.BackendMemory {
		return memstore.New(), nil
	}
	return sqlite.Open(cfg, sqlite.WithLogger(o.logger))
}

// Open returns a mapping over the store selected by cfg. Commits are
// recorded under cfg.User, or a per-session name when it is empty.
func Open(cfg types.Config, opts ...Option) (types.Mapping, error) {
	store, err := OpenStore(cfg, opts...)
	if err != nil {
		return nil, err
	}
	o := collect(opts)
	mopts := []mapping.Option{mapping.WithLogger(o.logger)}
	if o.observer != nil {
		mopts = append(mopts, mapping.WithObserver(o.observer))
	}
	if cfg.User != "" {
		mopts = append(mopts, mapping.WithUser(cfg.User))
	}
	m, err := mapping.New(store, mopts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	return m, nil
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
