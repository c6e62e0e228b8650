// Package sqlite implements types.Store over a relational database: SQLite
// through modernc.org/sqlite by default, Postgres through pgx. It also
// dumps a store to JSONL files and loads such a dump back.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

var _ types.Store = (*Store)(nil)

// DBFile is the database file created in the data directory.
const DBFile = "entitymap.db"

// Seed values written into an empty database.
const (
	SeedComment = "Create the database"
	SeedUser    = "entitymap"
)

// Store is a types.Store over database/sql. The connection opens on first
// use; the schema is created and seeded at that point when missing.
type Store struct {
	mu      sync.Mutex
	dialect dialect
	dsn     string
	db      *sql.DB
	closed  bool
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for schema and seed messages.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the timestamp source of the seed commit.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func newStore(d dialect, dsn string, opts []Option) *Store {
	s := &Store{
		dialect: d,
		dsn:     dsn,
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSQLite returns a store over the SQLite database at path.
func NewSQLite(path string, opts ...Option) *Store {
	return newStore(sqliteDialect, path, opts)
}

// NewPostgres returns a store over the Postgres database at dsn.
func NewPostgres(dsn string, opts ...Option) *Store {
	return newStore(postgresDialect, dsn, opts)
}

// Open returns the store selected by cfg. The memory backend is not handled
// here.
func Open(cfg types.Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case types.BackendSQLite:
		dir := cfg.DataDir
		if dir == "" {
			dir = "."
		}
		return NewSQLite(filepath.Join(dir, DBFile), opts...), nil
	case types.BackendPostgres:
		return NewPostgres(cfg.DSN, opts...), nil
	}
	return nil, fmt.Errorf("%w: %q", types.ErrBackendUnknown, cfg.Backend)
}

// conn opens the database on first use. The caller holds s.mu.
func (s *Store) conn() (*sql.DB, error) {
	if s.closed {
		return nil, types.ErrStoreClosed
	}
	if s.db != nil {
		return s.db, nil
	}

	dsn := s.dsn
	if s.dialect.name == sqliteDialect.name {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = "file:" + dsn + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	}
	db, err := sql.Open(s.dialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.dialect.name, err)
	}
	if s.dialect.name == sqliteDialect.name {
		db.SetMaxOpenConns(1)
	}
	if err := s.migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	s.db = db
	return db, nil
}

// migrate creates missing tables and seeds an empty database with the
// first commit and the Base alternative.
func (s *Store) migrate(db *sql.DB) error {
	stmts, err := s.dialect.ddl()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}

	var commits int64
	if err := tx.QueryRow(`SELECT COUNT(*) FROM "commit"`).Scan(&commits); err != nil {
		return fmt.Errorf("count commits: %w", err)
	}
	if commits == 0 {
		d := s.dialect
		if _, err := tx.Exec(d.rebind(`INSERT INTO "commit" (id, comment, "date", "user") VALUES (1, ?, ?, ?)`),
			SeedComment, formatTime(s.now()), SeedUser); err != nil {
			return fmt.Errorf("seed commit: %w", err)
		}
		if _, err := tx.Exec(d.rebind(`INSERT INTO alternative (id, commit_id, name, description) VALUES (?, 1, ?, ?)`),
			types.BaseAlternativeID, types.BaseAlternativeName, "Base alternative"); err != nil {
			return fmt.Errorf("seed base alternative: %w", err)
		}
		if err := s.resetSequences(tx); err != nil {
			return err
		}
		s.logger.Info("created database", "backend", d.name)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}

func (s *Store) resetSequences(tx *sql.Tx) error {
	for _, t := range types.StandardItemTypes {
		stmt := s.dialect.resetSequence(string(t))
		if stmt == "" {
			return nil
		}
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("reset %s id sequence: %w", t, err)
		}
	}
	return nil
}

// Fetch returns the rows of t matching f, ordered by id.
func (s *Store) Fetch(t types.ItemType, f types.Filter) ([]types.Row, error) {
	schema, err := types.SchemaOf(t)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	return s.query(db, schema, f)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func (s *Store) query(q querier, schema *types.Schema, f types.Filter) ([]types.Row, error) {
	cols := selectColumns(schema)
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoteAll(cols), ", "), quote(string(schema.Type)))

	var where []string
	var args []any
	for _, col := range sortedKeys(f) {
		if !isColumn(schema, col) {
			return nil, fmt.Errorf("%w: %s.%s", types.ErrUnknownField, schema.Type, col)
		}
		if list, ok := f[col].([]int64); ok {
			if len(list) == 0 {
				return nil, nil
			}
			marks := make([]string, len(list))
			for i, n := range list {
				marks[i] = "?"
				args = append(args, n)
			}
			where = append(where, fmt.Sprintf("%s IN (%s)", quote(col), strings.Join(marks, ", ")))
			continue
		}
		v := f[col]
		if v == nil {
			where = append(where, quote(col)+" IS NULL")
			continue
		}
		where = append(where, quote(col)+" = ?")
		args = append(args, toDB(v))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := q.Query(s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", schema.Type, err)
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", schema.Type, err)
		}
		raw := make(types.Row, len(cols))
		for i, col := range cols {
			raw[col] = vals[i]
		}
		row, err := types.NormalizeRow(schema, raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", schema.Type, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", schema.Type, err)
	}
	return out, nil
}

// ChangeCounter returns the id of the latest commit.
func (s *Store) ChangeCounter() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM "commit"`).Scan(&n); err != nil {
		return 0, fmt.Errorf("read change counter: %w", err)
	}
	return n, nil
}

// Close releases the connection. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func selectColumns(s *types.Schema) []string {
	cols := []string{"id"}
	if s.Type != types.CommitType {
		cols = append(cols, "commit_id")
	}
	return append(cols, s.Columns()...)
}

func isColumn(s *types.Schema, col string) bool {
	if col == "id" || (col == "commit_id" && s.Type != types.CommitType) {
		return true
	}
	_, ok := s.Field(col)
	return ok
}

// toDB converts a store-form value to a driver argument.
func toDB(v any) any {
	switch x := v.(type) {
	case time.Time:
		return formatTime(x)
	case []int64:
		return types.JoinIDs(x)
	case types.ID:
		return x.Value()
	}
	return v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func quoteAll(idents []string) []string {
	out := make([]string, len(idents))
	for i, id := range idents {
		out[i] = quote(id)
	}
	return out
}
