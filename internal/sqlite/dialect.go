package sqlite

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// dialect holds what differs between the SQL engines behind a Store.
type dialect struct {
	name   string
	driver string

	idColumn  string
	intType   string
	boolType  string
	bytesType string

	// lockCommits serializes writers inside Persist; empty when the engine
	// already holds a database-wide write lock.
	lockCommits string

	numbered bool // $1, $2 placeholders instead of ?
}

var (
	sqliteDialect = dialect{
		name:      "sqlite",
		driver:    "sqlite",
		idColumn:  "INTEGER PRIMARY KEY AUTOINCREMENT",
		intType:   "INTEGER",
		boolType:  "INTEGER",
		bytesType: "BLOB",
	}
	postgresDialect = dialect{
		name:        "postgres",
		driver:      "pgx",
		idColumn:    "BIGSERIAL PRIMARY KEY",
		intType:     "BIGINT",
		boolType:    "BOOLEAN",
		bytesType:   "BYTEA",
		lockCommits: `LOCK TABLE "commit" IN EXCLUSIVE MODE`,
		numbered:    true,
	}
)

// rebind rewrites ? placeholders for engines that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// resetSequence returns the statement that moves the id sequence of table
// past rows inserted with explicit ids, or "" when the engine tracks that
// itself.
func (d dialect) resetSequence(table string) string {
	if d.name != postgresDialect.name {
		return ""
	}
	return fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 0) + 1, false)`,
		quote(table), quote(table))
}

// translate maps engine constraint errors to the store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var lite *msqlite.Error
	if errors.As(err, &lite) {
		code := lite.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", types.ErrUniqueViolate, err)
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", types.ErrRowNotFound, err)
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			// Without extended result codes only the message tells them apart.
			msg := lite.Error()
			if strings.Contains(msg, "UNIQUE") {
				return fmt.Errorf("%w: %v", types.ErrUniqueViolate, err)
			}
			if strings.Contains(msg, "FOREIGN KEY") {
				return fmt.Errorf("%w: %v", types.ErrRowNotFound, err)
			}
		}
	}
	var pg *pgconn.PgError
	if errors.As(err, &pg) {
		switch pg.Code {
		case "23505":
			return fmt.Errorf("%w: %v", types.ErrUniqueViolate, err)
		case "23503":
			return fmt.Errorf("%w: %v", types.ErrRowNotFound, err)
		}
	}
	return err
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
