package sqlite

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// Persist writes the commit row and applies req.Ops in one transaction.
// The change counter is checked inside the transaction, after the commit
// table is locked, so two writers from the same baseline cannot both pass.
func (s *Store) Persist(req types.PersistRequest) (types.PersistResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return types.PersistResult{}, err
	}

	tx, err := db.Begin()
	if err != nil {
		return types.PersistResult{}, fmt.Errorf("begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	d := s.dialect
	if d.lockCommits != "" {
		if _, err := tx.Exec(d.lockCommits); err != nil {
			return types.PersistResult{}, fmt.Errorf("lock commits: %w", err)
		}
	}
	var counter int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM "commit"`).Scan(&counter); err != nil {
		return types.PersistResult{}, fmt.Errorf("read change counter: %w", err)
	}
	if counter != req.ExpectCounter {
		return types.PersistResult{}, fmt.Errorf("%w: expected %d, store at %d", types.ErrStaleCounter, req.ExpectCounter, counter)
	}

	var commitID int64
	err = tx.QueryRow(d.rebind(`INSERT INTO "commit" (comment, "date", "user") VALUES (?, ?, ?) RETURNING id`),
		req.Commit.Comment, formatTime(req.Commit.Date), req.Commit.User).Scan(&commitID)
	if err != nil {
		return types.PersistResult{}, fmt.Errorf("insert commit: %w", err)
	}

	ids := make(map[int64]int64)
	for i, op := range req.Ops {
		if err := s.apply(tx, op, commitID, ids); err != nil {
			return types.PersistResult{}, fmt.Errorf("op %d (%s %s %d): %w", i, op.Kind, op.Type, op.ID, translate(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return types.PersistResult{}, fmt.Errorf("commit transaction: %w", translate(err))
	}
	return types.PersistResult{CommitID: commitID, IDs: ids, Counter: commitID}, nil
}

func (s *Store) apply(tx *sql.Tx, op types.Operation, commitID int64, ids map[int64]int64) error {
	schema, err := types.SchemaOf(op.Type)
	if err != nil {
		return err
	}
	if schema.ReadOnly {
		return fmt.Errorf("%s is written by commit only", op.Type)
	}
	d := s.dialect
	table := quote(string(op.Type))

	switch op.Kind {
	case types.OpRemove:
		res, err := tx.Exec(d.rebind("DELETE FROM "+table+" WHERE id = ?"), op.ID)
		if err != nil {
			return err
		}
		return expectOne(res)

	case types.OpUpdate:
		cols, args, err := bindRow(schema, op.Row, ids)
		if err != nil {
			return err
		}
		sets := make([]string, 0, len(cols)+1)
		for _, c := range cols {
			sets = append(sets, quote(c)+" = ?")
		}
		sets = append(sets, "commit_id = ?")
		args = append(args, commitID, op.ID)
		res, err := tx.Exec(d.rebind("UPDATE "+table+" SET "+strings.Join(sets, ", ")+" WHERE id = ?"), args...)
		if err != nil {
			return err
		}
		return expectOne(res)

	case types.OpAdd:
		cols, args, err := bindRow(schema, op.Row, ids)
		if err != nil {
			return err
		}
		cols = append(cols, "commit_id")
		args = append(args, commitID)
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id", table, strings.Join(quoteAll(cols), ", "), marks)
		var id int64
		if err := tx.QueryRow(d.rebind(query), args...).Scan(&id); err != nil {
			return err
		}
		if op.ID < 0 {
			ids[op.ID] = id
		}
		return nil
	}
	return fmt.Errorf("unknown operation %s", op.Kind)
}

// bindRow returns the own columns of row with their driver arguments.
// Provisional references are replaced with the ids assigned earlier in the
// same commit.
func bindRow(schema *types.Schema, in types.Row, ids map[int64]int64) ([]string, []any, error) {
	row, err := types.NormalizeRow(schema, in)
	if err != nil {
		return nil, nil, err
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

	cols := schema.Columns()
	args := make([]any, len(cols))
	for i, f := range schema.Fields {
		v := row[f.Name]
		switch f.Kind {
		case types.KindRef:
			if n, ok := v.(int64); ok {
				if n, err = resolve(n); err != nil {
					return nil, nil, err
				}
				v = n
			}
		case types.KindRefList:
			list, _ := v.([]int64)
			bound := make([]int64, len(list))
			for j, n := range list {
				if bound[j], err = resolve(n); err != nil {
					return nil, nil, err
				}
			}
			v = bound
		}
		args[i] = toDB(v)
	}
	return cols, args, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return types.ErrRowNotFound
	}
	return nil
}

func sortedKeys(f types.Filter) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
