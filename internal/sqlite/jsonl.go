package sqlite

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// FileName returns the snapshot file that holds the rows of t.
func FileName(t types.ItemType) string { return string(t) + ".jsonl" }

// readJSONL reads a JSONL file and returns each non-empty, parseable line.
// Malformed lines are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		records = append(records, json.RawMessage(bytes.Clone(line)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL writes records to path through a synced temp file and a
// rename, so readers never see a partial file.
func writeJSONL(path string, records []json.RawMessage) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", step, err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail("writing record", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// Dump writes every row of st to dir, one FileName(t) per item type. Bytes
// columns are base64 encoded, times are RFC 3339 and reference lists are
// arrays of ids.
func Dump(st types.Store, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dump dir: %w", err)
	}
	for _, t := range types.StandardItemTypes {
		rows, err := st.Fetch(t, nil)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", t, err)
		}
		records := make([]json.RawMessage, 0, len(rows))
		for _, row := range rows {
			b, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("encode %s %d: %w", t, row.ID(), err)
			}
			records = append(records, b)
		}
		if err := writeJSONL(filepath.Join(dir, FileName(t)), records); err != nil {
			return fmt.Errorf("write %s: %w", FileName(t), err)
		}
	}
	return nil
}

// Load inserts the snapshot in dir into s inside one transaction and
// returns the number of rows inserted. Rows whose id is already present
// are skipped, which covers the seed commit and the Base alternative.
// Missing files and malformed lines are skipped too.
func Load(s *Store, dir string) (int, error) {
	order, err := types.DependencyOrder(types.Schemas())
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin load transaction: %w", err)
	}
	defer tx.Rollback()

	loaded := 0
	for _, t := range order {
		schema := types.MustSchema(t)
		records, err := readJSONL(filepath.Join(dir, FileName(t)))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}

		cols := selectColumns(schema)
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		stmt := s.dialect.rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
			quote(string(t)), strings.Join(quoteAll(cols), ", "), marks))

		for _, rec := range records {
			row, err := decodeRecord(schema, rec)
			if err != nil {
				s.logger.Warn("skipping snapshot record", "type", t, "error", err)
				continue
			}
			args := make([]any, len(cols))
			for i, col := range cols {
				args[i] = toDB(row[col])
			}
			res, err := tx.Exec(stmt, args...)
			if err != nil {
				return 0, fmt.Errorf("insert %s %d: %w", t, row.ID(), translate(err))
			}
			if n, _ := res.RowsAffected(); n > 0 {
				loaded++
			}
		}
	}
	if err := s.resetSequences(tx); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit load transaction: %w", err)
	}
	s.logger.Info("loaded snapshot", "dir", dir, "rows", loaded)
	return loaded, nil
}

func decodeRecord(schema *types.Schema, rec json.RawMessage) (types.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(rec))
	dec.UseNumber()
	var raw types.Row
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	for _, f := range schema.Fields {
		if f.Kind != types.KindBytes {
			continue
		}
		if s, ok := raw[f.Name].(string); ok {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			raw[f.Name] = b
		}
	}
	row, err := types.NormalizeRow(schema, raw)
	if err != nil {
		return nil, err
	}
	if row.ID() <= 0 {
		return nil, fmt.Errorf("%w: missing id", types.ErrInvalidID)
	}
	if _, ok := row["commit_id"]; !ok && schema.Type != types.CommitType {
		return nil, fmt.Errorf("%w: missing commit_id", types.ErrInvalidID)
	}
	return row, nil
}
