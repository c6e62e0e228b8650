package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// view returns the fields of it ready for display. Raw bytes, which hold
// encoded parameter values, are shown as text.
func view(it types.Item) map[string]any {
	out := make(map[string]any)
	for k, v := range it.Fields() {
		switch x := v.(type) {
		case []byte:
			out[k] = string(x)
		case time.Time:
			out[k] = x.UTC().Format(time.RFC3339)
		default:
			out[k] = x
		}
	}
	out["type"] = string(it.Type())
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printItems writes items as a JSON array, or one line per item.
func (a *app) printItems(w io.Writer, items []types.Item) error {
	if a.flags.jsonMode {
		views := make([]map[string]any, len(items))
		for i, it := range items {
			views[i] = view(it)
		}
		return writeJSON(w, views)
	}
	for _, it := range items {
		if _, err := fmt.Fprintln(w, line(it)); err != nil {
			return err
		}
	}
	return nil
}

// printItem writes a single item as a JSON object, or one line.
func (a *app) printItem(w io.Writer, it types.Item) error {
	if a.flags.jsonMode {
		return writeJSON(w, view(it))
	}
	_, err := fmt.Fprintln(w, line(it))
	return err
}

func line(it types.Item) string {
	fields := view(it)
	delete(fields, "type")
	delete(fields, "id")
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %d", it.Type(), it.ID().Value())
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, render(fields[k]))
	}
	return b.String()
}

func render(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		if x == "" || strings.ContainsAny(x, " \t\n\"") {
			return strconv.Quote(x)
		}
		return x
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(bytes.TrimSpace(b))
}

// parseFields decodes a JSON object of field values.
func parseFields(arg string) (types.Fields, error) {
	dec := json.NewDecoder(strings.NewReader(arg))
	dec.UseNumber()
	var f types.Fields
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: fields must be a JSON object: %v", errUsage, err)
	}
	return f, nil
}

// parseSelector reads an integer id or a JSON object holding a unique key.
func parseSelector(arg string) (types.Selector, error) {
	if n, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return types.RawID(n), nil
	}
	f, err := parseFields(arg)
	if err != nil {
		return nil, fmt.Errorf("%w: selector must be an id or a JSON unique key", errUsage)
	}
	return types.Key(f), nil
}
