package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

var kindNames = map[types.FieldKind]string{
	types.KindString:  "string",
	types.KindInt:     "int",
	types.KindBool:    "bool",
	types.KindBytes:   "bytes",
	types.KindTime:    "time",
	types.KindRef:     "ref",
	types.KindRefList: "ref list",
}

type fieldView struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Ref      string `json:"ref,omitempty"`
	Required bool   `json:"required,omitempty"`
	Default  any    `json:"default,omitempty"`
}

type typeView struct {
	Type       string      `json:"type"`
	Fields     []fieldView `json:"fields"`
	External   []string    `json:"external,omitempty"`
	UniqueKeys [][]string  `json:"unique_keys"`
	ReadOnly   bool        `json:"read_only,omitempty"`
}

func describe(s *types.Schema) typeView {
	v := typeView{Type: string(s.Type), UniqueKeys: s.UniqueKeys, ReadOnly: s.ReadOnly}
	for _, f := range s.Fields {
		v.Fields = append(v.Fields, fieldView{
			Name:     f.Name,
			Kind:     kindNames[f.Kind],
			Ref:      string(f.RefType),
			Required: f.Required,
			Default:  f.Default,
		})
	}
	for _, e := range s.External {
		v.External = append(v.External, e.Name)
	}
	return v
}

func newTypesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the item types with their fields and unique keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			views := make([]typeView, 0, len(types.StandardItemTypes))
			for _, s := range types.Schemas() {
				views = append(views, describe(s))
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			w := cmd.OutOrStdout()
			for _, v := range views {
				keys := make([]string, len(v.UniqueKeys))
				for i, k := range v.UniqueKeys {
					keys[i] = "(" + strings.Join(k, ", ") + ")"
				}
				fmt.Fprintf(w, "%s  unique %s\n", v.Type, strings.Join(keys, " "))
				for _, f := range v.Fields {
					kind := f.Kind
					if f.Ref != "" {
						kind += " -> " + f.Ref
					}
					if f.Required {
						kind += ", required"
					}
					fmt.Fprintf(w, "    %-24s %s\n", f.Name, kind)
				}
				if len(v.External) > 0 {
					fmt.Fprintf(w, "    external: %s\n", strings.Join(v.External, ", "))
				}
			}
			return nil
		},
	}
}
