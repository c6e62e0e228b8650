package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

// withMapping opens the mapping, runs fn and closes the mapping.
func (a *app) withMapping(fn func(m types.Mapping) error) error {
	m, err := a.openMapping()
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

// commit persists the pending change and reports the commit id. A failed
// commit is rolled back so the mapping is left clean.
func (a *app) commit(cmd *cobra.Command, m types.Mapping, message string) error {
	id, err := m.Commit(message)
	if err != nil {
		if rbErr := m.Rollback(); rbErr != nil {
			a.logger.Debug("rollback after failed commit", "error", rbErr)
		}
		return fail(fmt.Errorf("commit: %w", err))
	}
	if !a.flags.jsonMode {
		fmt.Fprintf(cmd.ErrOrStderr(), "committed %d\n", id)
	}
	return nil
}

func addMessageFlag(cmd *cobra.Command, message *string) {
	cmd.Flags().StringVarP(message, "message", "m", "", "commit message (required)")
	_ = cmd.MarkFlagRequired("message")
}

func newAddCmd(a *app) *cobra.Command {
	var message string
	var update bool
	cmd := &cobra.Command{
		Use:   "add <type> <json>",
		Short: "Add an item and commit it",
		Long: `Add validates the fields, adds the item and commits it.

References may be given by name through external fields. With --update an
item already holding the same unique key is updated instead.

Example:
  entitymap add entity_class '{"name": "fish"}' -m "add fish"
  entitymap add entity '{"entity_class_name": "fish", "name": "Nemo"}' -m "add Nemo"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := types.ParseItemType(args[0])
			if err != nil {
				return err
			}
			fields, err := parseFields(args[1])
			if err != nil {
				return err
			}
			return a.withMapping(func(m types.Mapping) error {
				var it types.Item
				if update {
					it, _, err = m.AddUpdate(t, fields)
				} else {
					it, err = m.Add(t, fields)
				}
				if err != nil {
					return fail(err)
				}
				if !m.Dirty() {
					return a.printItem(cmd.OutOrStdout(), it)
				}
				if err := a.commit(cmd, m, message); err != nil {
					return err
				}
				return a.printItem(cmd.OutOrStdout(), it)
			})
		},
	}
	addMessageFlag(cmd, &message)
	cmd.Flags().BoolVar(&update, "update", false, "update the item holding the same unique key if there is one")
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "update <type> <id|key> <json>",
		Short: "Update an item and commit it",
		Example: `  entitymap update entity 7 '{"description": "clownfish"}' -m "describe"
  entitymap update alternative '{"name": "low"}' '{"name": "lowest"}' -m "rename"`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := types.ParseItemType(args[0])
			if err != nil {
				return err
			}
			sel, err := parseSelector(args[1])
			if err != nil {
				return err
			}
			fields, err := parseFields(args[2])
			if err != nil {
				return err
			}
			return a.withMapping(func(m types.Mapping) error {
				it, err := m.Update(t, sel, fields)
				if err != nil {
					return fail(err)
				}
				if !m.Dirty() {
					return a.printItem(cmd.OutOrStdout(), it)
				}
				if err := a.commit(cmd, m, message); err != nil {
					return err
				}
				return a.printItem(cmd.OutOrStdout(), it)
			})
		},
	}
	addMessageFlag(cmd, &message)
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "remove <type> <id|key>",
		Short: "Remove an item and its dependents and commit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := types.ParseItemType(args[0])
			if err != nil {
				return err
			}
			sel, err := parseSelector(args[1])
			if err != nil {
				return err
			}
			return a.withMapping(func(m types.Mapping) error {
				removed, err := m.Remove(t, sel)
				if err != nil {
					return fail(err)
				}
				if err := a.printItems(cmd.OutOrStdout(), removed); err != nil {
					return err
				}
				return a.commit(cmd, m, message)
			})
		},
	}
	addMessageFlag(cmd, &message)
	return cmd
}

func newPurgeCmd(a *app) *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "purge <type>",
		Short: "Remove every item of a type and its dependents and commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := types.ParseItemType(args[0])
			if err != nil {
				return err
			}
			return a.withMapping(func(m types.Mapping) error {
				removed, err := m.Purge(t)
				if err != nil {
					return fail(err)
				}
				if err := a.printItems(cmd.OutOrStdout(), removed); err != nil {
					return err
				}
				if len(removed) == 0 {
					return nil
				}
				return a.commit(cmd, m, message)
			})
		},
	}
	addMessageFlag(cmd, &message)
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id|key>",
		Short: "Show one item",
		Example: `  entitymap get entity 7
  entitymap get entity '{"entity_class_name": "fish", "name": "Nemo"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := types.ParseItemType(args[0])
			if err != nil {
				return err
			}
			sel, err := parseSelector(args[1])
			if err != nil {
				return err
			}
			return a.withMapping(func(m types.Mapping) error {
				it, err := m.Get(t, sel)
				if err != nil {
					return fail(err)
				}
				return a.printItem(cmd.OutOrStdout(), it)
			})
		},
	}
}

func newFindCmd(a *app) *cobra.Command {
	var where string
	cmd := &cobra.Command{
		Use:   "find <type> [json]",
		Short: "List items matching field values or an expression",
		Long: `Find lists the items whose fields equal every entry of the JSON object,
or all items when it is omitted. --where filters with a boolean expression
over the item's fields, external fields included.`,
		Example: `  entitymap find entity '{"entity_class_name": "fish"}'
  entitymap find parameter_value --where 'entity_name startsWith "N" && alternative_name == "Base"'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := types.ParseItemType(args[0])
			if err != nil {
				return err
			}
			var filter types.Fields
			if len(args) == 2 {
				if filter, err = parseFields(args[1]); err != nil {
					return err
				}
			}
			return a.withMapping(func(m types.Mapping) error {
				items, err := m.Find(t, filter)
				if err != nil {
					return fail(err)
				}
				if where != "" {
					matched, err := m.FindWhere(t, where)
					if err != nil {
						return fail(err)
					}
					items = intersect(items, matched)
				}
				return a.printItems(cmd.OutOrStdout(), items)
			})
		},
	}
	cmd.Flags().StringVar(&where, "where", "", "boolean filter expression")
	return cmd
}

func intersect(items, keep []types.Item) []types.Item {
	ids := make(map[int64]bool, len(keep))
	for _, it := range keep {
		ids[it.ID().Value()] = true
	}
	out := items[:0:0]
	for _, it := range items {
		if ids[it.ID().Value()] {
			out = append(out, it)
		}
	}
	return out
}
