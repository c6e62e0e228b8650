package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/entitymap/internal/sqlite"
	"github.com/mesh-intelligence/entitymap/pkg/entitymap"
)

func newDumpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <dir>",
		Short: "Write every table to <dir> as JSONL files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := entitymap.OpenStore(a.cfg, a.options()...)
			if err != nil {
				return fail(fmt.Errorf("open %s store: %w", a.cfg.Backend, err))
			}
			defer store.Close()

			if err := sqlite.Dump(store, args[0]); err != nil {
				return fail(fmt.Errorf("dump: %w", err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dumped to %s\n", args[0])
			return nil
		},
	}
}

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load <dir>",
		Short: "Insert the JSONL files in <dir> into the database",
		Long: `Load inserts a snapshot written by dump in one transaction. Rows whose
id already exists are kept as they are; malformed lines are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := entitymap.OpenStore(a.cfg, a.options()...)
			if err != nil {
				return fail(fmt.Errorf("open %s store: %w", a.cfg.Backend, err))
			}
			defer store.Close()

			db, ok := store.(*sqlite.Store)
			if !ok {
				return fmt.Errorf("%w: load needs the sqlite or postgres backend, not %s", errUsage, a.cfg.Backend)
			}
			n, err := sqlite.Load(db, args[0])
			if err != nil {
				return fail(fmt.Errorf("load: %w", err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d rows from %s\n", n, args[0])
			return nil
		},
	}
}
