package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/entitymap/pkg/types"
)

func newLogCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "List commits, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withMapping(func(m types.Mapping) error {
				commits, err := m.Find(types.CommitType, nil)
				if err != nil {
					return fail(err)
				}
				sort.Slice(commits, func(i, j int) bool {
					return commits[i].ID().Value() > commits[j].ID().Value()
				})
				if limit > 0 && len(commits) > limit {
					commits = commits[:limit]
				}
				if a.flags.jsonMode {
					return a.printItems(cmd.OutOrStdout(), commits)
				}
				for _, c := range commits {
					date, _ := c.Get("date")
					user, _ := c.Get("user")
					comment, _ := c.Get("comment")
					when, _ := date.(time.Time)
					fmt.Fprintf(cmd.OutOrStdout(), "%d  %s  %s  %s\n", c.ID().Value(), when.UTC().Format(time.RFC3339), user, comment)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n commits")
	return cmd
}
