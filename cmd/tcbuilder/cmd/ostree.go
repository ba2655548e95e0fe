package cmd

import (
	"github.com/spf13/cobra"
)

var ostreeCmd = &cobra.Command{
	Use:   "ostree",
	Short: "Inspect the commits of the storage area",
}

var ostreeBranches = &cobra.Command{
	Use:   "branches",
	Short: "List the branches and the commits they point to",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openArea()
		if err != nil {
			return err
		}
		defer closeArea(a)
		ctx := cmd.Context()
		branches, err := a.Repo().ListBranches(ctx)
		if err != nil {
			return err
		}
		for _, b := range branches {
			c, err := a.Repo().ReadCommit(ctx, b.Commit)
			if err != nil {
				return err
			}
			infoLogger.Printf("%-20s %s %s  %s", b.Name, b.Commit.Short(), c.Timestamp.Format("2006-01-02 15:04:05"), c.Subject)
		}
		return nil
	},
}

func init() {
	ostreeCmd.AddCommand(ostreeBranches)
	rootCmd.AddCommand(ostreeCmd)
}
