package cmd

import (
	"github.com/oneconcern/tcbuilder/pkg/changeset"
	"github.com/oneconcern/tcbuilder/pkg/union"
	"github.com/spf13/cobra"
)

var unionCmd = &cobra.Command{
	Use:   "union <branch>",
	Short: "Compose change sets onto the base commit",
	Long: `Compose change sets onto the base commit, and commit the result on a branch.

The change sets of the storage area are applied first, in this order when present:
changes, splash, dt, kernel. Directories given with --changes-directory follow, in
the order given. A later change set wins over an earlier one.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h, release, err := lockArea(ctx)
		if err != nil {
			return err
		}
		defer release()
		if _, err := h.Area().RequireBase(); err != nil {
			return err
		}
		b, err := config.baseline()
		if err != nil {
			return err
		}

		f := tcbFlags.union
		dirs, err := union.Sources(h.Area(), f.changesDirs...)
		if err != nil {
			return err
		}
		sets, err := union.LoadAll(h.Area().Fs(), dirs, changeset.WithBaseline(b), changeset.WithLogger(logger))
		if err != nil {
			return err
		}
		id, err := union.Compose(ctx, h, f.base, sets,
			union.WithBranch(args[0]),
			union.WithSubject(f.subject),
			union.WithBody(f.body),
			union.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		infoLogger.Printf("Commit %s created on branch %s, from %d change sets", id, args[0], len(sets))
		return nil
	},
}

func init() {
	addUnionChangesDirFlag(unionCmd)
	addBaseFlag(unionCmd)
	addSubjectFlag(unionCmd)
	addBodyFlag(unionCmd)

	rootCmd.AddCommand(unionCmd)
}
