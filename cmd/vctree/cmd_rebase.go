package main

import (
	"fmt"

	"github.com/hagenbeck/vctree/internal/rebase"
	"github.com/hagenbeck/vctree/wortree"
	"github.com/spf13/cobra"
)

func newRebaseCmd() *cobra.Command {
	var abort bool
	cmd := &cobra.Command{
		Use:   "rebase",
		Short: "Replay the current branch's commits onto its base commit",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wortree.Open(".")
			if err != nil {
				return err
			}
			defer w.Close()

			uuid, err := w.Meta.UUID()
			if err != nil {
				return err
			}

			if abort {
				branch, base, err := w.RebaseAbort(rebase.Derive(uuid))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rebase aborted, restored %s at %s\n", branch, base)
				return nil
			}

			res, err := w.Rebase(uuid)
			if err != nil {
				return err
			}
			for _, step := range res.Steps {
				if step.Elided {
					fmt.Fprintln(cmd.OutOrStdout(), "  (elided)")
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", step.NewCommit)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&abort, "abort", false, "abort an in-progress rebase")
	return cmd
}
