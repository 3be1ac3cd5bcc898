package main

import (
	"fmt"

	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/wortree"
	"github.com/spf13/cobra"
)

func newMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <branch-or-commit>",
		Short: "Merge another commit into the current head",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wortree.Open(".")
			if err != nil {
				return err
			}
			defer w.Close()

			target := objstore.Hash(args[0])
			if h, err := w.ResolveBranchOrCommit(args[0]); err == nil {
				target = h
			}

			res, err := w.Merge(target)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range res.Touched {
				fmt.Fprintf(out, "  %s\n", p)
			}
			if res.HasConflicts {
				fmt.Fprintln(out, "merge produced conflicts; resolve and commit")
			}
			return nil
		},
	}
}
