package main

import (
	"fmt"

	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/wortree"
	"github.com/spf13/cobra"
)

func newCheckoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <branch-or-commit>",
		Short: "Switch branches or restore working tree files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wortree.Open(".")
			if err != nil {
				return err
			}
			defer w.Close()

			target := args[0]
			if branches, berr := w.ListBranches(); berr == nil {
				for _, b := range branches {
					if b == target {
						return w.SwitchBranch(target, nil)
					}
				}
			}
			return w.Checkout(objstore.Hash(target), nil, nil, nil)
		},
	}
}

func newBranchCmd() *cobra.Command {
	var del string
	cmd := &cobra.Command{
		Use:   "branch [name]",
		Short: "List, create, or delete branches",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wortree.Open(".")
			if err != nil {
				return err
			}
			defer w.Close()

			if del != "" {
				return w.DeleteBranch(del)
			}

			if len(args) == 0 {
				branches, err := w.ListBranches()
				if err != nil {
					return err
				}
				current, _ := w.CurrentBranch()
				for _, b := range branches {
					marker := "  "
					if b == current {
						marker = "* "
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", marker, b)
				}
				return nil
			}

			head, err := w.HeadCommit()
			if err != nil {
				return err
			}
			return w.CreateBranch(args[0], head)
		},
	}
	cmd.Flags().StringVarP(&del, "delete", "d", "", "delete the named branch")
	return cmd
}
