package main

import (
	"fmt"

	"github.com/hagenbeck/vctree/wortree"
	"github.com/spf13/cobra"
)

func newStageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <paths...>",
		Short: "Stage pending changes for commit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wortree.Open(".")
			if err != nil {
				return err
			}
			defer w.Close()

			res, err := w.Stage(args, nil)
			if err != nil {
				return err
			}
			for _, r := range res {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", r.Path)
			}
			return nil
		},
	}
}

func newUnstageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unstage <paths...>",
		Short: "Reverse staging for the given paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wortree.Open(".")
			if err != nil {
				return err
			}
			defer w.Close()

			res, err := w.Unstage(args, nil)
			if err != nil {
				return err
			}
			for _, r := range res {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", r.Path)
			}
			return nil
		},
	}
}
