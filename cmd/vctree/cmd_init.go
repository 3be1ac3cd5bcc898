package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hagenbeck/vctree/wortree"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var branch string
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create an empty work tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}

			w, err := wortree.Init(abs, abs, branch)
			if err != nil {
				return err
			}
			defer w.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "initialized empty work tree in %s\n", w.Meta.DotDir()+string(filepath.Separator))
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "main", "name of the initial branch")
	return cmd
}
