package main

import (
	"fmt"
	"path/filepath"

	"github.com/hagenbeck/vctree/internal/status"
	"github.com/hagenbeck/vctree/wortree"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [paths...]",
		Short: "Show work tree status",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wortree.Open(".")
			if err != nil {
				return err
			}
			defer w.Close()

			entries, err := w.Status(args)
			if err != nil {
				return err
			}
			if err := w.AnnotateRenames(entries); err != nil {
				return err
			}

			branch, err := w.CurrentBranch()
			if err != nil {
				branch = "HEAD"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "on %s\n", branch)

			out := cmd.OutOrStdout()
			for _, e := range entries {
				path := filepath.ToSlash(e.Path)
				switch e.Code {
				case status.NoChange:
					continue
				case status.Add:
					if e.RenamedFrom != "" {
						fmt.Fprintf(out, "  R %s -> %s\n", filepath.ToSlash(e.RenamedFrom), path)
						continue
					}
					fmt.Fprintf(out, "  A %s\n", path)
				case status.Modify:
					fmt.Fprintf(out, "  M %s\n", path)
				case status.Delete, status.Missing:
					fmt.Fprintf(out, "  D %s\n", path)
				case status.Conflict:
					fmt.Fprintf(out, "  ! %s\n", path)
				case status.Unversioned:
					fmt.Fprintf(out, "  ? %s\n", path)
				case status.Obstructed:
					fmt.Fprintf(out, "  X %s\n", path)
				case status.ModeChange:
					fmt.Fprintf(out, "  T %s\n", path)
				default:
					fmt.Fprintf(out, "  %s %s\n", e.Code, path)
				}
			}
			return nil
		},
	}
}
