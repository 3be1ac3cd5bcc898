package main

import (
	"fmt"
	"os"

	"github.com/hagenbeck/vctree/internal/histedit"
	"github.com/hagenbeck/vctree/internal/rebase"
	"github.com/hagenbeck/vctree/wortree"
	"github.com/spf13/cobra"
)

func newHisteditCmd() *cobra.Command {
	var scriptPath string
	var cont bool
	var abort bool
	cmd := &cobra.Command{
		Use:   "histedit [base-commit-or-branch]",
		Short: "Rewrite a range of commits with a pick/edit/drop/fold/mesg script",
		Args:  cobra.MaximumNArgs(1),
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
			names := histedit.Derive(uuid)

			if abort {
				branch, base, err := w.HisteditAbort(names)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "histedit aborted, restored %s at %s\n", branch, base)
				return nil
			}

			if !cont {
				if len(args) != 1 || scriptPath == "" {
					return fmt.Errorf("histedit: base-commit-or-branch and --script are required to start")
				}
				base, err := w.ResolveBranchOrCommit(args[0])
				if err != nil {
					return err
				}
				head, err := w.HeadCommit()
				if err != nil {
					return err
				}
				sourceCommits, err := rebase.LinearCommits(w.Store, head, base)
				if err != nil {
					return err
				}
				data, err := os.ReadFile(scriptPath)
				if err != nil {
					return fmt.Errorf("histedit: read script: %w", err)
				}
				lines, err := histedit.ParseScript(data)
				if err != nil {
					return err
				}
				if err := histedit.Validate(lines, sourceCommits); err != nil {
					return err
				}
				if _, err := w.HisteditStart(uuid, base); err != nil {
					return err
				}
				if err := w.HisteditWriteScript(lines); err != nil {
					return err
				}
			}

			results, stopped, err := w.HisteditRun(names)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				if r.Result.Elided {
					fmt.Fprintf(out, "  %s %s (elided)\n", r.Line.Action, r.Line.Commit)
					continue
				}
				fmt.Fprintf(out, "  %s %s -> %s\n", r.Line.Action, r.Line.Commit, r.Result.NewCommit)
			}
			if stopped {
				fmt.Fprintln(out, "stopped for edit; amend the commit and run 'vctree histedit --continue'")
				return nil
			}

			if err := w.HisteditComplete(names); err != nil {
				return err
			}
			fmt.Fprintln(out, "histedit complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&scriptPath, "script", "", "path to the pick/edit/drop/fold/mesg script")
	cmd.Flags().BoolVar(&cont, "continue", false, "resume after amending an edit stop")
	cmd.Flags().BoolVar(&abort, "abort", false, "abort an in-progress histedit")
	return cmd
}
