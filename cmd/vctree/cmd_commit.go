package main

import (
	"fmt"
	"strings"

	"github.com/hagenbeck/vctree/internal/commitpipeline"
	"github.com/hagenbeck/vctree/internal/wterr"
	"github.com/hagenbeck/vctree/wortree"
	"github.com/spf13/cobra"
)

func newCommitCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "commit [paths...]",
		Short: "Record a new commit from the current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(message) == "" {
				return wterr.New(wterr.MsgEmpty, fmt.Errorf("commit message must not be empty"))
			}

			w, err := wortree.Open(".")
			if err != nil {
				return err
			}
			defer w.Close()

			res, err := w.Commit(args, wortree.CommitOptions{
				Message: func([]*commitpipeline.Commitable) (string, error) { return message, nil },
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "committed %s\n", res.CommitID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	return cmd
}
