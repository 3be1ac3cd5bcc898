package wortree

import (
	"fmt"

	"github.com/hagenbeck/vctree/internal/commitpipeline"
	"github.com/hagenbeck/vctree/internal/objstore"
)

// CommitOptions carries the author/committer identity and message
// source for a commit; Now overrides the timestamp (tests only —
// production leaves it zero).
type CommitOptions struct {
	Author    string
	Committer string
	Message   func([]*commitpipeline.Commitable) (string, error)
	Now       int64
}

// Commit collects every pending change under scope (empty means the
// whole index), runs the commit pipeline against the work tree's head
// ref, and advances the work tree's base-commit on success.
func (w *WorkTree) Commit(scope []string, opts CommitOptions) (commitpipeline.Result, error) {
	headRef, err := w.headRefName()
	if err != nil {
		return commitpipeline.Result{}, err
	}

	prefix, err := w.Meta.PathPrefix()
	if err != nil {
		return commitpipeline.Result{}, fmt.Errorf("commit: path-prefix: %w", err)
	}

	commitables, err := commitpipeline.Collect(w.blobs, w.Index, w.Root(), scope)
	if err != nil {
		return commitpipeline.Result{}, err
	}

	author, committer, err := w.defaultIdentity(opts.Author, opts.Committer)
	if err != nil {
		return commitpipeline.Result{}, err
	}

	res, err := commitpipeline.Run(w.Store, w.Refs, headRef, w.Index, prefix, commitables, w.Meta, commitpipeline.Options{
		Author:    author,
		Committer: committer,
		Message:   opts.Message,
		Now:       opts.Now,
	})
	if err != nil {
		return commitpipeline.Result{}, err
	}

	if err := w.Flush(); err != nil {
		return res, err
	}
	return res, nil
}

// defaultIdentity fills in author/committer from the work tree's
// config.toml when the caller left them blank, matching git/got's own
// "explicit override beats configured identity" precedence.
func (w *WorkTree) defaultIdentity(author, committer string) (string, string, error) {
	if author != "" && committer != "" {
		return author, committer, nil
	}
	cfg, err := w.Meta.ReadConfig()
	if err != nil {
		return "", "", fmt.Errorf("commit: read config: %w", err)
	}
	configured := cfg.Identity()
	if author == "" {
		author = configured
	}
	if committer == "" {
		committer = configured
	}
	return author, committer, nil
}

// HeadCommit resolves the work tree's head ref to a commit hash, or the
// zero hash if the branch has no commits yet.
func (w *WorkTree) HeadCommit() (objstore.Hash, error) {
	headRef, err := w.headRefName()
	if err != nil {
		return "", err
	}
	h, err := w.Refs.ResolveHash(headRef)
	if err != nil {
		return "", nil
	}
	return h, nil
}
