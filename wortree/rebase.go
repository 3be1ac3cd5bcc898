package wortree

import (
	"fmt"

	"github.com/hagenbeck/vctree/internal/diff3"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/rebase"
)

// defaultMergeLabels reads the configured conflict labels, falling back
// to "ours"/"theirs" when unset.
func (w *WorkTree) defaultMergeLabels() (diff3.Labels, error) {
	cfg, err := w.Meta.ReadConfig()
	if err != nil {
		return diff3.Labels{}, fmt.Errorf("read config: %w", err)
	}
	labels := diff3.Labels{Ours: cfg.Merge.OursLabel, Theirs: cfg.Merge.TheirsLabel}
	if labels.Ours == "" {
		labels.Ours = "ours"
	}
	if labels.Theirs == "" {
		labels.Theirs = "theirs"
	}
	return labels, nil
}

// RebaseStart prepares a rebase of the current branch onto the work
// tree's base-commit:
// verifies a clean work tree, plants the journaled derived refs, and
// repoints the work tree's head at the replay branch.
func (w *WorkTree) RebaseStart(uuid string) (rebase.RefNames, error) {
	branch, err := w.Refs.CurrentBranch()
	if err != nil {
		return rebase.RefNames{}, fmt.Errorf("rebase start: %w", err)
	}
	base, err := w.Meta.BaseCommit()
	if err != nil {
		return rebase.RefNames{}, fmt.Errorf("rebase start: %w", err)
	}
	names, err := rebase.Prepare(w.Refs, w.Meta, w.blobs, w.Index, w.Root(), uuid, branch, base)
	if err != nil {
		return rebase.RefNames{}, err
	}
	if err := w.Flush(); err != nil {
		return names, err
	}
	return names, nil
}

// RebaseStep replays one source commit onto the in-progress rebase's
// tmp-branch.
func (w *WorkTree) RebaseStep(names rebase.RefNames, sourceCommit objstore.Hash, opts rebase.ReplayOptions) (rebase.StepResult, error) {
	labels, err := w.defaultMergeLabels()
	if err != nil {
		return rebase.StepResult{}, err
	}
	res, err := rebase.ReplayCommit(w.Store, w.blobs, w.Store, w.Refs, names, w.Index, w.Root(), sourceCommit, labels, opts)
	if err != nil {
		return rebase.StepResult{}, err
	}
	if err := w.Flush(); err != nil {
		return res, err
	}
	return res, nil
}

// RebaseResult reports the outcome of a full Rebase run.
type RebaseResult struct {
	Steps []rebase.StepResult
}

// Rebase drives the full per-commit loop for C9's rebase half: walks the
// current branch's linear history back to its base-commit (e.g. after an
// update moved base-commit without moving head) and replays each commit
// in order onto a fresh tmp-branch seeded at that base-commit, then
// fast-forwards the branch in place. Every replayed commit reuses the
// source commit's own message; there is no edit/fold scripting here
// (that's histedit's job — see HisteditRun), so a rebase never stops
// partway through on success.
func (w *WorkTree) Rebase(uuid string) (RebaseResult, error) {
	base, err := w.Meta.BaseCommit()
	if err != nil {
		return RebaseResult{}, fmt.Errorf("rebase: %w", err)
	}
	head, err := w.HeadCommit()
	if err != nil {
		return RebaseResult{}, fmt.Errorf("rebase: %w", err)
	}

	sourceCommits, err := rebase.LinearCommits(w.Store, head, base)
	if err != nil {
		return RebaseResult{}, fmt.Errorf("rebase: %w", err)
	}

	names, err := w.RebaseStart(uuid)
	if err != nil {
		return RebaseResult{}, err
	}

	var result RebaseResult
	for _, sourceCommit := range sourceCommits {
		res, err := w.RebaseStep(names, sourceCommit, rebase.ReplayOptions{})
		if err != nil {
			return result, fmt.Errorf("rebase: replay %s: %w", sourceCommit, err)
		}
		result.Steps = append(result.Steps, res)
	}

	if err := w.RebaseComplete(names); err != nil {
		return result, err
	}
	return result, nil
}

// RebaseComplete fast-forwards the original branch onto the replayed
// tmp-branch, repoints the work tree's head there, and tears down the
// derived refs.
func (w *WorkTree) RebaseComplete(names rebase.RefNames) error {
	return rebase.Complete(w.Refs, w.Meta, names)
}

// RebaseAbort restores the work tree's head/base-commit to the original
// branch, deletes the derived refs, then reverts every locally modified
// path and re-checks out the full tree at the restored base.
func (w *WorkTree) RebaseAbort(names rebase.RefNames) (string, objstore.Hash, error) {
	branch, base, err := rebase.Abort(w.Refs, w.Meta, names)
	if err != nil {
		return branch, base, err
	}
	if err := w.restoreWorkTree(base); err != nil {
		return branch, base, err
	}
	return branch, base, nil
}

// restoreWorkTree re-checks out the full tree at commit, overwriting any
// locally modified path with the committed content. A zero commit means
// the branch being restored to has no commits yet, so there is nothing
// to check out.
func (w *WorkTree) restoreWorkTree(commit objstore.Hash) error {
	if commit.IsZero() {
		return nil
	}
	if err := w.Checkout(commit, nil, nil, nil); err != nil {
		return fmt.Errorf("restore work tree at %s: %w", commit, err)
	}
	return nil
}
