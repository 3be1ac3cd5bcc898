package wortree

import (
	"fmt"
	"strings"

	"github.com/hagenbeck/vctree/internal/commitpipeline"
	"github.com/hagenbeck/vctree/internal/histedit"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/rebase"
)

// HisteditStart prepares a scripted history edit: plants rebase's
// derived refs plus histedit's own base-commit-ref, and repoints the
// work tree's head at the replay branch.
func (w *WorkTree) HisteditStart(uuid string, baseCommit objstore.Hash) (histedit.RefNames, error) {
	branch, err := w.Refs.CurrentBranch()
	if err != nil {
		return histedit.RefNames{}, fmt.Errorf("histedit start: %w", err)
	}
	rbNames, err := rebase.Prepare(w.Refs, w.Meta, w.blobs, w.Index, w.Root(), uuid, branch, baseCommit)
	if err != nil {
		return histedit.RefNames{}, err
	}
	names := histedit.Derive(uuid)
	names.RefNames = rbNames
	if err := histedit.Prepare(w.Refs, w.Meta, baseCommit, names); err != nil {
		return histedit.RefNames{}, err
	}
	if err := w.Flush(); err != nil {
		return names, err
	}
	return names, nil
}

// HisteditReadScript reads and parses the pending script from the
// work tree's dot-directory.
func (w *WorkTree) HisteditReadScript() ([]histedit.Line, error) {
	return histedit.ReadScript(w.Meta.DotDir())
}

// HisteditWriteScript serializes lines to the work tree's dot-directory,
// atomically.
func (w *WorkTree) HisteditWriteScript(lines []histedit.Line) error {
	return histedit.WriteScript(w.Meta.DotDir(), lines)
}

// HisteditFoldAccumulator tracks the touched paths and source log
// messages a run of fold lines has replayed but not yet committed; the
// next pick/edit step folds them into its own commit.
type HisteditFoldAccumulator struct {
	Paths    []string
	Messages []string
}

func (f *HisteditFoldAccumulator) reset() {
	f.Paths = nil
	f.Messages = nil
}

// HisteditStep replays the script line at index i: a drop line is elided
// without touching the tmp-branch at all; a fold line replays its diff
// into the work tree but does not commit, instead accumulating its
// touched paths and message into fold for the next non-fold line to pick
// up; pick/edit commit normally, folding in whatever fold had
// accumulated so far (and are then reset). A following mesg line's text
// (looked up via PendingMessage) overrides the resulting message
// entirely, accumulated fold messages included.
func (w *WorkTree) HisteditStep(names histedit.RefNames, lines []histedit.Line, i int, fold *HisteditFoldAccumulator) (rebase.StepResult, error) {
	line := lines[i]

	if line.Action == histedit.ActionDrop {
		return rebase.StepResult{Elided: true}, nil
	}

	if line.Action == histedit.ActionFold {
		labels, err := w.defaultMergeLabels()
		if err != nil {
			return rebase.StepResult{}, err
		}
		sourceCommit, err := w.Store.ReadCommit(line.Commit)
		if err != nil {
			return rebase.StepResult{}, fmt.Errorf("histedit fold: read source commit: %w", err)
		}
		touched, err := rebase.ReplayFold(w.Store, w.Refs, names.RefNames, w.Root(), line.Commit, labels)
		if err != nil {
			return rebase.StepResult{}, err
		}
		fold.Paths = append(fold.Paths, touched...)
		fold.Messages = append(fold.Messages, sourceCommit.Message)
		if err := w.Flush(); err != nil {
			return rebase.StepResult{Elided: true}, err
		}
		return rebase.StepResult{Elided: true}, nil
	}

	override := histedit.PendingMessage(lines, i+2)
	opts := rebase.ReplayOptions{FoldedPaths: fold.Paths}
	foldedMessages := fold.Messages
	switch {
	case override != "":
		opts.Message = func(string, []*commitpipeline.Commitable) (string, error) { return override, nil }
	case len(foldedMessages) > 0:
		opts.Message = func(sourceMessage string, _ []*commitpipeline.Commitable) (string, error) {
			parts := append(append([]string{}, foldedMessages...), sourceMessage)
			return strings.Join(parts, "\n\n"), nil
		}
	}

	res, err := w.RebaseStep(names.RefNames, line.Commit, opts)
	if err != nil {
		return res, err
	}
	fold.reset()
	return res, nil
}

// HisteditLineResult pairs a processed script line with its step result.
type HisteditLineResult struct {
	Line   histedit.Line
	Result rebase.StepResult
}

// HisteditRun processes the pending script from the front, removing each
// line from the persisted script as it completes so a later call (after
// an "edit" stop, or after a crash) resumes exactly where this one left
// off. It stops after replaying an edit line — StoppedForEdit reports
// this — so the caller can amend the landed commit before calling
// HisteditRun again to continue with the remainder of the script. A
// drop or fold line is always consumed without stopping; fold state
// never needs to survive a stop, since pick/edit (the only line kinds
// that end a run) always flush it into the commit they produce.
func (w *WorkTree) HisteditRun(names histedit.RefNames) (results []HisteditLineResult, stoppedForEdit bool, err error) {
	lines, err := w.HisteditReadScript()
	if err != nil {
		return nil, false, err
	}

	var fold HisteditFoldAccumulator
	for len(lines) > 0 {
		res, stepErr := w.HisteditStep(names, lines, 0, &fold)
		if stepErr != nil {
			return results, false, stepErr
		}
		results = append(results, HisteditLineResult{Line: lines[0], Result: res})

		action := lines[0].Action
		rest := lines[1:]
		consumesMesg := action == histedit.ActionPick || action == histedit.ActionEdit
		if consumesMesg && len(rest) > 0 && rest[0].Action == histedit.ActionMesg {
			rest = rest[1:]
		}
		if err := w.HisteditWriteScript(rest); err != nil {
			return results, false, err
		}
		lines = rest

		if action == histedit.ActionEdit {
			return results, true, nil
		}
	}
	return results, false, nil
}

// HisteditComplete fast-forwards the original branch onto the replayed
// tmp-branch and tears down every derived ref, rebase's and histedit's
// own base-commit-ref alike.
func (w *WorkTree) HisteditComplete(names histedit.RefNames) error {
	if err := rebase.Complete(w.Refs, w.Meta, names.RefNames); err != nil {
		return err
	}
	if err := w.Refs.Delete(names.BaseCommit); err != nil {
		return fmt.Errorf("histedit complete: clear base-commit-ref: %w", err)
	}
	return nil
}

// HisteditAbort restores the work tree to its pre-histedit state and
// tears down every derived ref, including histedit's own base-commit-ref.
func (w *WorkTree) HisteditAbort(names histedit.RefNames) (string, objstore.Hash, error) {
	branch, base, err := rebase.Abort(w.Refs, w.Meta, names.RefNames)
	if err != nil {
		return "", "", err
	}
	if derr := w.Refs.Delete(names.BaseCommit); derr != nil {
		return branch, base, fmt.Errorf("histedit abort: clear base-commit-ref: %w", derr)
	}
	if err := w.restoreWorkTree(base); err != nil {
		return branch, base, err
	}
	return branch, base, nil
}
