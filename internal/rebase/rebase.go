// Package rebase implements journaled replay of a linear run of commits
// onto a new base (C9's rebase half): a resumable loop whose state lives
// entirely in repository references, so it survives process exit and can
// be continued or aborted by a later invocation.
package rebase

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hagenbeck/vctree/internal/commitpipeline"
	"github.com/hagenbeck/vctree/internal/diff3"
	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/merge"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/refstore"
	"github.com/hagenbeck/vctree/internal/status"
	"github.com/hagenbeck/vctree/internal/treediff"
	"github.com/hagenbeck/vctree/internal/wterr"
)

// RefNames holds the derived ref paths for one rebase, scoped by the work
// tree's uuid so concurrent work trees sharing a repository never collide.
type RefNames struct {
	TmpBranch string // mutable branch receiving replayed commits
	NewBase   string // symbolic ref to the branch the rewrite will land on
	Branch    string // symbolic ref to the branch being rewritten
	Commit    string // current source commit being replayed
}

// Derive builds the well-known ref names for a rebase scoped to uuid.
func Derive(uuid string) RefNames {
	base := "refs/vctree/rebase/" + uuid + "/"
	return RefNames{
		TmpBranch: base + "tmp-branch",
		NewBase:   base + "newbase",
		Branch:    base + "branch",
		Commit:    base + "commit",
	}
}

// HeadSetter is the subset of meta.Store a rebase needs to repoint the
// work tree's head-ref.
type HeadSetter interface {
	SetHeadRef(ref string) error
}

// CheckClean enforces the prepare-time invariant: no modified files, no
// conflicts, no staged files, no mixed base commits (any index entry
// whose commit-id differs from workTreeBase).
func CheckClean(store status.BlobReader, idx *fileindex.Index, wtRoot string, workTreeBase objstore.Hash) error {
	var result error
	_ = idx.Each(func(e *fileindex.Entry) error {
		if result != nil {
			return nil
		}
		if e.Stage != fileindex.StageNone {
			result = wterr.New(wterr.FileStaged, fmt.Errorf("path %q has staged changes", e.Path))
			return nil
		}
		if !e.CommitID.IsZero() && e.CommitID != workTreeBase {
			result = wterr.New(wterr.MixedCommits, fmt.Errorf("path %q is based on %s, work tree base is %s", e.Path, e.CommitID, workTreeBase))
			return nil
		}
		res, err := status.Classify(store, e, filepath.Join(wtRoot, filepath.FromSlash(e.Path)))
		if err != nil {
			result = err
			return nil
		}
		switch res.Code {
		case status.Conflict:
			result = wterr.New(wterr.Conflicts, fmt.Errorf("path %q has conflict markers", e.Path))
		case status.Modify, status.ModeChange:
			result = wterr.New(wterr.Modified, fmt.Errorf("path %q is modified", e.Path))
		}
		return nil
	})
	return result
}

// Prepare verifies a clean work tree, plants the three derived refs, and
// points the work tree's head at the tmp-branch.
func Prepare(refs *refstore.Store, head HeadSetter, store status.BlobReader, idx *fileindex.Index, wtRoot, uuid, originalBranch string, baseCommit objstore.Hash) (RefNames, error) {
	if err := CheckClean(store, idx, wtRoot, baseCommit); err != nil {
		return RefNames{}, err
	}

	names := Derive(uuid)
	branchRef := "refs/heads/" + originalBranch

	if err := allocSymref(refs, names.NewBase, branchRef); err != nil {
		return RefNames{}, err
	}
	if err := allocSymref(refs, names.Branch, branchRef); err != nil {
		return RefNames{}, err
	}
	if err := allocHash(refs, names.TmpBranch, baseCommit); err != nil {
		return RefNames{}, err
	}
	if err := head.SetHeadRef(names.TmpBranch); err != nil {
		return RefNames{}, err
	}
	return names, nil
}

func allocSymref(refs *refstore.Store, name, target string) error {
	h, err := refs.Open(name, true)
	if err != nil {
		return fmt.Errorf("rebase prepare: open %s: %w", name, err)
	}
	if err := h.AllocSymref(target); err != nil {
		h.Unlock()
		return fmt.Errorf("rebase prepare: %s: %w", name, err)
	}
	return h.Write("rebase: prepare")
}

func allocHash(refs *refstore.Store, name string, id objstore.Hash) error {
	h, err := refs.Open(name, true)
	if err != nil {
		return fmt.Errorf("rebase prepare: open %s: %w", name, err)
	}
	if err := h.Alloc(id); err != nil {
		h.Unlock()
		return fmt.Errorf("rebase prepare: %s: %w", name, err)
	}
	return h.Write("rebase: prepare")
}

// CommitReader is the subset of objstore.Store the replay step needs.
type CommitReader interface {
	ReadCommit(h objstore.Hash) (*objstore.Commit, error)
	ReadTree(h objstore.Hash) (*objstore.Tree, error)
	ReadBlob(h objstore.Hash) (*objstore.Blob, error)
}

// StepResult reports the outcome of replaying one source commit.
type StepResult struct {
	NewCommit objstore.Hash
	Elided    bool // true when the replay produced no changes and was skipped
}

// ReplayOptions carries the identity/message policy for one replay step.
// Message, when nil, reuses the source commit's own message (pick); a
// histedit "edit"/"mesg" action supplies an override.
type ReplayOptions struct {
	Committer string
	Now       int64
	Message   func(sourceMessage string, commitables []*commitpipeline.Commitable) (string, error)

	// FoldedPaths are touched paths accumulated by preceding histedit
	// fold steps (see ReplayFold): they are folded into this step's
	// commit even if this step's own diff against its parent is empty,
	// so a run of folds followed by a pick still lands as one commit.
	FoldedPaths []string
}

// ReplayCommit performs one step of the per-commit loop: record commit-ref
// (idempotently, so a resumed rebase can detect a mismatched source), run
// a three-way merge of the source commit against its first parent into
// the work tree, collect commitables over the touched paths, commit onto
// tmp-branch (reusing the commit pipeline's own CAS head update and index
// sync by pointing it at names.TmpBranch), then clear commit-ref.
func ReplayCommit(store CommitReader, blobReader status.BlobReader, writer commitpipeline.ObjectStore, refs *refstore.Store, names RefNames, idx *fileindex.Index, wtRoot string, sourceCommitID objstore.Hash, labels diff3.Labels, opts ReplayOptions) (StepResult, error) {
	if err := recordCommitRef(refs, names.Commit, sourceCommitID); err != nil {
		return StepResult{}, err
	}

	sourceCommit, err := store.ReadCommit(sourceCommitID)
	if err != nil {
		return StepResult{}, fmt.Errorf("rebase replay: read source commit: %w", err)
	}

	var parentTree objstore.Hash
	if len(sourceCommit.Parents) > 0 {
		parentCommit, err := store.ReadCommit(sourceCommit.Parents[0])
		if err != nil {
			return StepResult{}, fmt.Errorf("rebase replay: read parent commit: %w", err)
		}
		parentTree = parentCommit.TreeHash
	}

	mergedPaths, err := applyTreeDiffMerge(store, wtRoot, parentTree, sourceCommit.TreeHash, labels)
	if err != nil {
		return StepResult{}, fmt.Errorf("rebase replay: %w", err)
	}
	mergedPaths = unionPaths(mergedPaths, opts.FoldedPaths)
	if len(mergedPaths) == 0 {
		if derr := refs.Delete(names.Commit); derr != nil {
			return StepResult{}, fmt.Errorf("rebase replay: clear commit-ref: %w", derr)
		}
		return StepResult{Elided: true}, nil
	}

	commitables, err := commitpipeline.Collect(blobReader, idx, wtRoot, mergedPaths)
	if wterr.Is(err, wterr.NoChanges) {
		if derr := refs.Delete(names.Commit); derr != nil {
			return StepResult{}, fmt.Errorf("rebase replay: clear commit-ref: %w", derr)
		}
		return StepResult{Elided: true}, nil
	}
	if err != nil {
		return StepResult{}, fmt.Errorf("rebase replay: collect: %w", err)
	}

	message := sourceCommit.Message
	if opts.Message != nil {
		message, err = opts.Message(sourceCommit.Message, commitables)
		if err != nil {
			return StepResult{}, fmt.Errorf("rebase replay: message: %w", err)
		}
	}

	now := opts.Now
	committer := opts.Committer
	if committer == "" {
		committer = sourceCommit.Committer
	}

	res, err := commitpipeline.Run(writer, refs, names.TmpBranch, idx, "", commitables, nil, commitpipeline.Options{
		Author:    sourceCommit.Author,
		Committer: committer,
		Message:   func([]*commitpipeline.Commitable) (string, error) { return message, nil },
		Now:       now,
	})
	if err != nil {
		return StepResult{}, fmt.Errorf("rebase replay: commit: %w", err)
	}

	if err := refs.Delete(names.Commit); err != nil {
		return StepResult{}, fmt.Errorf("rebase replay: clear commit-ref: %w", err)
	}

	return StepResult{NewCommit: res.CommitID}, nil
}

// ReplayFold applies sourceCommitID's diff against its first parent into
// the work tree, same as ReplayCommit, but never commits it: histedit's
// fold action accumulates its diff into whatever commit follows next, so
// the caller threads the returned touched paths into that step's
// ReplayOptions.FoldedPaths instead of landing them here.
func ReplayFold(store CommitReader, refs *refstore.Store, names RefNames, wtRoot string, sourceCommitID objstore.Hash, labels diff3.Labels) ([]string, error) {
	if err := recordCommitRef(refs, names.Commit, sourceCommitID); err != nil {
		return nil, err
	}

	sourceCommit, err := store.ReadCommit(sourceCommitID)
	if err != nil {
		return nil, fmt.Errorf("rebase fold: read source commit: %w", err)
	}

	var parentTree objstore.Hash
	if len(sourceCommit.Parents) > 0 {
		parentCommit, err := store.ReadCommit(sourceCommit.Parents[0])
		if err != nil {
			return nil, fmt.Errorf("rebase fold: read parent commit: %w", err)
		}
		parentTree = parentCommit.TreeHash
	}

	touched, err := applyTreeDiffMerge(store, wtRoot, parentTree, sourceCommit.TreeHash, labels)
	if err != nil {
		return nil, fmt.Errorf("rebase fold: %w", err)
	}

	if err := refs.Delete(names.Commit); err != nil {
		return nil, fmt.Errorf("rebase fold: clear commit-ref: %w", err)
	}
	return touched, nil
}

func unionPaths(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, p := range a {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range b {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func recordCommitRef(refs *refstore.Store, name string, sourceCommitID objstore.Hash) error {
	cur, err := refs.Resolve(name)
	if err == nil {
		if cur.Hash != sourceCommitID {
			return wterr.New(wterr.RebaseCommitID, fmt.Errorf("commit-ref %s already set to %s, resuming with %s", name, cur.Hash, sourceCommitID))
		}
		return nil
	}
	if !isNotExist(err) {
		return fmt.Errorf("rebase replay: resolve commit-ref: %w", err)
	}
	return allocHash(refs, name, sourceCommitID)
}

func isNotExist(err error) bool {
	return errors.Is(err, refstore.ErrNotExist)
}

// applyTreeDiffMerge walks oldTree and newTree in lockstep, and for every
// path whose blob hash differs applies a three-way merge into the
// corresponding work-tree file (old as base, new as derived). It returns
// the list of touched paths so the caller can restrict commit collection
// to exactly what the replay changed.
func applyTreeDiffMerge(store CommitReader, wtRoot string, oldTree, newTree objstore.Hash, labels diff3.Labels) ([]string, error) {
	oldFlat, err := treediff.Flatten(readTreeAdapter{store}, oldTree)
	if err != nil {
		return nil, fmt.Errorf("flatten parent tree: %w", err)
	}
	newFlat, err := treediff.Flatten(readTreeAdapter{store}, newTree)
	if err != nil {
		return nil, fmt.Errorf("flatten source tree: %w", err)
	}

	oldByPath := make(map[string]treediff.TreeEntry, len(oldFlat))
	for _, e := range oldFlat {
		oldByPath[e.Path] = e
	}
	newByPath := make(map[string]treediff.TreeEntry, len(newFlat))
	for _, e := range newFlat {
		newByPath[e.Path] = e
	}

	var touched []string
	for path, ne := range newByPath {
		oe, existed := oldByPath[path]
		if existed && oe.BlobHash == ne.BlobHash {
			continue
		}
		onDiskPath := filepath.Join(wtRoot, filepath.FromSlash(path))
		var baseData []byte
		hasBase := existed
		if existed {
			blob, err := store.ReadBlob(oe.BlobHash)
			if err != nil {
				return nil, fmt.Errorf("read base blob for %q: %w", path, err)
			}
			baseData = blob.Data
		}
		derivedBlob, err := store.ReadBlob(ne.BlobHash)
		if err != nil {
			return nil, fmt.Errorf("read source blob for %q: %w", path, err)
		}
		if ne.Mode == objstore.ModeSymlink {
			if _, err := merge.InstallSymlink(wtRoot, path, string(derivedBlob.Data)); err != nil {
				return nil, fmt.Errorf("install symlink %q: %w", path, err)
			}
		} else if !existed {
			if err := merge.InstallBlob(onDiskPath, derivedBlob.Data, ne.Mode == objstore.ModeExecutable); err != nil {
				return nil, fmt.Errorf("install %q: %w", path, err)
			}
		} else {
			if _, err := merge.MergeFile(onDiskPath, baseData, hasBase, derivedBlob.Data, ne.Mode == objstore.ModeExecutable, labels); err != nil {
				return nil, fmt.Errorf("merge %q: %w", path, err)
			}
		}
		touched = append(touched, path)
	}
	for path := range oldByPath {
		if _, ok := newByPath[path]; ok {
			continue
		}
		touched = append(touched, path)
	}
	return touched, nil
}

type readTreeAdapter struct{ store CommitReader }

func (a readTreeAdapter) ReadTree(h objstore.Hash) (*objstore.Tree, error) { return a.store.ReadTree(h) }

// Complete resolves tmp-branch, fast-forwards the original branch to it,
// repoints the work tree's head there, and deletes every derived ref.
func Complete(refs *refstore.Store, head HeadSetter, names RefNames) error {
	finalHash, err := refs.ResolveHash(names.TmpBranch)
	if err != nil {
		return fmt.Errorf("rebase complete: resolve tmp-branch: %w", err)
	}
	branchTarget, err := refs.Resolve(names.Branch)
	if err != nil {
		return fmt.Errorf("rebase complete: resolve branch-symref: %w", err)
	}

	h, err := refs.Open(branchTarget.Symlink, true)
	if err != nil {
		return fmt.Errorf("rebase complete: open %s: %w", branchTarget.Symlink, err)
	}
	if h.Old().Hash == "" {
		err = h.Alloc(finalHash)
	} else {
		err = h.Change(finalHash)
	}
	if err != nil {
		h.Unlock()
		return fmt.Errorf("rebase complete: stage branch update: %w", err)
	}
	if err := h.Write("rebase: complete"); err != nil {
		return fmt.Errorf("rebase complete: %w", err)
	}

	if err := head.SetHeadRef(branchTarget.Symlink); err != nil {
		return fmt.Errorf("rebase complete: set head: %w", err)
	}

	return deleteDerivedRefs(refs, names)
}

func deleteDerivedRefs(refs *refstore.Store, names RefNames) error {
	for _, name := range []string{names.TmpBranch, names.NewBase, names.Branch, names.Commit} {
		if err := refs.Delete(name); err != nil && !isNotExist(err) {
			return fmt.Errorf("rebase: delete %s: %w", name, err)
		}
	}
	return nil
}

// LinearCommits walks head's first-parent chain back to (but not
// including) base, and returns the commits in replay order (oldest
// first). base may be the zero hash, meaning "walk to the root commit".
func LinearCommits(store CommitReader, head, base objstore.Hash) ([]objstore.Hash, error) {
	var reversed []objstore.Hash
	cur := head
	for !cur.IsZero() && cur != base {
		commit, err := store.ReadCommit(cur)
		if err != nil {
			return nil, fmt.Errorf("rebase: linear walk: read %s: %w", cur, err)
		}
		reversed = append(reversed, cur)
		if len(commit.Parents) == 0 {
			cur = ""
			continue
		}
		cur = commit.Parents[0]
	}
	if !base.IsZero() && cur != base {
		return nil, fmt.Errorf("rebase: linear walk: %s is not an ancestor of %s", base, head)
	}
	out := make([]objstore.Hash, len(reversed))
	for i, h := range reversed {
		out[len(reversed)-1-i] = h
	}
	return out, nil
}

// Abort reads newbase-symref, restores the work tree's head and
// base-commit to the branch being rewritten, deletes every derived ref,
// and hands back the branch name and original base commit so the caller
// can revert every locally modified path and re-checkout the full tree
// at that base (internal/checkout.Files against origHash does both: it
// compares by blob id, not by on-disk content, so every modified path is
// overwritten with the restored base's content regardless of what a
// replay step left behind).
func Abort(refs *refstore.Store, head interface {
	HeadSetter
	SetBaseCommit(id objstore.Hash) error
}, names RefNames) (string, objstore.Hash, error) {
	newBase, err := refs.Resolve(names.NewBase)
	if err != nil {
		return "", "", fmt.Errorf("rebase abort: resolve newbase-symref: %w", err)
	}
	origHash, err := refs.ResolveHash(newBase.Symlink)
	if err != nil {
		return "", "", fmt.Errorf("rebase abort: resolve original branch: %w", err)
	}

	if err := head.SetHeadRef(newBase.Symlink); err != nil {
		return "", "", fmt.Errorf("rebase abort: set head: %w", err)
	}
	if err := head.SetBaseCommit(origHash); err != nil {
		return "", "", fmt.Errorf("rebase abort: set base-commit: %w", err)
	}

	if err := deleteDerivedRefs(refs, names); err != nil {
		return "", "", err
	}
	return newBase.Symlink, origHash, nil
}
