package wortree

import (
	"fmt"
	"path/filepath"

	"github.com/hagenbeck/vctree/internal/diff3"
	"github.com/hagenbeck/vctree/internal/merge"
	"github.com/hagenbeck/vctree/internal/mergebase"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/treediff"
)

// MergeBase resolves a common ancestor of a and b, or the zero hash if
// they share no history.
func (w *WorkTree) MergeBase(a, b objstore.Hash) (objstore.Hash, error) {
	return mergebase.New(w.Store).Find(a, b)
}

// MergeResult reports the paths a merge touched and whether a symlink
// merge among them conflicted. A regular file merged with conflict markers
// does not set HasConflicts; Status reports it afterwards.
type MergeResult struct {
	Touched      []string
	HasConflicts bool
}

// Merge three-way merges targetCommit into the work tree's current head:
// base is the merge base of the two, "ours" is read straight off disk
// (already reflecting head), "theirs" is targetCommit's tree. Conflicted
// files are left with diff3 markers in place rather than aborting, same
// as a rebase replay step. The caller is responsible for committing (or
// reverting) the result; Merge itself only touches the working files —
// the index's cached fingerprints go stale until the next Status or Add
// call notices them.
func (w *WorkTree) Merge(targetCommit objstore.Hash) (MergeResult, error) {
	head, err := w.HeadCommit()
	if err != nil {
		return MergeResult{}, err
	}
	if head.IsZero() {
		return MergeResult{}, fmt.Errorf("merge: work tree has no commits yet")
	}

	base, err := w.MergeBase(head, targetCommit)
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge: find base: %w", err)
	}

	headCommit, err := w.Store.ReadCommit(head)
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge: read head commit: %w", err)
	}
	targetCommitObj, err := w.Store.ReadCommit(targetCommit)
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge: read target commit: %w", err)
	}

	var baseTree objstore.Hash
	if !base.IsZero() {
		baseCommit, err := w.Store.ReadCommit(base)
		if err != nil {
			return MergeResult{}, fmt.Errorf("merge: read base commit: %w", err)
		}
		baseTree = baseCommit.TreeHash
	}

	labels, err := w.defaultMergeLabels()
	if err != nil {
		return MergeResult{}, err
	}

	return w.applyThreeWay(baseTree, headCommit.TreeHash, targetCommitObj.TreeHash, labels)
}

type flatTreeReader struct{ store *objstore.Store }

func (r flatTreeReader) ReadTree(h objstore.Hash) (*objstore.Tree, error) { return r.store.ReadTree(h) }

// applyThreeWay walks baseTree/oursTree/theirsTree (ours already on
// disk) and installs or merges every path whose blob hash differs
// between ours and theirs, using baseTree as the common ancestor.
func (w *WorkTree) applyThreeWay(baseTree, oursTree, theirsTree objstore.Hash, labels diff3.Labels) (MergeResult, error) {
	reader := flatTreeReader{w.Store}

	baseFlat, err := treediff.Flatten(reader, baseTree)
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge: flatten base tree: %w", err)
	}
	oursFlat, err := treediff.Flatten(reader, oursTree)
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge: flatten head tree: %w", err)
	}
	theirsFlat, err := treediff.Flatten(reader, theirsTree)
	if err != nil {
		return MergeResult{}, fmt.Errorf("merge: flatten target tree: %w", err)
	}

	byPath := func(entries []treediff.TreeEntry) map[string]treediff.TreeEntry {
		m := make(map[string]treediff.TreeEntry, len(entries))
		for _, e := range entries {
			m[e.Path] = e
		}
		return m
	}
	baseByPath := byPath(baseFlat)
	oursByPath := byPath(oursFlat)
	theirsByPath := byPath(theirsFlat)

	var result MergeResult
	for path, te := range theirsByPath {
		oe, hasOurs := oursByPath[path]
		if hasOurs && oe.BlobHash == te.BlobHash {
			continue
		}

		be, hasBase := baseByPath[path]
		onDiskPath := filepath.Join(w.Root(), filepath.FromSlash(path))

		var baseData []byte
		if hasBase {
			blob, err := w.Store.ReadBlob(be.BlobHash)
			if err != nil {
				return MergeResult{}, fmt.Errorf("merge: read base blob for %q: %w", path, err)
			}
			baseData = blob.Data
		}
		derivedBlob, err := w.Store.ReadBlob(te.BlobHash)
		if err != nil {
			return MergeResult{}, fmt.Errorf("merge: read target blob for %q: %w", path, err)
		}

		switch {
		case te.Mode == objstore.ModeSymlink && hasOurs:
			res, err := merge.MergeSymlink(onDiskPath, string(baseData), hasBase, string(derivedBlob.Data), true, labels)
			if err != nil {
				return MergeResult{}, fmt.Errorf("merge: symlink %q: %w", path, err)
			}
			if res.Conflict {
				result.HasConflicts = true
			}
		case te.Mode == objstore.ModeSymlink:
			if _, err := merge.InstallSymlink(w.Root(), path, string(derivedBlob.Data)); err != nil {
				return MergeResult{}, fmt.Errorf("merge: install symlink %q: %w", path, err)
			}
		case !hasOurs:
			if err := merge.InstallBlob(onDiskPath, derivedBlob.Data, te.Mode == objstore.ModeExecutable); err != nil {
				return MergeResult{}, fmt.Errorf("merge: install %q: %w", path, err)
			}
		default:
			// MergeFile doesn't report conflicts in its return value;
			// a caller that cares checks status after the merge, same
			// as a rebase replay step does.
			if _, err := merge.MergeFile(onDiskPath, baseData, hasBase, derivedBlob.Data, te.Mode == objstore.ModeExecutable, labels); err != nil {
				return MergeResult{}, fmt.Errorf("merge: file %q: %w", path, err)
			}
		}
		result.Touched = append(result.Touched, path)
	}
	for path := range baseByPath {
		if _, stillThere := theirsByPath[path]; stillThere {
			continue
		}
		if _, ok := oursByPath[path]; !ok {
			continue // already gone on our side too
		}
		result.Touched = append(result.Touched, path)
	}

	return result, nil
}
