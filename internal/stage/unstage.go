package stage

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/hagenbeck/vctree/internal/diff3"
	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/merge"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/wterr"
)

// Unstage reverses staging for every path in paths. With a nil patch the
// whole staged change is dropped: the stage code clears and, for a staged
// modify, the hunk it represents is three-way-merged into the working
// file (base blob as ancestor) so the edit survives as an ordinary
// uncommitted change rather than disappearing. With a non-nil patch the
// staged-vs-base diff is offered hunk by hunk; accepted hunks are moved
// back to the working file exactly as above, while rejected hunks stay
// staged under a freshly written staged blob (or the stage clears
// entirely if nothing was rejected).
func Unstage(store BlobStore, idx *fileindex.Index, wtRoot string, paths []string, patch PatchFunc) ([]Result, error) {
	var results []Result
	for _, p := range paths {
		e := idx.Get(p)
		if e == nil || e.Stage == fileindex.StageNone {
			return nil, wterr.New(wterr.NotStaged, fmt.Errorf("path %q has no staged change", p))
		}

		onDiskPath := filepath.Join(wtRoot, filepath.FromSlash(p))
		changed, err := unstageEntry(store, e, onDiskPath, patch)
		if err != nil {
			return nil, fmt.Errorf("unstage %q: %w", p, err)
		}
		idx.Put(*e)
		results = append(results, Result{Path: p, Changed: changed})
	}
	return results, nil
}

func unstageEntry(store BlobStore, e *fileindex.Entry, onDiskPath string, patch PatchFunc) (bool, error) {
	if e.Stage == fileindex.StageDelete {
		e.Stage = fileindex.StageNone
		return true, nil
	}

	baseContent, hasBase, err := baseContentOf(store, e)
	if err != nil {
		return false, err
	}
	stagedContent, err := store.ReadBlob(e.StagedBlobID)
	if err != nil {
		return false, fmt.Errorf("read staged blob %s: %w", e.StagedBlobID, err)
	}

	unstagedContent, retainedContent, err := splitForUnstage(baseContent, stagedContent, patch)
	if err != nil {
		return false, err
	}

	labels := diff3.Labels{Ours: "work tree", Theirs: "unstaged"}
	if e.FileType == fileindex.FileSymlink {
		if _, err := merge.MergeSymlink(onDiskPath, string(baseContent), hasBase, string(unstagedContent), true, labels); err != nil {
			return false, fmt.Errorf("merge unstaged symlink into work tree: %w", err)
		}
	} else {
		if _, err := merge.MergeFile(onDiskPath, baseContent, hasBase, unstagedContent, e.Stat.Executable, labels); err != nil {
			return false, fmt.Errorf("merge unstaged content into work tree: %w", err)
		}
	}

	if bytes.Equal(retainedContent, baseContent) {
		e.Stage = fileindex.StageNone
		e.StagedBlobID = ""
		return true, nil
	}

	blobHash, err := store.WriteBlob(&objstore.Blob{Data: retainedContent})
	if err != nil {
		return false, fmt.Errorf("write retained staged blob: %w", err)
	}
	e.StagedBlobID = blobHash
	return true, nil
}

func baseContentOf(store BlobStore, e *fileindex.Entry) ([]byte, bool, error) {
	if e.BlobID.IsZero() {
		return nil, false, nil
	}
	data, err := store.ReadBlob(e.BlobID)
	if err != nil {
		return nil, false, fmt.Errorf("read base blob %s: %w", e.BlobID, err)
	}
	return data, true, nil
}

// splitForUnstage diffs base against staged and, per hunk, asks whether to
// move it back to the working file (unstage) or keep it staged (retain).
// unstaged holds base content for retained hunks and staged content for
// moved-back hunks; retained holds the opposite, so together they account
// for every hunk exactly once. A nil patch moves every hunk back.
func splitForUnstage(base, staged []byte, patch PatchFunc) (unstaged, retained []byte, err error) {
	baseLines := splitLines(base)
	stagedLines := splitLines(staged)
	ops := diff3.MyersDiff(baseLines, stagedLines)

	var unstagedOut, retainedOut bytes.Buffer
	quitting := false
	i := 0
	for i < len(ops) {
		if ops[i].Type == diff3.Equal {
			unstagedOut.WriteString(ops[i].Line)
			unstagedOut.WriteByte('\n')
			retainedOut.WriteString(ops[i].Line)
			retainedOut.WriteByte('\n')
			i++
			continue
		}

		var baseSeg, stagedSeg []string
		for i < len(ops) && ops[i].Type != diff3.Equal {
			if ops[i].Type == diff3.Delete {
				baseSeg = append(baseSeg, ops[i].Line)
			} else {
				stagedSeg = append(stagedSeg, ops[i].Line)
			}
			i++
		}

		moveBack := true
		if quitting {
			moveBack = false
		} else if patch != nil {
			choice, perr := patch(Hunk{Old: joinLines(baseSeg), New: joinLines(stagedSeg)})
			if perr != nil {
				return nil, nil, perr
			}
			switch choice {
			case Accept:
				moveBack = true
			case Reject:
				moveBack = false
			case Quit:
				moveBack = false
				quitting = true
			default:
				return nil, nil, wterr.New(wterr.PatchChoice, fmt.Errorf("unrecognized patch choice %d", choice))
			}
		}

		if moveBack {
			for _, l := range stagedSeg {
				unstagedOut.WriteString(l)
				unstagedOut.WriteByte('\n')
			}
			for _, l := range baseSeg {
				retainedOut.WriteString(l)
				retainedOut.WriteByte('\n')
			}
		} else {
			for _, l := range baseSeg {
				unstagedOut.WriteString(l)
				unstagedOut.WriteByte('\n')
			}
			for _, l := range stagedSeg {
				retainedOut.WriteString(l)
				retainedOut.WriteByte('\n')
			}
		}
	}
	return unstagedOut.Bytes(), retainedOut.Bytes(), nil
}
