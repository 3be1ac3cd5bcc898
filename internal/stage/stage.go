// Package stage implements the stage/unstage operation (C10): recording a
// subset of a path's pending change — optionally down to individual
// diff hunks — as a staged blob the commit pipeline will prefer over the
// work tree's raw on-disk content, and reversing that decision later.
package stage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hagenbeck/vctree/internal/diff3"
	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/status"
	"github.com/hagenbeck/vctree/internal/wterr"
)

// BlobStore is the subset of objstore.Store stage/unstage needs.
type BlobStore interface {
	WriteBlob(b *objstore.Blob) (objstore.Hash, error)
	ReadBlob(h objstore.Hash) ([]byte, error)
}

// Choice is a patch callback's answer for one hunk.
type Choice int

const (
	Reject Choice = iota
	Accept
	Quit // stop reviewing; this hunk and every later one are rejected
)

// Hunk is one contiguous region of difference offered to a patch callback.
// Old is the region's content before the candidate change, New after.
type Hunk struct {
	Old []byte
	New []byte
}

// PatchFunc is the per-hunk callback; nil means "take the whole file".
type PatchFunc func(h Hunk) (Choice, error)

// Result reports what Stage or Unstage did to one path.
type Result struct {
	Path    string
	Changed bool
}

// Stage records changes for every path in paths as staged. Pre-flight
// rejects any path whose status is conflict (wterr.Conflicts) or whose
// path names neither an index entry nor an on-disk file
// (wterr.FileStatus). For modify/add paths a non-nil patch drives
// per-hunk accept/reject against the staged-or-base content, assembling
// the accepted hunks into a fresh staged blob; a nil patch stages the
// whole file. Delete paths set the delete stage code with no blob. At
// least one path must actually change or the call fails wterr.NoChanges.
func Stage(store BlobStore, idx *fileindex.Index, wtRoot string, paths []string, patch PatchFunc) ([]Result, error) {
	var results []Result
	for _, p := range paths {
		e := idx.Get(p)
		onDiskPath := filepath.Join(wtRoot, filepath.FromSlash(p))

		if e == nil {
			if _, err := os.Lstat(onDiskPath); err != nil {
				if os.IsNotExist(err) {
					return nil, wterr.New(wterr.FileStatus, fmt.Errorf("path %q is not tracked and does not exist", p))
				}
				return nil, fmt.Errorf("stage %q: %w", p, err)
			}
			continue // untracked file on disk: nothing in the index to stage
		}

		res, err := status.Classify(store, e, onDiskPath)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", p, err)
		}

		switch res.Code {
		case status.Conflict:
			return nil, wterr.New(wterr.Conflicts, fmt.Errorf("path %q has unresolved conflict markers", p))
		case status.Delete, status.Missing:
			e.Stage = fileindex.StageDelete
			e.StagedBlobID = ""
			idx.Put(*e)
			results = append(results, Result{Path: p, Changed: true})
		case status.Modify, status.Add, status.ModeChange:
			changed, err := stageContent(store, e, onDiskPath, res, patch)
			if err != nil {
				return nil, fmt.Errorf("stage %q: %w", p, err)
			}
			idx.Put(*e)
			results = append(results, Result{Path: p, Changed: changed})
		}
	}

	any := false
	for _, r := range results {
		if r.Changed {
			any = true
			break
		}
	}
	if !any {
		return nil, wterr.New(wterr.NoChanges, nil)
	}
	return results, nil
}

func stageContent(store BlobStore, e *fileindex.Entry, onDiskPath string, res status.Result, patch PatchFunc) (bool, error) {
	current, isSymlink, err := readOnDisk(onDiskPath)
	if err != nil {
		return false, err
	}

	oldContent, hasOld, err := priorContent(store, e)
	if err != nil {
		return false, err
	}

	var finalContent []byte
	if patch == nil {
		finalContent = current
	} else {
		finalContent, err = reviewHunks(oldContent, current, patch)
		if err != nil {
			return false, err
		}
	}

	if hasOld && bytes.Equal(finalContent, oldContent) {
		return false, nil // nothing new selected relative to what was already staged/base
	}

	blobHash, err := store.WriteBlob(&objstore.Blob{Data: finalContent})
	if err != nil {
		return false, fmt.Errorf("write staged blob: %w", err)
	}

	wasAdd := e.BlobID.IsZero() && e.StagedBlobID.IsZero()
	e.StagedBlobID = blobHash
	if wasAdd {
		e.Stage = fileindex.StageAdd
	} else {
		e.Stage = fileindex.StageModify
	}

	e.FileType = detectFileType(isSymlink, e.FileType)
	if bytes.Equal(finalContent, current) {
		// the staged blob now equals the on-disk file exactly, so the
		// cached fingerprint Classify just computed is safe to adopt:
		// a later status walk comparing against StagedBlobID will take
		// the fast no-change path instead of re-reading the blob. A
		// first-time add carries no fingerprint from Classify (it
		// short-circuits before computing one), so fall back to a
		// plain stat — missing the ctime fast-path field just costs
		// one extra content comparison on the next status walk.
		if res.Code == status.Add {
			if info, lerr := os.Lstat(onDiskPath); lerr == nil {
				e.Stat = fileindex.Fingerprint{
					Mtime:      info.ModTime().UnixNano(),
					Size:       info.Size(),
					Executable: !isSymlink && info.Mode()&0o111 != 0,
				}
			}
		} else {
			e.Stat = res.Fingerprint
		}
	}
	return true, nil
}

// priorContent returns the content stage should diff against: the
// already-staged blob if one exists, otherwise the recorded base blob,
// otherwise (a brand-new path) no prior content at all.
func priorContent(store BlobStore, e *fileindex.Entry) ([]byte, bool, error) {
	blobID := e.StagedBlobID
	if blobID.IsZero() {
		blobID = e.BlobID
	}
	if blobID.IsZero() {
		return nil, false, nil
	}
	data, err := store.ReadBlob(blobID)
	if err != nil {
		return nil, false, fmt.Errorf("read prior blob %s: %w", blobID, err)
	}
	return data, true, nil
}

func readOnDisk(path string) ([]byte, bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, false, fmt.Errorf("lstat %q: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return nil, true, fmt.Errorf("readlink %q: %w", path, err)
		}
		return []byte(target), true, nil
	}
	data, err := os.ReadFile(path)
	return data, false, err
}

func detectFileType(isSymlink bool, prev fileindex.FileType) fileindex.FileType {
	if isSymlink {
		return fileindex.FileSymlink
	}
	if prev == fileindex.FileBadSymlink {
		return fileindex.FileBadSymlink
	}
	return fileindex.FileRegular
}

// reviewHunks diffs old against new line-by-line, offers each contiguous
// changed region to patch, and assembles the result from accepted (new)
// or rejected (old) regions. Once patch returns Quit, that hunk and
// every later one are rejected without being offered.
func reviewHunks(old, updated []byte, patch PatchFunc) ([]byte, error) {
	oldLines := splitLines(old)
	newLines := splitLines(updated)
	ops := diff3.MyersDiff(oldLines, newLines)

	var out bytes.Buffer
	quitting := false
	i := 0
	for i < len(ops) {
		if ops[i].Type == diff3.Equal {
			out.WriteString(ops[i].Line)
			out.WriteByte('\n')
			i++
			continue
		}

		var oldSeg, newSeg []string
		for i < len(ops) && ops[i].Type != diff3.Equal {
			if ops[i].Type == diff3.Delete {
				oldSeg = append(oldSeg, ops[i].Line)
			} else {
				newSeg = append(newSeg, ops[i].Line)
			}
			i++
		}

		accept := true
		if quitting {
			accept = false
		} else {
			choice, err := patch(Hunk{Old: joinLines(oldSeg), New: joinLines(newSeg)})
			if err != nil {
				return nil, err
			}
			switch choice {
			case Accept:
				accept = true
			case Reject:
				accept = false
			case Quit:
				accept = false
				quitting = true
			default:
				return nil, wterr.New(wterr.PatchChoice, fmt.Errorf("unrecognized patch choice %d", choice))
			}
		}

		seg := newSeg
		if !accept {
			seg = oldSeg
		}
		for _, l := range seg {
			out.WriteString(l)
			out.WriteByte('\n')
		}
	}
	return out.Bytes(), nil
}

func splitLines(data []byte) []string {
	s := string(data)
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func joinLines(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}
