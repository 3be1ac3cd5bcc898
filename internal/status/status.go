// Package status implements the decision engine (C4) that classifies a
// single work-tree path into a status code by comparing on-disk state
// against a file-index entry and, indirectly, the object store.
package status

import (
	"bytes"
	"fmt"
	"os"

	"github.com/hagenbeck/vctree/internal/diff3"
	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/objstore"
)

// Code is one value from the closed status vocabulary.
type Code int

const (
	NoChange Code = iota
	Modify
	Add
	Delete
	Conflict
	Missing
	Unversioned
	Obstructed
	NonExistent
	ModeChange
	Merge
	BaseRefErr
	BumpBase
	CannotDelete
	CannotUpdate
	MergeConflict
	Revert
)

var codeNames = map[Code]string{
	NoChange:      "no-change",
	Modify:        "modify",
	Add:           "add",
	Delete:        "delete",
	Conflict:      "conflict",
	Missing:       "missing",
	Unversioned:   "unversioned",
	Obstructed:    "obstructed",
	NonExistent:   "non-existent",
	ModeChange:    "mode-change",
	Merge:         "merge",
	BaseRefErr:    "base-ref-err",
	BumpBase:      "bump-base",
	CannotDelete:  "cannot-delete",
	CannotUpdate:  "cannot-update",
	MergeConflict: "merge-conflict",
	Revert:        "revert",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("status.Code(%d)", int(c))
}

// BlobReader is the subset of objstore.Store Classify needs to fetch
// recorded content for comparison.
type BlobReader interface {
	ReadBlob(h objstore.Hash) ([]byte, error)
}

// Result is what Classify returns: the decided code, and — on a clean
// stat-fingerprint match or a freshly-synced content match — the
// fingerprint that should be written back into the index.
type Result struct {
	Code         Code
	Fingerprint  fileindex.Fingerprint
	RefreshEntry bool
}

// Classify implements the §4.5 decision order for one path. entry is nil
// when no file-index record exists for onDiskPath.
func Classify(store BlobReader, entry *fileindex.Entry, onDiskPath string) (Result, error) {
	info, err := os.Lstat(onDiskPath)
	if err != nil {
		if os.IsNotExist(err) {
			if entry != nil && !entry.DeletedFromDisk {
				return Result{Code: Missing}, nil
			}
			return Result{Code: Delete}, nil
		}
		return Result{}, fmt.Errorf("status: lstat %q: %w", onDiskPath, err)
	}

	mode := info.Mode()
	isSymlink := mode&os.ModeSymlink != 0
	if !mode.IsRegular() && !isSymlink {
		return Result{Code: Obstructed}, nil
	}

	if entry == nil {
		return Result{Code: Unversioned}, nil
	}

	if entry.DeletedFromDisk {
		return Result{Code: Delete}, nil
	}

	blobID := entry.BlobID
	if entry.Stage == fileindex.StageAdd || entry.Stage == fileindex.StageModify {
		blobID = entry.StagedBlobID
	}
	if blobID.IsZero() && entry.StagedBlobID.IsZero() {
		return Result{Code: Add}, nil
	}

	newFP := fingerprintFromFileInfo(info)

	if newFP == entry.Stat {
		return Result{Code: NoChange, Fingerprint: newFP}, nil
	}

	wantSymlink := entry.FileType == fileindex.FileSymlink
	if isSymlink != wantSymlink {
		return Result{Code: Modify, Fingerprint: newFP}, nil
	}

	onDisk, err := readContent(onDiskPath, isSymlink)
	if err != nil {
		return Result{}, fmt.Errorf("status: read %q: %w", onDiskPath, err)
	}

	recorded, err := store.ReadBlob(blobID)
	if err != nil {
		return Result{}, fmt.Errorf("status: read blob %s: %w", blobID, err)
	}

	if bytes.Equal(onDisk, recorded) {
		if newFP.Executable == entry.Stat.Executable {
			return Result{Code: NoChange, Fingerprint: newFP, RefreshEntry: true}, nil
		}
		return Result{Code: ModeChange, Fingerprint: newFP, RefreshEntry: true}, nil
	}

	if !isSymlink && diff3.HasConflictMarkers(onDisk) {
		return Result{Code: Conflict, Fingerprint: newFP}, nil
	}

	return Result{Code: Modify, Fingerprint: newFP}, nil
}

func readContent(path string, isSymlink bool) ([]byte, error) {
	if isSymlink {
		target, err := os.Readlink(path)
		if err != nil {
			return nil, err
		}
		return []byte(target), nil
	}
	return os.ReadFile(path)
}
