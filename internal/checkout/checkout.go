// Package checkout implements applying a target tree to the work tree
// (C7), mediated by blob-id comparisons between the file index and the
// target tree, the tree diff driver, and the file merger's install
// primitives.
package checkout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/merge"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/pathutil"
	"github.com/hagenbeck/vctree/internal/treediff"
)

// ObjectStore is the subset of objstore.Store checkout needs: reading
// blobs to install and trees to flatten.
type ObjectStore interface {
	ReadBlob(h objstore.Hash) ([]byte, error)
	ReadTree(h objstore.Hash) (*objstore.Tree, error)
}

// BaseCommitSetter is the subset of meta.Store checkout needs to re-plant
// the protective base-commit reference after a successful checkout.
type BaseCommitSetter interface {
	SetBaseCommit(id objstore.Hash) error
}

// EventKind classifies one progress notification emitted during checkout.
type EventKind int

const (
	EventInstalled EventKind = iota
	EventRemoved
	EventBumpBase
	EventBaseRefErr
)

// Event is one progress notification; Progress may be nil.
type Event struct {
	Kind EventKind
	Path string
	Err  error
}

// Progress receives Event notifications; a nil Progress is legal.
type Progress func(Event)

func emit(p Progress, e Event) {
	if p != nil {
		p(e)
	}
}

// Files applies targetTree to the work tree rooted at wtRoot, scoped to
// paths (an empty slice means the whole tree). idx is mutated in place;
// the caller is responsible for persisting it (fileindex.Save) under the
// exclusive lock once Files returns.
//
// Steps, matching §4.7: resolve each request, run the tree diff driver
// over the index against the flattened target tree invoking the file
// merger to create/update files and the index to add/update entries,
// bump every affected entry's commit-id to newCommitID, and attempt to
// re-plant the base-commit reference (downgraded to a progress event on
// failure rather than aborting, so read-only repositories still check
// out).
func Files(store ObjectStore, base BaseCommitSetter, idx *fileindex.Index, wtRoot string, targetTree objstore.Hash, newCommitID objstore.Hash, paths []string, cancel treediff.Cancel, progress Progress) error {
	flat, err := treediff.Flatten(store, targetTree)
	if err != nil {
		return fmt.Errorf("checkout: flatten target tree: %w", err)
	}

	scope := func(p string) bool {
		if len(paths) == 0 {
			return true
		}
		for _, want := range paths {
			if p == want || pathutil.IsChild(p, want) {
				return true
			}
		}
		return false
	}

	var trees []treediff.TreeEntry
	for _, t := range flat {
		if scope(t.Path) {
			trees = append(trees, t)
		}
	}

	var entries []*fileindex.Entry
	for _, p := range idx.Paths() {
		if scope(p) {
			entries = append(entries, idx.Get(p))
		}
	}

	bumped := make(map[string]bool)

	err = treediff.Walk(entries, trees, treediff.Callbacks{
		Cancel: cancel,
		OldNew: func(e *fileindex.Entry, tree treediff.TreeEntry, parent string) error {
			if e.BlobID == tree.BlobHash && e.FileType != fileindex.FileBadSymlink {
				bumped[e.Path] = true
				return nil
			}
			if err := install(wtRoot, store, tree, progress); err != nil {
				return err
			}
			e.BlobID = tree.BlobHash
			e.Stage = fileindex.StageNone
			e.StagedBlobID = ""
			idx.Put(*e)
			bumped[e.Path] = true
			return nil
		},
		Old: func(e *fileindex.Entry, parent string) error {
			absPath := filepath.Join(wtRoot, filepath.FromSlash(e.Path))
			if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("checkout: remove %q: %w", e.Path, err)
			}
			idx.Remove(e.Path)
			emit(progress, Event{Kind: EventRemoved, Path: e.Path})
			return nil
		},
		New: func(tree treediff.TreeEntry, parent string) error {
			if err := install(wtRoot, store, tree, progress); err != nil {
				return err
			}
			ft := fileindex.FileRegular
			if tree.Mode == objstore.ModeSymlink {
				ft = fileindex.FileSymlink
			}
			idx.Put(fileindex.Entry{
				Path:     tree.Path,
				BlobID:   tree.BlobHash,
				CommitID: newCommitID,
				FileType: ft,
			})
			bumped[tree.Path] = true
			return nil
		},
	})
	if err != nil {
		return err
	}

	for path := range bumped {
		e := idx.Get(path)
		if e == nil {
			continue
		}
		e.CommitID = newCommitID
		idx.Put(*e)
		emit(progress, Event{Kind: EventBumpBase, Path: path})
	}

	if base != nil {
		if err := base.SetBaseCommit(newCommitID); err != nil {
			emit(progress, Event{Kind: EventBaseRefErr, Err: err})
		}
	}

	return nil
}

func install(wtRoot string, store ObjectStore, tree treediff.TreeEntry, progress Progress) error {
	absPath := filepath.Join(wtRoot, filepath.FromSlash(tree.Path))

	if tree.Mode == objstore.ModeSymlink {
		data, err := store.ReadBlob(tree.BlobHash)
		if err != nil {
			return fmt.Errorf("checkout: read symlink blob for %q: %w", tree.Path, err)
		}
		if _, err := merge.InstallSymlink(wtRoot, tree.Path, string(data)); err != nil {
			return fmt.Errorf("checkout: install symlink %q: %w", tree.Path, err)
		}
		emit(progress, Event{Kind: EventInstalled, Path: tree.Path})
		return nil
	}

	data, err := store.ReadBlob(tree.BlobHash)
	if err != nil {
		return fmt.Errorf("checkout: read blob for %q: %w", tree.Path, err)
	}
	if err := merge.InstallBlob(absPath, data, tree.Mode == objstore.ModeExecutable); err != nil {
		return fmt.Errorf("checkout: install %q: %w", tree.Path, err)
	}
	emit(progress, Event{Kind: EventInstalled, Path: tree.Path})
	return nil
}
