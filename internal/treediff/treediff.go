// Package treediff walks a sorted file index against a sorted repository
// tree (or, for the directory-walk variant, the on-disk work tree) in
// lockstep, emitting callbacks for paths present on one side only and for
// matching pairs. The walk is single-threaded, deterministic, and
// cancellable at each step.
package treediff

import (
	"sort"

	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/objstore"
)

// TreeEntry is one entry the driver compares against an index entry; it
// mirrors the fields of objstore.TreeEntry but carries its full relative
// path rather than just a name, since the driver flattens the tree before
// walking.
type TreeEntry struct {
	Path     string
	IsDir    bool
	Mode     string
	BlobHash objstore.Hash
	TreeHash objstore.Hash
}

// Cancel is checked at every step; a true return aborts the walk.
type Cancel func() bool

// Callbacks bundles the three-callback shape spec.md names for both the
// index-vs-tree walk and the index-vs-disk directory walk.
type Callbacks struct {
	// OldNew fires for a path present on both sides.
	OldNew func(entry *fileindex.Entry, tree TreeEntry, parentPath string) error
	// Old fires for a path present only in the index.
	Old func(entry *fileindex.Entry, parentPath string) error
	// New fires for a path present only in the tree/disk side.
	New func(tree TreeEntry, parentPath string) error
	// Traverse fires once per directory entered, so ignore-pattern state
	// can be pushed/popped around it; only used by the directory walk.
	Traverse func(dirPath string) error

	Cancel Cancel
}

// ErrCancelled is returned by Walk when the Cancel callback reports true.
type ErrCancelled struct{}

func (ErrCancelled) Error() string { return "treediff: walk cancelled" }

// Walk drives entries (sorted by Path) against trees (sorted by Path),
// skipping submodule entries (TreeHash empty and IsDir false is a blob;
// a dir entry with no children recorded is a submodule boundary the
// caller is expected to have already excluded from trees).
func Walk(entries []*fileindex.Entry, trees []TreeEntry, cb Callbacks) error {
	ei, ti := 0, 0
	for ei < len(entries) || ti < len(trees) {
		if cb.Cancel != nil && cb.Cancel() {
			return ErrCancelled{}
		}

		switch {
		case ei >= len(entries):
			if err := fireNew(cb, trees[ti]); err != nil {
				return err
			}
			ti++
		case ti >= len(trees):
			if err := fireOld(cb, entries[ei]); err != nil {
				return err
			}
			ei++
		case entries[ei].Path == trees[ti].Path:
			if cb.OldNew != nil {
				if err := cb.OldNew(entries[ei], trees[ti], parentOf(entries[ei].Path)); err != nil {
					return err
				}
			}
			ei++
			ti++
		case entries[ei].Path < trees[ti].Path:
			if err := fireOld(cb, entries[ei]); err != nil {
				return err
			}
			ei++
		default:
			if err := fireNew(cb, trees[ti]); err != nil {
				return err
			}
			ti++
		}
	}
	return nil
}

func fireOld(cb Callbacks, e *fileindex.Entry) error {
	if cb.Old == nil {
		return nil
	}
	return cb.Old(e, parentOf(e.Path))
}

func fireNew(cb Callbacks, t TreeEntry) error {
	if cb.New == nil {
		return nil
	}
	return cb.New(t, parentOf(t.Path))
}

func parentOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return ""
}

// SortTreeEntries returns a copy of entries sorted by Path, the order the
// walk requires.
func SortTreeEntries(entries []TreeEntry) []TreeEntry {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	return sorted
}
