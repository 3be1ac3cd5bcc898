package fileindex

import (
	"fmt"
	"sort"

	"github.com/hagenbeck/vctree/internal/wterr"
)

// Index is the in-memory file index: entries keyed by path, kept
// available in sorted order so the tree-diff walk (C5) sees paths
// deterministically.
type Index struct {
	byPath map[string]*Entry
}

// New returns an empty index, as created by work-tree init.
func New() *Index {
	return &Index{byPath: make(map[string]*Entry)}
}

// Add inserts a new entry. Re-adding an existing path is an error; use Get
// plus in-place field mutation to update one.
func (idx *Index) Add(e Entry) error {
	if _, exists := idx.byPath[e.Path]; exists {
		return wterr.New(wterr.BadPath, fmt.Errorf("path %q already indexed", e.Path))
	}
	cp := e
	idx.byPath[e.Path] = &cp
	return nil
}

// Put inserts or overwrites the entry for e.Path.
func (idx *Index) Put(e Entry) {
	cp := e
	idx.byPath[e.Path] = &cp
}

// Get returns the entry at path, or nil if untracked.
func (idx *Index) Get(path string) *Entry {
	return idx.byPath[path]
}

// Remove deletes the entry at path. A no-op if the path is not tracked.
func (idx *Index) Remove(path string) {
	delete(idx.byPath, path)
}

// Len returns the number of tracked paths.
func (idx *Index) Len() int { return len(idx.byPath) }

// Paths returns every tracked path in sorted order.
func (idx *Index) Paths() []string {
	paths := make([]string, 0, len(idx.byPath))
	for p := range idx.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Each calls fn for every entry in sorted path order. fn may mutate the
// index (add, remove, or replace entries); Each snapshots the path list up
// front so it tolerates that without skipping or revisiting paths.
func (idx *Index) Each(fn func(*Entry) error) error {
	for _, p := range idx.Paths() {
		e, ok := idx.byPath[p]
		if !ok {
			continue // removed by a previous iteration step
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// MarkDeletedFromDisk flags path as deleted-from-disk without removing it
// from the index, used during journaled deletions so a crash mid-delete
// can be reconciled on the next status walk.
func (idx *Index) MarkDeletedFromDisk(path string) {
	if e, ok := idx.byPath[path]; ok {
		e.DeletedFromDisk = true
	}
}
