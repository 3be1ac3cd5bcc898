package status

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/ignore"
)

// Entry is one line of a full work-tree status report.
type Entry struct {
	Path string
	Code Code
}

// Report walks root (skipping the dot-directory and anything the ignore
// file excludes), classifies every path that is either on disk or in idx,
// and returns a path-sorted report. Entries whose classification asked
// for a fingerprint refresh are written back into idx so later calls can
// short-circuit on stat alone.
func Report(store BlobReader, idx *fileindex.Index, root string) ([]Entry, error) {
	ic := ignore.New(root)

	onDisk := make(map[string]bool)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if ic.IsIgnored(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			onDisk[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("status report: walk: %w", err)
	}

	paths := make(map[string]bool, len(onDisk))
	for p := range onDisk {
		paths[p] = true
	}
	for _, p := range idx.Paths() {
		paths[p] = true
	}

	entries := make([]Entry, 0, len(paths))
	for p := range paths {
		e := idx.Get(p)
		res, err := Classify(store, e, filepath.Join(root, filepath.FromSlash(p)))
		if err != nil {
			return nil, fmt.Errorf("status report: classify %q: %w", p, err)
		}
		if res.RefreshEntry && e != nil {
			e.Stat = res.Fingerprint
			idx.Put(*e)
		}
		entries = append(entries, Entry{Path: p, Code: res.Code})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
