package wortree

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/objstore"
	"github.com/hagenbeck/vctree/internal/status"
)

// AnnotateRenames pairs Delete/Missing entries with Add entries that carry
// byte-identical content (and the same executable bit), setting
// RenamedFrom on the Add side. Candidates within each content/mode bucket
// are paired in path-sorted order, same tie-break as the teacher's
// status-rename matcher. Symlinks are left out of matching entirely —
// comparing their resolved targets isn't worth the complexity for what's
// meant to be a display-only hint, and an unmatched rename still reports
// correctly as a plain add/delete pair.
func (w *WorkTree) AnnotateRenames(entries []Entry) error {
	type bucketKey struct {
		hash       objstore.Hash
		executable bool
	}
	deletedByKey := make(map[bucketKey][]int)
	addedByKey := make(map[bucketKey][]int)

	for i, e := range entries {
		switch e.Code {
		case status.Delete, status.Missing:
			if e.Index == nil || e.Index.FileType == fileindex.FileSymlink || e.Index.BlobID.IsZero() {
				continue
			}
			key := bucketKey{hash: e.Index.BlobID, executable: e.Index.Stat.Executable}
			deletedByKey[key] = append(deletedByKey[key], i)
		case status.Add:
			onDisk := filepath.Join(w.Root(), filepath.FromSlash(e.Path))
			info, err := os.Lstat(onDisk)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return fmt.Errorf("rename scan %q: %w", e.Path, err)
			}
			if info.Mode()&os.ModeSymlink != 0 {
				continue
			}
			data, err := os.ReadFile(onDisk)
			if err != nil {
				return fmt.Errorf("rename scan %q: %w", e.Path, err)
			}
			hash, err := w.Store.WriteBlob(&objstore.Blob{Data: data})
			if err != nil {
				return fmt.Errorf("rename scan %q: %w", e.Path, err)
			}
			key := bucketKey{hash: hash, executable: info.Mode()&0o111 != 0}
			addedByKey[key] = append(addedByKey[key], i)
		}
	}

	for key, addedIdx := range addedByKey {
		deletedIdx := deletedByKey[key]
		if len(deletedIdx) == 0 {
			continue
		}
		sort.Slice(addedIdx, func(i, j int) bool { return entries[addedIdx[i]].Path < entries[addedIdx[j]].Path })
		sort.Slice(deletedIdx, func(i, j int) bool { return entries[deletedIdx[i]].Path < entries[deletedIdx[j]].Path })

		n := len(addedIdx)
		if len(deletedIdx) < n {
			n = len(deletedIdx)
		}
		for i := 0; i < n; i++ {
			entries[addedIdx[i]].RenamedFrom = entries[deletedIdx[i]].Path
		}
	}
	return nil
}
