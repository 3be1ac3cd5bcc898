package wortree

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/wterr"
)

// Add begins tracking every untracked path under the given paths (files
// or directories), inserting a zero-base index entry for each so a
// subsequent status walk reports it as status.Add rather than
// status.Unversioned. Paths already tracked are left untouched.
func (w *WorkTree) Add(paths []string) ([]string, error) {
	root := w.Root()
	checker := w.ignoreChecker()

	var added []string
	for _, p := range paths {
		abs := filepath.Join(root, filepath.FromSlash(p))
		info, err := os.Lstat(abs)
		if err != nil {
			return nil, wterr.New(wterr.FileStatus, fmt.Errorf("add %q: %w", p, err))
		}

		if !info.IsDir() {
			if w.Index.Get(p) == nil {
				w.Index.Put(fileindex.Entry{Path: p})
				added = append(added, p)
			}
			continue
		}

		err = filepath.Walk(abs, func(cur string, fi os.FileInfo, werr error) error {
			if werr != nil {
				return werr
			}
			rel, rerr := filepath.Rel(root, cur)
			if rerr != nil {
				return rerr
			}
			rel = filepath.ToSlash(rel)
			if checker.IsIgnored(rel) {
				if fi.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if fi.IsDir() {
				return nil
			}
			if w.Index.Get(rel) == nil {
				w.Index.Put(fileindex.Entry{Path: rel})
				added = append(added, rel)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("add %q: %w", p, err)
		}
	}
	if err := w.SaveIndex(); err != nil {
		return added, err
	}
	return added, nil
}
