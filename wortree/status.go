package wortree

import (
	"os"
	"path/filepath"

	"github.com/hagenbeck/vctree/internal/fileindex"
	"github.com/hagenbeck/vctree/internal/pathutil"
	"github.com/hagenbeck/vctree/internal/status"
)

// Entry is one reported path from Status: either a tracked index entry
// classified against its on-disk state, or an untracked on-disk file
// with no corresponding index entry at all (Code == status.Unversioned,
// Index == nil).
type Entry struct {
	Path  string
	Code  status.Code
	Index *fileindex.Entry

	// RenamedFrom is set by a following AnnotateRenames call when this
	// Add entry's content matches a Delete/Missing entry's last-known
	// blob byte-for-byte. Status itself never populates it — rename
	// detection reads the on-disk file a second time and is worth
	// paying for only when a caller asks for it explicitly.
	RenamedFrom string
}

// Status classifies every path in scope (an empty scope means the whole
// work tree): tracked paths via status.Classify, and on-disk files with
// no index entry as status.Unversioned. Paths matched by .vctreeignore
// and the dot-directory are never walked.
func (w *WorkTree) Status(scope []string) ([]Entry, error) {
	root := w.Root()
	within := scopeFunc(scope)

	var out []Entry
	seen := make(map[string]bool)

	for _, p := range w.Index.Paths() {
		if !within(p) {
			continue
		}
		e := w.Index.Get(p)
		onDiskPath := filepath.Join(root, filepath.FromSlash(p))
		res, err := status.Classify(w.blobs, e, onDiskPath)
		if err != nil {
			return nil, err
		}
		if res.Code == status.NoChange && res.RefreshEntry {
			e.Stat = res.Fingerprint
			w.Index.Put(*e)
		}
		out = append(out, Entry{Path: p, Code: res.Code, Index: e})
		seen[p] = true
	}

	checker := w.ignoreChecker()
	walkRoot := root
	if len(scope) == 1 && within(scope[0]) {
		walkRoot = filepath.Join(root, filepath.FromSlash(scope[0]))
	}
	err := filepath.Walk(walkRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel, rerr := filepath.Rel(root, p)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if checker.IsIgnored(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if seen[rel] || !within(rel) {
			return nil
		}
		out = append(out, Entry{Path: rel, Code: status.Unversioned})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func scopeFunc(paths []string) func(string) bool {
	if len(paths) == 0 {
		return func(string) bool { return true }
	}
	return func(p string) bool {
		for _, want := range paths {
			if p == want || pathutil.IsChild(p, want) {
				return true
			}
		}
		return false
	}
}
