package treediff

import (
	"fmt"
	"path"

	"github.com/hagenbeck/vctree/internal/objstore"
)

// TreeReader is the subset of objstore.Store the flattener needs; the
// driver depends on it rather than a concrete store so it can be tested
// against an in-memory fixture.
type TreeReader interface {
	ReadTree(h objstore.Hash) (*objstore.Tree, error)
}

// Flatten walks a tree recursively, returning every blob entry with its
// full repo-relative path. Tree entries whose TreeHash is empty (a
// submodule boundary left un-recursed by the object-store collaborator)
// are skipped, per spec.md §4.4's "submodule tree entries are skipped".
func Flatten(r TreeReader, h objstore.Hash) ([]TreeEntry, error) {
	var out []TreeEntry
	if h.IsZero() {
		return out, nil
	}
	if err := flattenInto(r, h, "", &out); err != nil {
		return nil, err
	}
	return SortTreeEntries(out), nil
}

func flattenInto(r TreeReader, h objstore.Hash, prefix string, out *[]TreeEntry) error {
	tr, err := r.ReadTree(h)
	if err != nil {
		return fmt.Errorf("flatten tree %s: %w", h, err)
	}

	for _, e := range tr.Entries {
		full := e.Name
		if prefix != "" {
			full = path.Join(prefix, e.Name)
		}

		if e.IsDir {
			if e.TreeHash.IsZero() {
				continue // submodule boundary
			}
			if err := flattenInto(r, e.TreeHash, full, out); err != nil {
				return err
			}
			continue
		}

		*out = append(*out, TreeEntry{
			Path:     full,
			Mode:     e.Mode,
			BlobHash: e.BlobHash,
		})
	}
	return nil
}

// BuildTree writes a tree object (recursively, one per directory level)
// from a flat, sorted set of file entries and returns the root hash.
// Empty directories produce no tree entry: a subtree that would end up
// with zero children is simply omitted from its parent, matching
// spec.md §8's "tree entry dropped from parent" invariant for commit.
func BuildTree(w TreeWriter, entries []TreeEntry) (objstore.Hash, error) {
	return buildTreeDir(w, entries, "")
}

// TreeWriter is the subset of objstore.Store BuildTree needs.
type TreeWriter interface {
	WriteTree(t *objstore.Tree) (objstore.Hash, error)
}

func buildTreeDir(w TreeWriter, entries []TreeEntry, prefix string) (objstore.Hash, error) {
	files := make(map[string]TreeEntry)
	subdirPaths := make(map[string][]TreeEntry)

	for _, e := range entries {
		rel := e.Path
		if prefix != "" {
			if len(rel) <= len(prefix)+1 || rel[:len(prefix)+1] != prefix+"/" {
				continue
			}
			rel = rel[len(prefix)+1:]
		}

		slash := -1
		for i := 0; i < len(rel); i++ {
			if rel[i] == '/' {
				slash = i
				break
			}
		}
		if slash < 0 {
			files[rel] = e
			continue
		}
		childName := rel[:slash]
		subdirPaths[childName] = append(subdirPaths[childName], e)
	}

	names := make([]string, 0, len(files)+len(subdirPaths))
	seen := make(map[string]bool)
	for name := range files {
		names = append(names, name)
		seen[name] = true
	}
	for name := range subdirPaths {
		if !seen[name] {
			names = append(names, name)
		}
	}
	sortStrings(names)

	var treeEntries []objstore.TreeEntry
	for _, name := range names {
		if f, isFile := files[name]; isFile {
			treeEntries = append(treeEntries, objstore.TreeEntry{
				Name:     name,
				IsDir:    false,
				Mode:     f.Mode,
				BlobHash: f.BlobHash,
			})
			continue
		}

		childPrefix := name
		if prefix != "" {
			childPrefix = prefix + "/" + name
		}
		subHash, err := buildTreeDir(w, entries, childPrefix)
		if err != nil {
			return "", fmt.Errorf("build tree %q: %w", childPrefix, err)
		}
		if subHash.IsZero() {
			continue // subtree emptied out entirely: drop it from the parent
		}
		treeEntries = append(treeEntries, objstore.TreeEntry{
			Name:     name,
			IsDir:    true,
			Mode:     objstore.ModeDir,
			TreeHash: subHash,
		})
	}

	if len(treeEntries) == 0 && prefix != "" {
		return objstore.Hash(""), nil
	}

	h, err := w.WriteTree(&objstore.Tree{Entries: treeEntries})
	if err != nil {
		return "", fmt.Errorf("write tree %q: %w", prefix, err)
	}
	return h, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
